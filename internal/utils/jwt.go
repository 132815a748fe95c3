package utils // package utils provides helper functions for token creation and hashing

import (
    "crypto/rand"  // secure random number generation
    "encoding/hex" // hex encoding of random tokens
    "errors"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library for creating and verifying signed tokens
)

// ErrInvalidToken is returned by ParseSessionToken for any token that is
// malformed, expired, signed with another key or missing a claim.
var ErrInvalidToken = errors.New("invalid token")

// SessionToken represents a signed JWT session token along with its expiry.
// The Token field contains the JWT string sent in the Authorization header.
type SessionToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// SessionClaims are the claims carried by a session token.  Subject is the
// numeric user id; Role is "USER" or "ADMIN".
type SessionClaims struct {
    Role string `json:"role"`
    jwt.RegisteredClaims
}

// NewSessionToken builds and signs an HS256 JWT for a user.  It takes the
// signing secret, the user ID, the user's role and a TTL in days.  Session
// tokens are coarse grained and unrelated to download link lifetimes.
func NewSessionToken(secret string, userID uint64, role string, ttlDays int, now time.Time) (SessionToken, error) {
    now = now.UTC()
    exp := now.Add(time.Duration(ttlDays) * 24 * time.Hour)
    claims := SessionClaims{
        Role: role,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   fmt.Sprintf("%d", userID),
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(exp),
        },
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := t.SignedString([]byte(secret))
    if err != nil {
        return SessionToken{}, err
    }
    return SessionToken{Token: signed, Exp: exp}, nil
}

// ParseSessionToken verifies the signature and expiry of raw and returns its
// claims.  Only HMAC signing methods are accepted.
func ParseSessionToken(secret, raw string) (SessionClaims, error) {
    var claims SessionClaims
    tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
        }
        return []byte(secret), nil
    }, jwt.WithExpirationRequired(), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
    if err != nil || !tok.Valid {
        return SessionClaims{}, ErrInvalidToken
    }
    if claims.Subject == "" || claims.Role == "" {
        return SessionClaims{}, ErrInvalidToken
    }
    return claims, nil
}

// RandomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.  It is used to produce download
// link tokens.
func RandomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}
