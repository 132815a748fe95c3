package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/model"
	"github.com/iliyamo/bundle-store/internal/repository"
	"github.com/iliyamo/bundle-store/internal/utils"
)

const minPasswordLen = 6

var phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// Principal is the verified identity behind a session token.
type Principal struct {
	UserID uint64
	Role   string
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool { return p.Role == model.RoleAdmin }

// Session is returned by Register and Login.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

// RegisterInput is the typed registration command.
type RegisterInput struct {
	LoginKey    string
	Password    string
	DisplayName *string
}

// SessionConfig configures token signing and password hashing.
type SessionConfig struct {
	Secret     string
	TTLDays    int
	BcryptCost int
}

// Sessions issues and verifies bearer tokens.
type Sessions struct {
	users    *repository.UserRepo
	cfg      SessionConfig
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time
}

// NewSessions returns a session issuer over users.
func NewSessions(users *repository.UserRepo, cfg SessionConfig, log zerolog.Logger) *Sessions {
	return &Sessions{
		users:    users,
		cfg:      cfg,
		validate: validator.New(),
		log:      log.With().Str("component", "sessions").Logger(),
		now:      time.Now,
	}
}

// ValidLoginKey reports whether key is an email address or a phone number.
func (s *Sessions) ValidLoginKey(key string) bool {
	key = repository.NormalizeLoginKey(key)
	if key == "" {
		return false
	}
	if strings.Contains(key, "@") {
		return s.validate.Var(key, "email") == nil
	}
	return phonePattern.MatchString(key)
}

// Register creates a user account and returns a fresh session.
func (s *Sessions) Register(ctx context.Context, in RegisterInput) (Session, error) {
	if !s.ValidLoginKey(in.LoginKey) {
		return Session{}, fmt.Errorf("%w: login key must be an email or phone number", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			in.DisplayName = nil
		} else {
			in.DisplayName = &name
		}
	}

	hash, err := utils.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.users.Create(ctx, repository.NewUser{
		LoginKey:     in.LoginKey,
		PasswordHash: hash,
		DisplayName:  in.DisplayName,
		Role:         model.RoleUser,
	})
	if errors.Is(err, repository.ErrLoginKeyExists) {
		return Session{}, ErrDuplicateIdentity
	}
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	s.log.Info().Uint64("user_id", u.ID).Msg("user registered")
	return s.issue(u)
}

// Login verifies a credential pair.  Unknown login keys and wrong
// passwords fail identically.
func (s *Sessions) Login(ctx context.Context, loginKey, password string) (Session, error) {
	u, err := s.users.GetByLoginKey(ctx, loginKey)
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(u)
}

// Verify checks a bearer token without touching storage.
func (s *Sessions) Verify(raw string) (Principal, error) {
	claims, err := utils.ParseSessionToken(s.cfg.Secret, raw)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: id, Role: claims.Role}, nil
}

// RequireRole returns ErrForbidden unless p holds one of roles.
func RequireRole(p Principal, roles ...string) error {
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

// Me returns the caller's profile.
func (s *Sessions) Me(ctx context.Context, userID uint64) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// CreateAdmin creates an admin account, or promotes and re-keys an
// existing account with the same login key.
func (s *Sessions) CreateAdmin(ctx context.Context, loginKey, password string) (model.User, error) {
	if !s.ValidLoginKey(loginKey) || len(password) < minPasswordLen {
		return model.User{}, ErrInvalidInput
	}
	hash, err := utils.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return model.User{}, err
	}
	id, err := s.users.Create(ctx, repository.NewUser{LoginKey: loginKey, PasswordHash: hash, Role: model.RoleAdmin})
	if errors.Is(err, repository.ErrLoginKeyExists) {
		u, err := s.users.GetByLoginKey(ctx, loginKey)
		if err != nil {
			return model.User{}, err
		}
		if err := s.users.SetAdminCredentials(ctx, u.ID, hash); err != nil {
			return model.User{}, err
		}
		id = u.ID
	} else if err != nil {
		return model.User{}, err
	}
	s.log.Info().Uint64("user_id", id).Msg("admin account ready")
	return s.users.GetByID(ctx, id)
}

func (s *Sessions) issue(u model.User) (Session, error) {
	tok, err := utils.NewSessionToken(s.cfg.Secret, u.ID, u.Role, s.cfg.TTLDays, s.now())
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	return Session{Token: tok.Token, ExpiresAt: tok.Exp, User: u}, nil
}
