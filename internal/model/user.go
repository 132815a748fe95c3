package model

import "time"

// Role names stored in users.role and carried in the session token.
const (
    RoleUser  = "USER"
    RoleAdmin = "ADMIN"
)

// User represents a registrant as stored in the `users` table.  The
// entitlement fields are only ever written by the payment verifier, in
// the same transaction that marks one of the user's orders as paid.
//
// Fields:
//  ID           – primary key identifier (also the JWT subject).
//  LoginKey     – unique, trimmed and lower-cased email or phone number.
//  PasswordHash – bcrypt hashed password.
//  DisplayName  – optional name shown in the admin listing.
//  Role         – USER or ADMIN.
//  Entitled     – true once any order of the user is paid.
//  EntitledAt   – when the entitlement was granted (nullable).
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
    ID           uint64     `json:"id"`                     // users.id
    LoginKey     string     `json:"login_key"`              // users.login_key
    PasswordHash string     `json:"-"`                      // users.password_hash
    DisplayName  *string    `json:"display_name,omitempty"` // users.display_name (nullable)
    Role         string     `json:"role"`                   // users.role
    Entitled     bool       `json:"entitled"`               // users.entitled
    EntitledAt   *time.Time `json:"entitled_at,omitempty"`  // users.entitled_at (nullable)
    CreatedAt    time.Time  `json:"created_at"`             // users.created_at
    UpdatedAt    time.Time  `json:"updated_at"`             // users.updated_at
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }
