package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole represents the role of a user
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleEmployee UserRole = "employee"
)

// User represents an account row. FullName, Email and MFASecret are stored as
// opaque ciphertext envelopes; repositories return them still encrypted and
// hydration through the PII codec produces the plaintext view.
type User struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Username      string     `json:"username" db:"username"`
	PasswordHash  string     `json:"-" db:"password_hash"`
	FullName      string     `json:"full_name" db:"full_name"`
	Email         string     `json:"email" db:"email"`
	EmailHash     string     `json:"-" db:"email_hash"`
	Role          UserRole   `json:"role" db:"role"`
	IsSystemAdmin bool       `json:"is_system_admin" db:"is_system_admin"`
	MFASecret     string     `json:"-" db:"mfa_secret"`
	MFAEnabledAt  *time.Time `json:"mfa_enabled_at,omitempty" db:"mfa_enabled_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User instance
func NewUser(username string, role UserRole) *User {
	now := time.Now().UTC()
	return &User{
		ID:        uuid.New(),
		Username:  username,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsAdmin returns true if the user has the admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsElevated returns true if the user may access admin surfaces:
// admin role or the system-admin flag.
func (u *User) IsElevated() bool {
	return u.IsAdmin() || u.IsSystemAdmin
}

// IsMFAEnabled returns true once MFA activation completed
func (u *User) IsMFAEnabled() bool {
	return u.MFAEnabledAt != nil
}
