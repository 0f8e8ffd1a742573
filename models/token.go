package models

import (
	"time"

	"github.com/google/uuid"
)

// ActiveAccessToken is the authoritative liveness record for an issued access
// token. A token is usable only while its jti row exists and has not expired;
// revocation deletes the row.
type ActiveAccessToken struct {
	JTI       uuid.UUID `json:"jti" db:"jti"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Context   string    `json:"context" db:"context"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the ActiveAccessToken model
func (ActiveAccessToken) TableName() string {
	return "active_access_tokens"
}

// NewActiveAccessToken creates a new ActiveAccessToken instance
func NewActiveAccessToken(jti, userID uuid.UUID, expiresAt time.Time, context string) *ActiveAccessToken {
	return &ActiveAccessToken{
		JTI:       jti,
		UserID:    userID,
		ExpiresAt: expiresAt,
		Context:   context,
		CreatedAt: time.Now().UTC(),
	}
}

// IsExpired returns true once the token passed its expiry
func (t *ActiveAccessToken) IsExpired() bool {
	return time.Now().UTC().After(t.ExpiresAt)
}

// RemainingTTL returns the time left until expiry, clamped at zero.
// Used when priming the cache tier so a cache entry never outlives the token.
func (t *ActiveAccessToken) RemainingTTL() time.Duration {
	remaining := time.Until(t.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
