package models

import (
	"time"

	"github.com/google/uuid"
)

// ActiveSession tracks a logged-in device for the sessions list. It is keyed
// by the access token jti so a session row dies with its token.
type ActiveSession struct {
	ID          uuid.UUID `json:"id" db:"id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	AccessJTI   uuid.UUID `json:"-" db:"access_jti"`
	DeviceLabel string    `json:"device_label" db:"device_label"`
	IP          *string   `json:"ip,omitempty" db:"ip"`
	UserAgent   *string   `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// TableName returns the table name for the ActiveSession model
func (ActiveSession) TableName() string {
	return "active_sessions"
}

// NewActiveSession creates a new ActiveSession instance
func NewActiveSession(userID, accessJTI uuid.UUID, deviceLabel string) *ActiveSession {
	now := time.Now().UTC()
	return &ActiveSession{
		ID:          uuid.New(),
		UserID:      userID,
		AccessJTI:   accessJTI,
		DeviceLabel: deviceLabel,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
}
