package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit result values
const (
	AuditResultSuccess = "success"
	AuditResultFailure = "failure"
)

// Audit actor types
const (
	ActorTypeUser      = "user"
	ActorTypeAnonymous = "anonymous"
)

// AuditLog represents one append-only compliance trail entry. Rows are never
// mutated or deleted by the application outside of retention sweeps.
type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	OccurredAt time.Time       `json:"occurred_at" db:"occurred_at"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	ActorType  string          `json:"actor_type" db:"actor_type"`
	EventType  string          `json:"event_type" db:"event_type"`
	TargetType string          `json:"target_type,omitempty" db:"target_type"`
	TargetID   string          `json:"target_id,omitempty" db:"target_id"`
	Result     string          `json:"result" db:"result"`
	ErrorCode  *string         `json:"error_code,omitempty" db:"error_code"`
	Metadata   json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	IP         *string         `json:"ip,omitempty" db:"ip"`
	UserAgent  *string         `json:"user_agent,omitempty" db:"user_agent"`
	RequestID  string          `json:"request_id" db:"request_id"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(eventType, targetType string) *AuditLog {
	return &AuditLog{
		ID:         uuid.New(),
		OccurredAt: time.Now().UTC(),
		ActorType:  ActorTypeAnonymous,
		EventType:  eventType,
		TargetType: targetType,
		Result:     AuditResultSuccess,
	}
}

// WithActor sets the acting user
func (a *AuditLog) WithActor(userID uuid.UUID) *AuditLog {
	a.ActorID = &userID
	a.ActorType = ActorTypeUser
	return a
}

// WithTarget sets the target id captured from the request path
func (a *AuditLog) WithTarget(targetID string) *AuditLog {
	a.TargetID = targetID
	return a
}

// WithFailure marks the entry failed with an error code
func (a *AuditLog) WithFailure(errorCode string) *AuditLog {
	a.Result = AuditResultFailure
	a.ErrorCode = &errorCode
	return a
}

// WithMetadata attaches structured event metadata
func (a *AuditLog) WithMetadata(metadata interface{}) *AuditLog {
	if data, err := json.Marshal(metadata); err == nil {
		a.Metadata = data
	}
	return a
}

// WithRequest sets request-scoped correlation fields
func (a *AuditLog) WithRequest(requestID string, ip, userAgent *string) *AuditLog {
	a.RequestID = requestID
	a.IP = ip
	a.UserAgent = userAgent
	return a
}
