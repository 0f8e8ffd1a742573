package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/timekeeperhq/timekeeper/models"
)

// ErrNotFound is returned when a requested row does not exist. Callers that
// need to distinguish absence from infrastructure failure test with errors.Is.
var ErrNotFound = errors.New("not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles user data operations. Personal fields pass through
// unchanged; encryption is the PII codec's job, not the repository's.
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByUsername retrieves a user by username
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// GetByEmailHash retrieves a user by deterministic email digest
	GetByEmailHash(ctx context.Context, emailHash string) (*models.User, error)

	// Update updates a user's mutable fields
	Update(ctx context.Context, user *models.User) error

	// UpdatePassword replaces a user's password hash
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

// TokenRepository is the authoritative record of live access tokens. A jti
// with no row here is dead regardless of what any cache tier says.
type TokenRepository interface {
	// Insert records a newly issued token
	Insert(ctx context.Context, token *models.ActiveAccessToken) error

	// GetByJTI retrieves a token row by jti
	GetByJTI(ctx context.Context, jti uuid.UUID) (*models.ActiveAccessToken, error)

	// IsActive reports whether the jti exists and has not expired
	IsActive(ctx context.Context, jti uuid.UUID) (bool, error)

	// Delete revokes a single token
	Delete(ctx context.Context, jti uuid.UUID) error

	// DeleteByUserID revokes every token for a user, returning the revoked
	// jtis so cache entries can be invalidated
	DeleteByUserID(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// DeleteExpired removes rows past their expiry
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionRepository tracks logged-in devices alongside their access tokens
type SessionRepository interface {
	// Create records a new session
	Create(ctx context.Context, session *models.ActiveSession) error

	// GetByID retrieves a session by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.ActiveSession, error)

	// GetByUserID lists a user's sessions, most recently seen first
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.ActiveSession, error)

	// TouchByAccessJTI advances last_seen_at for the session behind a token
	TouchByAccessJTI(ctx context.Context, jti uuid.UUID) error

	// DeleteByID removes a single session
	DeleteByID(ctx context.Context, id uuid.UUID) error

	// DeleteByAccessJTI removes the session bound to a token
	DeleteByAccessJTI(ctx context.Context, jti uuid.UUID) error

	// DeleteByUserID removes all sessions for a user
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error

	// DeleteOrphaned removes sessions whose access token no longer exists
	DeleteOrphaned(ctx context.Context) (int64, error)
}

// PermissionRepository handles fine-grained grants beyond the role tiers
type PermissionRepository interface {
	// HasPermission reports whether a user holds a named permission
	HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error)

	// ListByUserID lists a user's permission grants
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]string, error)

	// Grant adds a permission to a user
	Grant(ctx context.Context, userID uuid.UUID, permission string) error

	// Revoke removes a permission from a user
	Revoke(ctx context.Context, userID uuid.UUID, permission string) error
}

// AuditFilter narrows audit log listings
type AuditFilter struct {
	From      *time.Time
	To        *time.Time
	EventType string
	ActorID   *uuid.UUID
	Result    string
	Limit     int
	Offset    int
}

// AuditRepository handles the append-only audit trail
type AuditRepository interface {
	// Insert appends a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByID retrieves an audit log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)

	// List retrieves audit logs matching the filter, newest first,
	// plus the total match count for pagination
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditLog, int, error)

	// GetByDateRange retrieves all entries inside a window, oldest first
	GetByDateRange(ctx context.Context, from, to time.Time) ([]*models.AuditLog, error)

	// DeleteBefore removes entries older than the cutoff for retention sweeps
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users       UserRepository
	Tokens      TokenRepository
	Sessions    SessionRepository
	Permissions PermissionRepository
	AuditLogs   AuditRepository
}
