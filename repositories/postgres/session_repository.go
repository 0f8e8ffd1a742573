package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
)

const sessionColumns = `id, user_id, access_jti, device_label, ip, user_agent, created_at, last_seen_at`

// SessionRepository implements the repositories.SessionRepository interface
type SessionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB, logger *zap.Logger) repositories.SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a new session
func (r *SessionRepository) Create(ctx context.Context, session *models.ActiveSession) error {
	query := `
		INSERT INTO active_sessions (id, user_id, access_jti, device_label, ip, user_agent, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.AccessJTI,
		session.DeviceLabel,
		session.IP,
		session.UserAgent,
		session.CreatedAt,
		session.LastSeenAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Debug("session created", zap.String("id", session.ID.String()), zap.String("user_id", session.UserID.String()))
	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ActiveSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM active_sessions WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	session := &models.ActiveSession{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.AccessJTI,
		&session.DeviceLabel,
		&session.IP,
		&session.UserAgent,
		&session.CreatedAt,
		&session.LastSeenAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session: %w", repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// GetByUserID lists a user's sessions, most recently seen first
func (r *SessionRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.ActiveSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM active_sessions
		WHERE user_id = $1
		ORDER BY last_seen_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.ActiveSession
	for rows.Next() {
		session := &models.ActiveSession{}
		err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.AccessJTI,
			&session.DeviceLabel,
			&session.IP,
			&session.UserAgent,
			&session.CreatedAt,
			&session.LastSeenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}

// TouchByAccessJTI advances last_seen_at for the session behind a token
func (r *SessionRepository) TouchByAccessJTI(ctx context.Context, jti uuid.UUID) error {
	query := `UPDATE active_sessions SET last_seen_at = CURRENT_TIMESTAMP WHERE access_jti = $1`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, jti); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	return nil
}

// DeleteByID removes a single session
func (r *SessionRepository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM active_sessions WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, repositories.ErrNotFound)
	}

	r.logger.Debug("session deleted", zap.String("id", id.String()))
	return nil
}

// DeleteByAccessJTI removes the session bound to a token
func (r *SessionRepository) DeleteByAccessJTI(ctx context.Context, jti uuid.UUID) error {
	query := `DELETE FROM active_sessions WHERE access_jti = $1`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, jti); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// DeleteByUserID removes all sessions for a user
func (r *SessionRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM active_sessions WHERE user_id = $1`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}

	r.logger.Debug("user sessions deleted", zap.String("user_id", userID.String()))
	return nil
}

// DeleteOrphaned removes sessions whose access token no longer exists
func (r *SessionRepository) DeleteOrphaned(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM active_sessions
		WHERE access_jti NOT IN (SELECT jti FROM active_access_tokens)
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
