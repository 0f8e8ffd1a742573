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

// TokenRepository implements the repositories.TokenRepository interface
type TokenRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB, logger *zap.Logger) repositories.TokenRepository {
	return &TokenRepository{
		db:     db,
		logger: logger,
	}
}

// Insert records a newly issued token
func (r *TokenRepository) Insert(ctx context.Context, token *models.ActiveAccessToken) error {
	query := `
		INSERT INTO active_access_tokens (jti, user_id, expires_at, context, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		token.JTI,
		token.UserID,
		token.ExpiresAt,
		token.Context,
		token.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert access token: %w", err)
	}

	r.logger.Debug("access token recorded", zap.String("jti", token.JTI.String()), zap.String("user_id", token.UserID.String()))
	return nil
}

// GetByJTI retrieves a token row by jti
func (r *TokenRepository) GetByJTI(ctx context.Context, jti uuid.UUID) (*models.ActiveAccessToken, error) {
	query := `
		SELECT jti, user_id, expires_at, context, created_at
		FROM active_access_tokens
		WHERE jti = $1
	`

	executor := GetExecutor(ctx, r.db)
	token := &models.ActiveAccessToken{}

	err := executor.QueryRowContext(ctx, query, jti).Scan(
		&token.JTI,
		&token.UserID,
		&token.ExpiresAt,
		&token.Context,
		&token.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("access token: %w", repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	return token, nil
}

// IsActive reports whether the jti exists and has not expired
func (r *TokenRepository) IsActive(ctx context.Context, jti uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM active_access_tokens
			WHERE jti = $1 AND expires_at > CURRENT_TIMESTAMP
		)
	`

	executor := GetExecutor(ctx, r.db)
	var active bool
	if err := executor.QueryRowContext(ctx, query, jti).Scan(&active); err != nil {
		return false, fmt.Errorf("failed to check access token: %w", err)
	}

	return active, nil
}

// Delete revokes a single token
func (r *TokenRepository) Delete(ctx context.Context, jti uuid.UUID) error {
	query := `DELETE FROM active_access_tokens WHERE jti = $1`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, jti); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}

	r.logger.Debug("access token revoked", zap.String("jti", jti.String()))
	return nil
}

// DeleteByUserID revokes every token for a user, returning the revoked jtis
func (r *TokenRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `DELETE FROM active_access_tokens WHERE user_id = $1 RETURNING jti`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete user access tokens: %w", err)
	}
	defer rows.Close()

	var jtis []uuid.UUID
	for rows.Next() {
		var jti uuid.UUID
		if err := rows.Scan(&jti); err != nil {
			return nil, fmt.Errorf("failed to scan revoked jti: %w", err)
		}
		jtis = append(jtis, jti)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revoked jti rows: %w", err)
	}

	r.logger.Debug("user access tokens revoked",
		zap.String("user_id", userID.String()),
		zap.Int("count", len(jtis)))
	return jtis, nil
}

// DeleteExpired removes rows past their expiry
func (r *TokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM active_access_tokens WHERE expires_at <= CURRENT_TIMESTAMP`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired access tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
