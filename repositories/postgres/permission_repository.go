package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/repositories"
)

// PermissionRepository implements the repositories.PermissionRepository interface
type PermissionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPermissionRepository creates a new permission repository
func NewPermissionRepository(db *DB, logger *zap.Logger) repositories.PermissionRepository {
	return &PermissionRepository{
		db:     db,
		logger: logger,
	}
}

// HasPermission reports whether a user holds a named permission
func (r *PermissionRepository) HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_permissions
			WHERE user_id = $1 AND permission = $2
		)
	`

	executor := GetExecutor(ctx, r.db)
	var granted bool
	if err := executor.QueryRowContext(ctx, query, userID, permission).Scan(&granted); err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}

	return granted, nil
}

// ListByUserID lists a user's permission grants
func (r *PermissionRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]string, error) {
	query := `
		SELECT permission FROM user_permissions
		WHERE user_id = $1
		ORDER BY permission
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	var permissions []string
	for rows.Next() {
		var permission string
		if err := rows.Scan(&permission); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, permission)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permission rows: %w", err)
	}

	return permissions, nil
}

// Grant adds a permission to a user
func (r *PermissionRepository) Grant(ctx context.Context, userID uuid.UUID, permission string) error {
	query := `
		INSERT INTO user_permissions (user_id, permission)
		VALUES ($1, $2)
		ON CONFLICT (user_id, permission) DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, userID, permission); err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}

	r.logger.Debug("permission granted",
		zap.String("user_id", userID.String()),
		zap.String("permission", permission))
	return nil
}

// Revoke removes a permission from a user
func (r *PermissionRepository) Revoke(ctx context.Context, userID uuid.UUID, permission string) error {
	query := `DELETE FROM user_permissions WHERE user_id = $1 AND permission = $2`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, userID, permission); err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}

	r.logger.Debug("permission revoked",
		zap.String("user_id", userID.String()),
		zap.String("permission", permission))
	return nil
}
