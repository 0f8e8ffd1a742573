package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
)

const auditColumns = `id, occurred_at, actor_id, actor_type, event_type, target_type, target_id, result, error_code, metadata, ip, user_agent, request_id`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, occurred_at, actor_id, actor_type, event_type, target_type, target_id,
			result, error_code, metadata, ip, user_agent, request_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.OccurredAt,
		log.ActorID,
		log.ActorType,
		log.EventType,
		log.TargetType,
		log.TargetID,
		log.Result,
		log.ErrorCode,
		nullableJSON(log.Metadata),
		log.IP,
		log.UserAgent,
		log.RequestID,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("event_type", log.EventType))
	return nil
}

// GetByID retrieves an audit log by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	log := &models.AuditLog{}

	err := executor.QueryRowContext(ctx, query, id).Scan(scanTargets(log)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("audit log: %w", repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}

	return log, nil
}

// List retrieves audit logs matching the filter, newest first, plus the
// total match count for pagination
func (r *AuditRepository) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, int, error) {
	where, args := buildAuditWhere(filter)

	executor := GetExecutor(ctx, r.db)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_logs` + where
	if err := executor.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT `+auditColumns+` FROM audit_logs%s ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)
	args = append(args, filter.Limit, filter.Offset)

	logs, err := r.queryAuditLogs(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// GetByDateRange retrieves all entries inside a window, oldest first
func (r *AuditRepository) GetByDateRange(ctx context.Context, from, to time.Time) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE occurred_at >= $1 AND occurred_at <= $2
		ORDER BY occurred_at ASC
	`

	return r.queryAuditLogs(ctx, query, from, to)
}

// DeleteBefore removes entries older than the cutoff for retention sweeps
func (r *AuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM audit_logs WHERE occurred_at < $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		r.logger.Info("audit logs purged by retention sweep",
			zap.Int64("count", rowsAffected),
			zap.Time("cutoff", cutoff))
	}
	return rowsAffected, nil
}

// buildAuditWhere assembles the WHERE clause for a filter. Positional
// arguments are numbered from $1 in the order the conditions are added.
func buildAuditWhere(filter repositories.AuditFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(condition string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filter.From != nil {
		add("occurred_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("occurred_at <= $%d", *filter.To)
	}
	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.ActorID != nil {
		add("actor_id = $%d", *filter.ActorID)
	}
	if filter.Result != "" {
		add("result = $%d", filter.Result)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// queryAuditLogs is a helper method to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		if err := rows.Scan(scanTargets(log)...); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

func scanTargets(log *models.AuditLog) []interface{} {
	return []interface{}{
		&log.ID,
		&log.OccurredAt,
		&log.ActorID,
		&log.ActorType,
		&log.EventType,
		&log.TargetType,
		&log.TargetID,
		&log.Result,
		&log.ErrorCode,
		&log.Metadata,
		&log.IP,
		&log.UserAgent,
		&log.RequestID,
	}
}

// nullableJSON maps empty metadata to NULL instead of an empty JSONB value
func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
