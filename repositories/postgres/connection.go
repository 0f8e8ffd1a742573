package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Users table. full_name, email and mfa_secret hold kms envelopes,
		-- email_hash is the deterministic digest used for lookups.
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username VARCHAR(100) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			email_hash VARCHAR(64) NOT NULL DEFAULT '',
			role VARCHAR(50) NOT NULL,
			is_system_admin BOOLEAN NOT NULL DEFAULT false,
			mfa_secret TEXT NOT NULL DEFAULT '',
			mfa_enabled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Authoritative liveness record for issued access tokens
		CREATE TABLE IF NOT EXISTS active_access_tokens (
			jti UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at TIMESTAMPTZ NOT NULL,
			context VARCHAR(50) NOT NULL DEFAULT 'web',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Logged-in devices, keyed to their access token
		CREATE TABLE IF NOT EXISTS active_sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			access_jti UUID NOT NULL UNIQUE,
			device_label VARCHAR(255) NOT NULL DEFAULT '',
			ip VARCHAR(45),
			user_agent TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Fine-grained permission grants beyond the role tiers
		CREATE TABLE IF NOT EXISTS user_permissions (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			permission VARCHAR(100) NOT NULL,
			granted_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, permission)
		);

		-- Append-only audit trail
		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			actor_id UUID,
			actor_type VARCHAR(50) NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			target_type VARCHAR(100) NOT NULL DEFAULT '',
			target_id VARCHAR(255) NOT NULL DEFAULT '',
			result VARCHAR(20) NOT NULL,
			error_code VARCHAR(100),
			metadata JSONB,
			ip VARCHAR(45),
			user_agent TEXT,
			request_id VARCHAR(255) NOT NULL DEFAULT ''
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_users_email_hash ON users(email_hash);

		CREATE INDEX IF NOT EXISTS idx_active_access_tokens_user_id ON active_access_tokens(user_id);
		CREATE INDEX IF NOT EXISTS idx_active_access_tokens_expires_at ON active_access_tokens(expires_at);

		CREATE INDEX IF NOT EXISTS idx_active_sessions_user_id ON active_sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_active_sessions_access_jti ON active_sessions(access_jti);

		CREATE INDEX IF NOT EXISTS idx_audit_logs_occurred_at ON audit_logs(occurred_at);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_request_id ON audit_logs(request_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
