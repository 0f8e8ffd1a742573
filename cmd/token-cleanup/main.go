package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/timekeeperhq/timekeeper/config"
	"github.com/timekeeperhq/timekeeper/repositories/postgres"
)

// Periodic sweep over the durable stores: expired access tokens, sessions
// whose token is gone, and audit entries past retention. Meant to run from
// cron or a scheduled job.
func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() { _ = factory.Close() }()

	repos := factory.NewRepositories()

	expiredTokens, err := repos.Tokens.DeleteExpired(ctx)
	if err != nil {
		logger.Fatal("failed to delete expired tokens", zap.Error(err))
	}
	logger.Info("expired tokens removed", zap.Int64("count", expiredTokens))

	orphanedSessions, err := repos.Sessions.DeleteOrphaned(ctx)
	if err != nil {
		logger.Fatal("failed to delete orphaned sessions", zap.Error(err))
	}
	logger.Info("orphaned sessions removed", zap.Int64("count", orphanedSessions))

	if cfg.Audit.RetentionForever {
		logger.Info("audit retention set to forever, skipping purge")
		return
	}
	if cfg.Audit.RetentionDays <= 0 {
		logger.Info("audit recording disabled, nothing to purge")
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Audit.RetentionDays)
	purged, err := repos.AuditLogs.DeleteBefore(ctx, cutoff)
	if err != nil {
		logger.Fatal("failed to purge audit logs", zap.Error(err))
	}
	logger.Info("audit logs purged",
		zap.Int64("count", purged),
		zap.Time("cutoff", cutoff))
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
