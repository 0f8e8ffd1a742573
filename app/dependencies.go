package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/config"
	"github.com/timekeeperhq/timekeeper/handlers"
	"github.com/timekeeperhq/timekeeper/kms"
	"github.com/timekeeperhq/timekeeper/middleware"
	"github.com/timekeeperhq/timekeeper/repositories"
	"github.com/timekeeperhq/timekeeper/repositories/postgres"
	auditsvc "github.com/timekeeperhq/timekeeper/services/audit"
	"github.com/timekeeperhq/timekeeper/services/auth"
	"github.com/timekeeperhq/timekeeper/services/pii"
	"github.com/timekeeperhq/timekeeper/services/tokencache"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users       repositories.UserRepository
	Tokens      repositories.TokenRepository
	Sessions    repositories.SessionRepository
	Permissions repositories.PermissionRepository
	AuditLogs   repositories.AuditRepository
	TxManager   repositories.TransactionManager

	// Crypto
	KMSRegistry    *kms.Registry
	PIICodec       *pii.Codec
	TokenService   *auth.TokenService
	PasswordHasher *auth.PasswordHasher

	// Token cache (nil store when the fast tier is disabled)
	TokenCacheStore *tokencache.RedisCache
	TokenCache      *tokencache.Service

	// Audit pipeline
	AuditService *auditsvc.Service

	// Middleware
	AuthMiddleware  *middleware.AuthMiddleware
	AuditMiddleware *middleware.AuditMiddleware

	// Handlers
	AuthHandler    *handlers.AuthHandler
	SessionHandler *handlers.SessionHandler
	AuditHandler   *handlers.AuditHandler
	HealthHandler  *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initCrypto(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize crypto: %w", err)
	}

	deps.initTokenCache(cfg)

	if err := deps.initAudit(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize audit pipeline: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, factory and schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.Tokens = repos.Tokens
	d.Sessions = repos.Sessions
	d.Permissions = repos.Permissions
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initCrypto builds the KMS registry, PII codec and token machinery
func (d *Dependencies) initCrypto(cfg *config.Config) error {
	registry, err := kms.NewRegistry(cfg.KMS, cfg.Auth.JWTSecret, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to build KMS registry: %w", err)
	}

	d.KMSRegistry = registry
	d.PIICodec = pii.NewCodec(registry, cfg.Auth.JWTSecret, d.Logger)
	d.TokenService = auth.NewTokenService(cfg.Auth, d.Logger)
	d.PasswordHasher = auth.NewPasswordHasher(cfg.Auth.BcryptCost)

	d.Logger.Info("crypto initialized",
		zap.String("kms_provider", cfg.KMS.ActiveProvider))

	return nil
}

// initTokenCache wires the Redis fast tier when enabled; otherwise the
// liveness service runs durable-only
func (d *Dependencies) initTokenCache(cfg *config.Config) {
	if cfg.Redis.CacheEnabled && cfg.Redis.Addr != "" {
		client := tokencache.NewRedisClient(cfg.Redis)
		d.TokenCacheStore = tokencache.NewRedisCache(client, d.Logger)
		d.Logger.Info("token cache enabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		d.Logger.Info("token cache disabled, liveness checks go to the database")
	}

	d.TokenCache = tokencache.NewService(d.TokenCacheStore, d.Tokens, d.Logger)
}

// initAudit starts the asynchronous audit recorder
func (d *Dependencies) initAudit(cfg *config.Config) error {
	d.AuditService = auditsvc.NewService(d.AuditLogs, d.Logger, auditsvc.DefaultConfig())

	if !cfg.Audit.RecordingEnabled() {
		d.Logger.Warn("audit recording disabled by retention config")
		return nil
	}

	if err := d.AuditService.Start(); err != nil {
		return err
	}
	return nil
}

// initHTTP builds middleware and handlers
func (d *Dependencies) initHTTP(cfg *config.Config) {
	userLoader := middleware.NewUserLoader(d.Users, d.PIICodec)
	d.AuthMiddleware = middleware.NewAuthMiddleware(
		d.TokenService,
		d.TokenCache,
		userLoader,
		d.Sessions,
		cfg.Auth.AccessTokenCookie,
		d.Logger,
	)
	d.AuditMiddleware = middleware.NewAuditMiddleware(
		d.AuditService,
		cfg.Audit.RecordingEnabled(),
		d.Logger,
	)

	d.AuthHandler = handlers.NewAuthHandler(
		d.Users,
		d.Sessions,
		d.TokenCache,
		d.TokenService,
		d.PasswordHasher,
		d.PIICodec,
		d.TxManager,
		cfg.Auth.AccessTokenCookie,
		cfg.IsProduction(),
		d.Logger,
	)
	d.SessionHandler = handlers.NewSessionHandler(d.Sessions, d.TokenCache, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.AuditService, d.Permissions, cfg.Audit.ExportMaxDays, d.Logger)

	var cacheChecker handlers.HealthChecker
	if d.TokenCacheStore != nil {
		cacheChecker = d.TokenCacheStore
	}
	d.HealthHandler = handlers.NewHealthHandler(d.DB, cacheChecker, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain pending audit events before the sink goes away
	if d.AuditService != nil && d.Config.Audit.RecordingEnabled() {
		if err := d.AuditService.Stop(5 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.TokenCacheStore != nil {
		if err := d.TokenCacheStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close token cache: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
