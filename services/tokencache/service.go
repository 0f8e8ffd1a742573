package tokencache

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
)

// Service answers token liveness questions with a cache-aside layout.
// Postgres is authoritative; redis is an optional fast tier. A cache hit is
// trusted outright, everything else falls through to the durable store. The
// durable store deciding "dead" always wins, no matter what the cache says.
type Service struct {
	cache  *RedisCache
	tokens repositories.TokenRepository
	logger *zap.Logger
}

// NewService creates a token cache service. Pass a nil cache to run with
// the fast tier disabled; every check then goes straight to the repository.
func NewService(cache *RedisCache, tokens repositories.TokenRepository, logger *zap.Logger) *Service {
	return &Service{
		cache:  cache,
		tokens: tokens,
		logger: logger,
	}
}

// CacheEnabled reports whether the fast tier is wired in
func (s *Service) CacheEnabled() bool {
	return s.cache != nil
}

// IsActive reports whether the jti refers to a live token. Cache errors are
// never fatal; they demote the check to the durable path.
func (s *Service) IsActive(ctx context.Context, jti uuid.UUID) (bool, error) {
	// Without a fast tier there is nothing to backfill, so an existence
	// probe is enough and the row fetch is skipped
	if s.cache == nil {
		return s.tokens.IsActive(ctx, jti)
	}

	found, err := s.cache.Get(ctx, jti)
	if err != nil {
		s.logger.Warn("token cache read failed, falling back to database",
			zap.String("jti", jti.String()),
			zap.Error(err))
	} else if found {
		return true, nil
	}

	token, err := s.tokens.GetByJTI(ctx, jti)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if token.IsExpired() {
		return false, nil
	}

	// Backfill so the next check hits the fast tier. Failure here only
	// costs the next caller a database round trip.
	if err := s.cache.Put(ctx, token); err != nil {
		s.logger.Warn("token cache backfill failed",
			zap.String("jti", jti.String()),
			zap.Error(err))
	}

	return true, nil
}

// Record stores a freshly issued token: durable row first, cache second.
// Priming the cache is best effort since the backfill path covers misses.
func (s *Service) Record(ctx context.Context, token *models.ActiveAccessToken) error {
	if err := s.tokens.Insert(ctx, token); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, token); err != nil {
			s.logger.Warn("token cache prime failed",
				zap.String("jti", token.JTI.String()),
				zap.Error(err))
		}
	}

	return nil
}

// Revoke kills a single token. The durable delete must succeed; a cache
// invalidation failure is surfaced too, since a stale positive entry would
// keep the token usable until its TTL runs out.
func (s *Service) Revoke(ctx context.Context, jti, userID uuid.UUID) error {
	if err := s.tokens.Delete(ctx, jti); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, jti, userID); err != nil {
			return err
		}
	}

	return nil
}

// RevokeUser kills every token for a user and returns the revoked jtis
func (s *Service) RevokeUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	jtis, err := s.tokens.DeleteByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.DeleteUser(ctx, userID, jtis); err != nil {
			return jtis, err
		}
	}

	return jtis, nil
}
