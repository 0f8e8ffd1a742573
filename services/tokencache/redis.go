package tokencache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/config"
	"github.com/timekeeperhq/timekeeper/models"
)

const (
	tokenKeyPrefix   = "token:"
	userTokensPrefix = "user_tokens:"
	userTokensSlack  = time.Minute
)

// RedisCache is the fast tier for token liveness checks. Entries carry a TTL
// clamped to the token's remaining lifetime so a cache entry can never
// outlive the token it vouches for.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient creates a redis client from configuration
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
}

// NewRedisCache creates a new redis-backed token cache
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		logger: logger,
	}
}

func tokenKey(jti uuid.UUID) string {
	return tokenKeyPrefix + jti.String()
}

func userTokensKey(userID uuid.UUID) string {
	return userTokensPrefix + userID.String()
}

// Get reports whether the jti has a live cache entry
func (c *RedisCache) Get(ctx context.Context, jti uuid.UUID) (bool, error) {
	err := c.client.Get(ctx, tokenKey(jti)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read token cache: %w", err)
	}
	return true, nil
}

// Put primes the cache for a token. Expired tokens are never written.
func (c *RedisCache) Put(ctx context.Context, token *models.ActiveAccessToken) error {
	ttl := token.RemainingTTL()
	if ttl <= 0 {
		return nil
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(token.JTI), token.UserID.String(), ttl)
		pipe.SAdd(ctx, userTokensKey(token.UserID), token.JTI.String())
		// Keep the membership set alive slightly past the longest token so
		// bulk revocation can still find stragglers.
		pipe.Expire(ctx, userTokensKey(token.UserID), ttl+userTokensSlack)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to prime token cache: %w", err)
	}
	return nil
}

// Delete drops a single token entry
func (c *RedisCache) Delete(ctx context.Context, jti, userID uuid.UUID) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tokenKey(jti))
		pipe.SRem(ctx, userTokensKey(userID), jti.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate token cache: %w", err)
	}
	return nil
}

// DeleteUser drops every cached token for a user. It unions the jtis the
// durable store reported revoked with whatever the membership set still
// holds, so neither side's drift leaves a live entry behind.
func (c *RedisCache) DeleteUser(ctx context.Context, userID uuid.UUID, jtis []uuid.UUID) error {
	members, err := c.client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to list cached user tokens: %w", err)
	}

	keys := make(map[string]struct{}, len(jtis)+len(members))
	for _, jti := range jtis {
		keys[tokenKeyPrefix+jti.String()] = struct{}{}
	}
	for _, member := range members {
		keys[tokenKeyPrefix+member] = struct{}{}
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key := range keys {
			pipe.Del(ctx, key)
		}
		pipe.Del(ctx, userTokensKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate user token cache: %w", err)
	}
	return nil
}

// HealthCheck pings the redis server
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
