package tokencache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
)

// fakeTokenRepo is an in-memory stand-in for the durable token store.
// It is safe for concurrent use so tests can race lookups against revokes.
type fakeTokenRepo struct {
	mu            sync.Mutex
	tokens        map[uuid.UUID]*models.ActiveAccessToken
	isActiveCalls int
	err           error
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[uuid.UUID]*models.ActiveAccessToken)}
}

func (f *fakeTokenRepo) Insert(_ context.Context, token *models.ActiveAccessToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tokens[token.JTI] = token
	return nil
}

func (f *fakeTokenRepo) GetByJTI(_ context.Context, jti uuid.UUID) (*models.ActiveAccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	token, ok := f.tokens[jti]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return token, nil
}

func (f *fakeTokenRepo) IsActive(_ context.Context, jti uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isActiveCalls++
	token, ok := f.tokens[jti]
	return ok && !token.IsExpired(), f.err
}

func (f *fakeTokenRepo) Delete(_ context.Context, jti uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.tokens, jti)
	return nil
}

func (f *fakeTokenRepo) DeleteByUserID(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var jtis []uuid.UUID
	for jti, token := range f.tokens {
		if token.UserID == userID {
			jtis = append(jtis, jti)
			delete(f.tokens, jti)
		}
	}
	return jtis, nil
}

func (f *fakeTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, f.err
}

func newTestService(t *testing.T) (*Service, *fakeTokenRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := newFakeTokenRepo()
	svc := NewService(NewRedisCache(client, zap.NewNop()), repo, zap.NewNop())
	return svc, repo, mr
}

func liveToken(userID uuid.UUID) *models.ActiveAccessToken {
	return models.NewActiveAccessToken(uuid.New(), userID, time.Now().UTC().Add(time.Hour), "web")
}

func TestIsActiveCacheHitSkipsDatabase(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	token := liveToken(uuid.New())
	require.NoError(t, svc.Record(ctx, token))

	// Database errors are invisible while the cache entry is live
	repo.err = assert.AnError

	active, err := svc.IsActive(ctx, token.JTI)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestIsActiveMissFallsThroughAndBackfills(t *testing.T) {
	svc, repo, mr := newTestService(t)
	ctx := context.Background()

	token := liveToken(uuid.New())
	repo.tokens[token.JTI] = token

	active, err := svc.IsActive(ctx, token.JTI)
	require.NoError(t, err)
	assert.True(t, active)

	// Backfilled with a TTL bounded by the token's remaining life
	key := "token:" + token.JTI.String()
	assert.True(t, mr.Exists(key))
	ttl := mr.TTL(key)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestIsActiveUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	active, err := svc.IsActive(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestIsActiveExpiredDurableRowIsDead(t *testing.T) {
	svc, repo, mr := newTestService(t)
	ctx := context.Background()

	token := models.NewActiveAccessToken(uuid.New(), uuid.New(), time.Now().UTC().Add(-time.Minute), "web")
	repo.tokens[token.JTI] = token

	active, err := svc.IsActive(ctx, token.JTI)
	require.NoError(t, err)
	assert.False(t, active)
	assert.False(t, mr.Exists("token:"+token.JTI.String()))
}

func TestIsActiveSurvivesCacheOutage(t *testing.T) {
	svc, repo, mr := newTestService(t)
	ctx := context.Background()

	token := liveToken(uuid.New())
	repo.tokens[token.JTI] = token

	mr.SetError("connection refused")

	active, err := svc.IsActive(ctx, token.JTI)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRevokeClearsBothTiers(t *testing.T) {
	svc, repo, mr := newTestService(t)
	ctx := context.Background()

	userID := uuid.New()
	token := liveToken(userID)
	require.NoError(t, svc.Record(ctx, token))
	require.True(t, mr.Exists("token:"+token.JTI.String()))

	require.NoError(t, svc.Revoke(ctx, token.JTI, userID))

	assert.False(t, mr.Exists("token:"+token.JTI.String()))
	_, ok := repo.tokens[token.JTI]
	assert.False(t, ok)

	active, err := svc.IsActive(ctx, token.JTI)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRevokeUserClearsEveryToken(t *testing.T) {
	svc, repo, mr := newTestService(t)
	ctx := context.Background()

	userID := uuid.New()
	first := liveToken(userID)
	second := liveToken(userID)
	other := liveToken(uuid.New())
	for _, token := range []*models.ActiveAccessToken{first, second, other} {
		require.NoError(t, svc.Record(ctx, token))
	}

	jtis, err := svc.RevokeUser(ctx, userID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{first.JTI, second.JTI}, jtis)

	assert.False(t, mr.Exists("token:"+first.JTI.String()))
	assert.False(t, mr.Exists("token:"+second.JTI.String()))
	assert.False(t, mr.Exists("user_tokens:"+userID.String()))

	// Unrelated user's token stays live
	assert.True(t, mr.Exists("token:"+other.JTI.String()))
	_, ok := repo.tokens[other.JTI]
	assert.True(t, ok)
}

func TestDisabledCacheGoesStraightToDatabase(t *testing.T) {
	repo := newFakeTokenRepo()
	svc := NewService(nil, repo, zap.NewNop())
	ctx := context.Background()

	assert.False(t, svc.CacheEnabled())

	token := liveToken(uuid.New())
	require.NoError(t, svc.Record(ctx, token))

	active, err := svc.IsActive(ctx, token.JTI)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, svc.Revoke(ctx, token.JTI, token.UserID))
	active, err = svc.IsActive(ctx, token.JTI)
	require.NoError(t, err)
	assert.False(t, active)

	// Both checks took the existence probe, not the row fetch
	assert.Equal(t, 2, repo.isActiveCalls)
}

func TestConcurrentChecksRacingRevoke(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	userID := uuid.New()
	token := liveToken(userID)
	require.NoError(t, svc.Record(ctx, token))

	// Many authentications in flight while the token is being revoked.
	// Each check resolves against its own durable read; none may error.
	const checkers = 50
	errs := make(chan error, checkers+1)

	var wg sync.WaitGroup
	for i := 0; i < checkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.IsActive(ctx, token.JTI)
			errs <- err
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- svc.Revoke(ctx, token.JTI, userID)
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Once the dust settles the durable store has the last word
	_, ok := repo.tokens[token.JTI]
	assert.False(t, ok)
	active, err := svc.IsActive(ctx, token.JTI)
	require.NoError(t, err)
	assert.False(t, active)
}
