package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
)

// recordingAuditRepo captures inserted entries for assertions
type recordingAuditRepo struct {
	mu      sync.Mutex
	entries []*models.AuditLog
	err     error
}

func (r *recordingAuditRepo) Insert(_ context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, log)
	return nil
}

func (r *recordingAuditRepo) GetByID(_ context.Context, id uuid.UUID) (*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.ID == id {
			return entry, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *recordingAuditRepo) List(_ context.Context, _ repositories.AuditFilter) ([]*models.AuditLog, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries, len(r.entries), nil
}

func (r *recordingAuditRepo) GetByDateRange(_ context.Context, _, _ time.Time) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries, nil
}

func (r *recordingAuditRepo) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *recordingAuditRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestServiceRecordsEventsAsynchronously(t *testing.T) {
	repo := &recordingAuditRepo{}
	svc := NewService(repo, zap.NewNop(), DefaultConfig())
	require.NoError(t, svc.Start())

	entry := models.NewAuditLog("auth_login", "user").WithFailure("http_401")
	svc.RecordEvent(entry)

	require.NoError(t, svc.Stop(time.Second))
	require.Equal(t, 1, repo.count())
	assert.Equal(t, "auth_login", repo.entries[0].EventType)
	assert.Equal(t, "http_401", *repo.entries[0].ErrorCode)
}

func TestServiceDropsEventsWhenStopped(t *testing.T) {
	repo := &recordingAuditRepo{}
	svc := NewService(repo, zap.NewNop(), DefaultConfig())

	// Never started; the event is dropped, not a panic or a block
	svc.RecordEvent(models.NewAuditLog("auth_login", "user"))
	assert.Equal(t, 0, repo.count())
}

func TestServiceStopRacingRecordEvent(t *testing.T) {
	repo := &recordingAuditRepo{}
	svc := NewService(repo, zap.NewNop(), Config{BufferSize: 64, WorkerCount: 2})
	require.NoError(t, svc.Start())

	// Producers hammer the channel while Stop closes it; every event either
	// lands before the close or is dropped by the started check, never sent
	// on a closed channel
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				svc.RecordEvent(models.NewAuditLog("auth_login", "user"))
			}
		}()
	}

	require.NoError(t, svc.Stop(time.Second))
	wg.Wait()

	svc.RecordEvent(models.NewAuditLog("auth_login", "user"))
}

func TestServiceSurvivesSinkErrors(t *testing.T) {
	repo := &recordingAuditRepo{err: assert.AnError}
	svc := NewService(repo, zap.NewNop(), Config{BufferSize: 8, WorkerCount: 1})
	require.NoError(t, svc.Start())

	svc.RecordEvent(models.NewAuditLog("auth_login", "user"))
	assert.NoError(t, svc.Stop(time.Second))
}

func TestServiceStartTwiceFails(t *testing.T) {
	svc := NewService(&recordingAuditRepo{}, zap.NewNop(), DefaultConfig())
	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start())
	require.NoError(t, svc.Stop(time.Second))
}

func TestServiceReadSide(t *testing.T) {
	repo := &recordingAuditRepo{}
	svc := NewService(repo, zap.NewNop(), DefaultConfig())

	entry := models.NewAuditLog("admin_user_create", "user")
	repo.entries = append(repo.entries, entry)

	got, err := svc.GetByID(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)

	logs, total, err := svc.List(context.Background(), repositories.AuditFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, logs, 1)
}
