package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
)

// Service handles asynchronous audit recording plus the read side used by
// the admin endpoints. Writes are fire-and-forget through a buffered channel
// and worker pool; a full buffer drops the event with a warning rather than
// slowing the request that produced it.
type Service struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *models.AuditLog
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	mu          sync.Mutex
}

// Config holds configuration for the audit service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// NewService creates a new audit service instance
func NewService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *Service {
	return &Service{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *models.AuditLog, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service
// Waits for all pending events to be processed
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	close(s.eventChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// RecordEvent enqueues an entry without blocking. The caller's request
// never waits on the trail; a full buffer means the entry is lost and the
// loss is logged.
func (s *Service) RecordEvent(entry *models.AuditLog) {
	// The lock is held across the send so Stop cannot close the channel
	// between the started check and the enqueue
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.logger.Warn("audit event dropped, service not started",
			zap.String("event_type", entry.EventType))
		return
	}

	select {
	case s.eventChan <- entry:
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("event_type", entry.EventType),
			zap.String("request_id", entry.RequestID))
	}
}

// worker processes events from the channel
func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for entry := range s.eventChan {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.auditRepo.Insert(ctx, entry); err != nil {
			s.logger.Warn("failed to record audit log",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("event_type", entry.EventType),
				zap.String("request_id", entry.RequestID))
		}
		cancel()
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// List retrieves entries matching the filter plus the total match count
func (s *Service) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, int, error) {
	return s.auditRepo.List(ctx, filter)
}

// GetByID retrieves a single entry
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	return s.auditRepo.GetByID(ctx, id)
}

// Export retrieves every entry inside the window, oldest first
func (s *Service) Export(ctx context.Context, from, to time.Time) ([]*models.AuditLog, error) {
	return s.auditRepo.GetByDateRange(ctx, from, to)
}

// DeleteBefore purges entries older than the cutoff
func (s *Service) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.auditRepo.DeleteBefore(ctx, cutoff)
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
	}
}
