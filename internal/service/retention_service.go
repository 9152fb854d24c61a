package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/depanneo/depanneo-api/internal/models"
	"github.com/depanneo/depanneo-api/pkg/jobs"
)

type retentionRequestRepo interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type subscriptionExpirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// JobTypeRetentionSweep identifies a sweep pass on the job queue.
const JobTypeRetentionSweep = "retention_sweep"

// RetentionService prunes completed requests past their retention window and
// expires lapsed subscriptions. Sweeps run as queued jobs so a slow pass never
// blocks the scheduler tick.
type RetentionService struct {
	requests retentionRequestRepo
	subs     subscriptionExpirer
	queue    jobEnqueuer
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewRetentionService constructs a RetentionService.
func NewRetentionService(requests retentionRequestRepo, subs subscriptionExpirer, queue jobEnqueuer, logger *zap.Logger) *RetentionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionService{requests: requests, subs: subs, queue: queue, logger: logger, now: time.Now}
}

// WithClock overrides the time source. Tests use it to pin "now".
func (s *RetentionService) WithClock(now func() time.Time) *RetentionService {
	s.now = now
	return s
}

// WithMetrics attaches the Prometheus counters.
func (s *RetentionService) WithMetrics(metrics *MetricsService) *RetentionService {
	s.metrics = metrics
	return s
}

// Run enqueues a sweep on every tick until the context is cancelled. An
// initial sweep is scheduled immediately so restarts do not defer pruning by
// a full interval.
func (s *RetentionService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	s.schedule()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.schedule()
		}
	}
}

func (s *RetentionService) schedule() {
	job := jobs.Job{ID: uuid.NewString(), Type: JobTypeRetentionSweep}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue retention sweep", zap.Error(err))
	}
}

// Handle executes one sweep pass. It is registered as the queue handler.
func (s *RetentionService) Handle(ctx context.Context, job jobs.Job) error {
	if job.Type != JobTypeRetentionSweep {
		s.logger.Warn("retention queue received unknown job type", zap.String("type", job.Type))
		return nil
	}
	_, err := s.Sweep(ctx)
	return err
}

// Sweep removes completed requests older than the retention window and
// expires overdue subscriptions, returning the number of pruned requests.
func (s *RetentionService) Sweep(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	cutoff := now.Add(-models.CompletedRetention)

	pruned, err := s.requests.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordPrunedRequests(pruned)
	if pruned > 0 {
		s.logger.Info("pruned expired requests",
			zap.Int64("count", pruned),
			zap.Time("cutoff", cutoff))
	}

	if s.subs != nil {
		if _, err := s.subs.ExpireOverdue(ctx); err != nil {
			s.logger.Warn("subscription expiry pass failed", zap.Error(err))
		}
	}

	return pruned, nil
}
