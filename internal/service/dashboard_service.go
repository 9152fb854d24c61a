package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/depanneo/depanneo-api/internal/models"
	appErrors "github.com/depanneo/depanneo-api/pkg/errors"
)

type requestCounter interface {
	CountByStatus(ctx context.Context) (map[models.RequestStatus]int, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
}

type usageTotaler interface {
	UsageTotals(ctx context.Context) (int, decimal.Decimal, error)
}

const dashboardSummaryCacheKey = "dashboard:summary"

// DashboardService composes the admin console summary from request counts and
// the redemption ledger.
type DashboardService struct {
	requests requestCounter
	promos   usageTotaler
	cache    *CacheService
	logger   *zap.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(requests requestCounter, promos usageTotaler, cache *CacheService, logger *zap.Logger, cacheTTL time.Duration) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 2 * time.Minute
	}
	return &DashboardService{
		requests: requests,
		promos:   promos,
		cache:    cache,
		logger:   logger,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests use it to pin "now".
func (s *DashboardService) WithClock(now func() time.Time) *DashboardService {
	s.now = now
	return s
}

// Summary returns marketplace activity counters, served from cache when warm.
// The new-request count uses the same recency window the listing badges use.
func (s *DashboardService) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	if s.cache.Enabled() {
		var cached models.DashboardSummary
		hit, err := s.cache.Get(ctx, dashboardSummaryCacheKey, &cached)
		if err == nil && hit {
			return &cached, nil
		}
	}

	now := s.now().UTC()

	counts, err := s.requests.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count requests")
	}

	newCount, err := s.requests.CountCreatedSince(ctx, now.Add(-models.NewRequestWindow))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count recent requests")
	}

	redemptions, discounted, err := s.promos.UsageTotals(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to total redemptions")
	}

	summary := &models.DashboardSummary{
		OpenRequests:       counts[models.RequestStatusOpen],
		InProgressRequests: counts[models.RequestStatusInProgress],
		CompletedRequests:  counts[models.RequestStatusCompleted],
		NewRequests:        newCount,
		TotalRedemptions:   redemptions,
		TotalDiscounted:    discounted,
		GeneratedAt:        now,
	}

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, dashboardSummaryCacheKey, summary, s.cacheTTL); err != nil {
			s.logger.Warn("dashboard summary cache write failed", zap.Error(err))
		}
	}

	return summary, nil
}
