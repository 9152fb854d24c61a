package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DashboardSummary aggregates marketplace activity for the admin console.
type DashboardSummary struct {
	OpenRequests       int             `json:"open_requests"`
	InProgressRequests int             `json:"in_progress_requests"`
	CompletedRequests  int             `json:"completed_requests"`
	NewRequests        int             `json:"new_requests"`
	TotalRedemptions   int             `json:"total_redemptions"`
	TotalDiscounted    decimal.Decimal `json:"total_discounted"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// SystemMetrics is a lightweight snapshot of runtime counters exposed to the
// admin console alongside the Prometheus endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
