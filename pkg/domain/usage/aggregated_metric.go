package usage

import (
	"time"

	"github.com/google/uuid"
)

// AggregatedMetric is one precomputed rollup row per (interval, subject,
// resource, bucket). The unique index makes re-aggregating a bucket a no-op
// instead of duplicating rows.
type AggregatedMetric struct {
	ID              uuid.UUID `json:"-" gorm:"type:uuid;primaryKey"`
	BucketStart     time.Time `json:"bucket_start" gorm:"uniqueIndex:idx_agg_bucket,priority:4"`
	IntervalMinutes int       `json:"interval_minutes" gorm:"uniqueIndex:idx_agg_bucket,priority:1"`
	UserID          string    `json:"user_id" gorm:"uniqueIndex:idx_agg_bucket,priority:2;size:36"`
	Endpoint        string    `json:"endpoint" gorm:"uniqueIndex:idx_agg_bucket,priority:3;size:255"`
	RequestCount    int64     `json:"request_count"`
	ErrorCount      int64     `json:"error_count"`
	ThrottledCount  int64     `json:"throttled_count"`
	AvgResponseTime float64   `json:"avg_response_time"`
	P95ResponseTime float64   `json:"p95_response_time"`
	P99ResponseTime float64   `json:"p99_response_time"`
}

func (AggregatedMetric) TableName() string {
	return "api_usage_aggregated"
}
