package telemetry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/sentryflow/sentryflow/pkg/domain/usage"
	"github.com/sentryflow/sentryflow/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
)

// Aggregator folds the raw event store into rollups at each configured
// granularity. It runs on its own period, independent of the batch
// consumer; the two communicate only through the stores.
type Aggregator struct {
	store         usage.Repository
	granularities []int
	period        time.Duration
	logger        *logrus.Logger
	timeProvider  func() time.Time
}

type AggregatorOpts struct {
	TimeProvider func() time.Time
}

func NewAggregator(
	store usage.Repository,
	granularities []int,
	period time.Duration,
	logger *logrus.Logger,
	opts *AggregatorOpts,
) *Aggregator {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &Aggregator{
		store:         store,
		granularities: granularities,
		period:        period,
		logger:        logger,
		timeProvider:  timeProvider,
	}
}

// Run executes one aggregation cycle per period until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.WithFields(logrus.Fields{
		"granularities": a.granularities,
		"period":        a.period.String(),
	}).Info("aggregation engine started")

	ticker := time.NewTicker(a.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("aggregation engine stopped")
			return ctx.Err()
		case <-ticker.C:
			a.RunCycle(ctx)
		}
	}
}

// RunCycle aggregates each granularity in turn. A failure on one
// granularity is logged and does not abort its siblings or the next cycle.
func (a *Aggregator) RunCycle(ctx context.Context) {
	for _, granularity := range a.granularities {
		label := strconv.Itoa(granularity)
		if err := a.aggregateInterval(ctx, granularity); err != nil {
			metrics.AggregationCycles.WithLabelValues(label, "error").Inc()
			a.logger.WithError(err).WithField("interval_minutes", granularity).
				Error("aggregation cycle failed")
			continue
		}
		metrics.AggregationCycles.WithLabelValues(label, "ok").Inc()
	}
}

func (a *Aggregator) aggregateInterval(ctx context.Context, granularity int) error {
	interval := time.Duration(granularity) * time.Minute
	bucketStart, bucketEnd := a.completedBucket(interval)

	events, err := a.store.ListRange(ctx, bucketStart, bucketEnd)
	if err != nil {
		return fmt.Errorf("reading bucket [%s, %s): %w", bucketStart, bucketEnd, err)
	}
	if len(events) == 0 {
		return nil
	}

	rollups := a.rollUp(events, bucketStart, granularity)
	if err := a.store.InsertAggregates(ctx, rollups); err != nil {
		return fmt.Errorf("writing %d rollups for bucket %s: %w", len(rollups), bucketStart, err)
	}

	a.logger.WithFields(logrus.Fields{
		"interval_minutes": granularity,
		"bucket_start":     bucketStart,
		"groups":           len(rollups),
		"events":           len(events),
	}).Debug("bucket aggregated")
	return nil
}

// completedBucket returns the most recently completed bucket for the
// interval: [floor(now, interval) - interval, floor(now, interval)).
func (a *Aggregator) completedBucket(interval time.Duration) (time.Time, time.Time) {
	now := a.timeProvider().UTC()
	bucketEnd := now.Truncate(interval)
	return bucketEnd.Add(-interval), bucketEnd
}

type groupKey struct {
	userID   string
	endpoint string
}

func (a *Aggregator) rollUp(events []usage.Event, bucketStart time.Time, granularity int) []usage.AggregatedMetric {
	type accumulator struct {
		requests      int64
		errors        int64
		throttled     int64
		responseTimes []float64
	}

	groups := make(map[groupKey]*accumulator)
	for _, event := range events {
		key := groupKey{userID: event.UserID, endpoint: event.Endpoint}
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{}
			groups[key] = acc
		}
		acc.requests++
		if event.IsError() {
			acc.errors++
		}
		if event.IsThrottled() {
			acc.throttled++
		}
		acc.responseTimes = append(acc.responseTimes, float64(event.ResponseTime))
	}

	rollups := make([]usage.AggregatedMetric, 0, len(groups))
	for key, acc := range groups {
		sort.Float64s(acc.responseTimes)

		var sum float64
		for _, rt := range acc.responseTimes {
			sum += rt
		}

		rollups = append(rollups, usage.AggregatedMetric{
			BucketStart:     bucketStart,
			IntervalMinutes: granularity,
			UserID:          key.userID,
			Endpoint:        key.endpoint,
			RequestCount:    acc.requests,
			ErrorCount:      acc.errors,
			ThrottledCount:  acc.throttled,
			AvgResponseTime: sum / float64(len(acc.responseTimes)),
			P95ResponseTime: percentile(acc.responseTimes, 95),
			P99ResponseTime: percentile(acc.responseTimes, 99),
		})
	}
	return rollups
}

// percentile is a rank-based quantile over an already sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
