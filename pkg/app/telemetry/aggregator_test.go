package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/sentryflow/sentryflow/pkg/app/telemetry"
	"github.com/sentryflow/sentryflow/pkg/domain/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAggregatorRollsUpCompletedMinute(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	store.events = []usage.Event{
		{Timestamp: day.Add(10 * time.Second), UserID: "u1", Endpoint: "/data", StatusCode: 200, ResponseTime: 50},
		{Timestamp: day.Add(20 * time.Second), UserID: "u1", Endpoint: "/data", StatusCode: 429, ResponseTime: 5},
		{Timestamp: day.Add(50 * time.Second), UserID: "u1", Endpoint: "/data", StatusCode: 500, ResponseTime: 900},
	}

	agg := telemetry.NewAggregator(store, []int{1}, time.Minute, testLogger(), &telemetry.AggregatorOpts{
		TimeProvider: fixedClock(day.Add(90 * time.Second)),
	})
	agg.RunCycle(context.Background())

	require.Len(t, store.aggregates, 1)
	metric := store.aggregates[0]
	assert.Equal(t, day, metric.BucketStart)
	assert.Equal(t, 1, metric.IntervalMinutes)
	assert.Equal(t, "u1", metric.UserID)
	assert.Equal(t, "/data", metric.Endpoint)
	assert.Equal(t, int64(3), metric.RequestCount)
	// the 429 counts as throttled, not as an error
	assert.Equal(t, int64(1), metric.ErrorCount)
	assert.Equal(t, int64(1), metric.ThrottledCount)
	assert.InDelta(t, 318.33, metric.AvgResponseTime, 0.01)
	assert.Equal(t, float64(900), metric.P95ResponseTime)
	assert.Equal(t, float64(900), metric.P99ResponseTime)
}

func TestAggregatorGroupsByUserAndEndpoint(t *testing.T) {
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	store.events = []usage.Event{
		{Timestamp: day.Add(5 * time.Second), UserID: "u1", Endpoint: "/a", StatusCode: 200, ResponseTime: 10},
		{Timestamp: day.Add(15 * time.Second), UserID: "u1", Endpoint: "/b", StatusCode: 200, ResponseTime: 20},
		{Timestamp: day.Add(25 * time.Second), UserID: "u2", Endpoint: "/a", StatusCode: 200, ResponseTime: 30},
	}

	agg := telemetry.NewAggregator(store, []int{1}, time.Minute, testLogger(), &telemetry.AggregatorOpts{
		TimeProvider: fixedClock(day.Add(time.Minute + time.Second)),
	})
	agg.RunCycle(context.Background())

	require.Len(t, store.aggregates, 3)
	for _, metric := range store.aggregates {
		assert.Equal(t, int64(1), metric.RequestCount)
	}
}

func TestAggregatorMultipleGranularities(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 7, 30, 0, time.UTC)
	store := &fakeStore{}
	// inside [12:06, 12:07) for the 1m bucket and [12:00, 12:05) for the 5m bucket
	store.events = []usage.Event{
		{Timestamp: time.Date(2026, 3, 14, 12, 6, 30, 0, time.UTC), UserID: "u1", Endpoint: "/a", StatusCode: 200, ResponseTime: 10},
		{Timestamp: time.Date(2026, 3, 14, 12, 3, 0, 0, time.UTC), UserID: "u1", Endpoint: "/a", StatusCode: 200, ResponseTime: 10},
	}

	agg := telemetry.NewAggregator(store, []int{1, 5}, time.Minute, testLogger(), &telemetry.AggregatorOpts{
		TimeProvider: fixedClock(now),
	})
	agg.RunCycle(context.Background())

	require.Len(t, store.aggregates, 2)
	byInterval := map[int]usage.AggregatedMetric{}
	for _, metric := range store.aggregates {
		byInterval[metric.IntervalMinutes] = metric
	}
	assert.Equal(t, time.Date(2026, 3, 14, 12, 6, 0, 0, time.UTC), byInterval[1].BucketStart)
	assert.Equal(t, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), byInterval[5].BucketStart)
}

func TestAggregatorIsolatesGranularityFailures(t *testing.T) {
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{aggregateErr: map[int]error{1: assert.AnError}}
	store.events = []usage.Event{
		{Timestamp: day.Add(-30 * time.Second), UserID: "u1", Endpoint: "/a", StatusCode: 200, ResponseTime: 10},
	}

	agg := telemetry.NewAggregator(store, []int{1, 5}, time.Minute, testLogger(), &telemetry.AggregatorOpts{
		TimeProvider: fixedClock(day),
	})
	agg.RunCycle(context.Background())

	// the 1m write fails, the 5m write still lands
	require.Len(t, store.aggregates, 1)
	assert.Equal(t, 5, store.aggregates[0].IntervalMinutes)
}

func TestAggregatorSkipsEmptyBuckets(t *testing.T) {
	store := &fakeStore{}
	agg := telemetry.NewAggregator(store, []int{1, 5, 60}, time.Minute, testLogger(), &telemetry.AggregatorOpts{
		TimeProvider: fixedClock(time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)),
	})
	agg.RunCycle(context.Background())
	assert.Empty(t, store.aggregates)
}

func TestPercentileRanks(t *testing.T) {
	day := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	for i := 1; i <= 100; i++ {
		store.events = append(store.events, usage.Event{
			Timestamp:    day.Add(time.Duration(i) * 100 * time.Millisecond),
			UserID:       "u1",
			Endpoint:     "/a",
			StatusCode:   200,
			ResponseTime: int64(i),
		})
	}

	agg := telemetry.NewAggregator(store, []int{1}, time.Minute, testLogger(), &telemetry.AggregatorOpts{
		TimeProvider: fixedClock(day.Add(time.Minute)),
	})
	agg.RunCycle(context.Background())

	require.Len(t, store.aggregates, 1)
	metric := store.aggregates[0]
	assert.Equal(t, float64(95), metric.P95ResponseTime)
	assert.Equal(t, float64(99), metric.P99ResponseTime)
	assert.InDelta(t, 50.5, metric.AvgResponseTime, 0.001)
}
