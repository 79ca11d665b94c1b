package usage

import (
	"context"
	"time"
)

type Repository interface {
	// InsertEvents bulk-writes a batch of raw events.
	InsertEvents(ctx context.Context, events []Event) error
	// ListRange returns all events with timestamp in [start, end).
	ListRange(ctx context.Context, start, end time.Time) ([]Event, error)
	// InsertAggregates appends rollup rows, ignoring buckets already written.
	InsertAggregates(ctx context.Context, metrics []AggregatedMetric) error
}

// Publisher is the fire-and-forget side of the telemetry stream. Publish
// must never block the caller beyond handing the event to the broker
// client's send queue, and never surfaces failures to the request path.
type Publisher interface {
	Publish(event Event)
	Close()
}
