package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sentryflow/sentryflow/pkg/domain/usage"
	"github.com/sentryflow/sentryflow/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
)

const flushRetryDelay = time.Second

// MessageSource abstracts the broker subscription. ReadMessage returns
// (nil, nil) on an empty poll; Commit advances the offsets of everything
// read so far.
type MessageSource interface {
	ReadMessage(timeout time.Duration) ([]byte, error)
	Commit() error
}

// BatchConsumer drains both usage channels into fixed-size batches and
// bulk-writes them to the raw event store. Delivery is at-least-once:
// offsets are committed only after a successful flush, and a failed flush
// retries the same accumulated batch instead of discarding it.
type BatchConsumer struct {
	source        MessageSource
	store         usage.Repository
	batchSize     int
	flushInterval time.Duration
	pollTimeout   time.Duration
	logger        *logrus.Logger

	batch     []usage.Event
	lastFlush time.Time
}

func NewBatchConsumer(
	source MessageSource,
	store usage.Repository,
	batchSize int,
	flushInterval time.Duration,
	pollTimeout time.Duration,
	logger *logrus.Logger,
) *BatchConsumer {
	return &BatchConsumer{
		source:        source,
		store:         store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		pollTimeout:   pollTimeout,
		logger:        logger,
		batch:         make([]usage.Event, 0, batchSize),
	}
}

// Run drains messages until ctx is cancelled. A final flush is attempted on
// shutdown so an almost-full batch is not stranded.
func (c *BatchConsumer) Run(ctx context.Context) error {
	c.lastFlush = time.Now()
	c.logger.WithFields(logrus.Fields{
		"batch_size":     c.batchSize,
		"flush_interval": c.flushInterval.String(),
	}).Info("batch consumer started")

	for {
		select {
		case <-ctx.Done():
			if len(c.batch) > 0 {
				if err := c.flush(context.Background()); err != nil {
					c.logger.WithError(err).Error("final flush failed, batch dropped")
				}
			}
			c.logger.Info("batch consumer stopped")
			return ctx.Err()
		default:
		}

		payload, err := c.source.ReadMessage(c.pollTimeout)
		if err != nil {
			c.logger.WithError(err).Warn("failed to read from broker")
			continue
		}
		if payload != nil {
			c.ingest(payload)
		}

		if c.shouldFlush() {
			c.flushWithRetry(ctx)
		}
	}
}

func (c *BatchConsumer) ingest(payload []byte) {
	var event usage.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.WithError(err).Warn("dropping malformed usage event")
		return
	}
	metrics.EventsConsumed.Inc()
	c.batch = append(c.batch, event)
}

func (c *BatchConsumer) shouldFlush() bool {
	if len(c.batch) >= c.batchSize {
		return true
	}
	// flush-on-timer fallback so a low-traffic channel cannot strand a
	// partial batch indefinitely
	return len(c.batch) > 0 && time.Since(c.lastFlush) >= c.flushInterval
}

func (c *BatchConsumer) flushWithRetry(ctx context.Context) {
	for {
		err := c.flush(ctx)
		if err == nil {
			return
		}
		c.logger.WithError(err).WithField("batch_len", len(c.batch)).
			Error("batch flush failed, retrying same batch")

		select {
		case <-ctx.Done():
			return
		case <-time.After(flushRetryDelay):
		}
	}
}

func (c *BatchConsumer) flush(ctx context.Context) error {
	if err := c.store.InsertEvents(ctx, c.batch); err != nil {
		return err
	}
	if err := c.source.Commit(); err != nil {
		// the batch is durable; a commit failure only risks re-delivery,
		// which at-least-once semantics already accept
		c.logger.WithError(err).Warn("offset commit failed after flush")
	}
	metrics.BatchesFlushed.Inc()
	c.logger.WithField("events", len(c.batch)).Debug("batch flushed")
	c.batch = c.batch[:0]
	c.lastFlush = time.Now()
	return nil
}
