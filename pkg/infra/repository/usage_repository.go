package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sentryflow/sentryflow/pkg/domain/usage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertChunkSize = 500

type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) usage.Repository {
	return &UsageRepository{
		db: db,
	}
}

func (r *UsageRepository) InsertEvents(ctx context.Context, events []usage.Event) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].ID == uuid.Nil {
			events[i].ID = uuid.New()
		}
	}
	if err := r.db.WithContext(ctx).CreateInBatches(events, insertChunkSize).Error; err != nil {
		return fmt.Errorf("bulk insert of %d events failed: %w", len(events), err)
	}
	return nil
}

func (r *UsageRepository) ListRange(ctx context.Context, start, end time.Time) ([]usage.Event, error) {
	var events []usage.Event
	err := r.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", start, end).
		Order("timestamp").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("event range scan failed: %w", err)
	}
	return events, nil
}

func (r *UsageRepository) InsertAggregates(ctx context.Context, metrics []usage.AggregatedMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	for i := range metrics {
		if metrics[i].ID == uuid.Nil {
			metrics[i].ID = uuid.New()
		}
	}
	// The unique bucket index plus DoNothing makes re-aggregation of an
	// already processed bucket a no-op instead of a duplicate rollup.
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(metrics, insertChunkSize).Error
	if err != nil {
		return fmt.Errorf("aggregate insert failed: %w", err)
	}
	return nil
}
