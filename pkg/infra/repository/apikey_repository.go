package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sentryflow/sentryflow/pkg/domain/apikey"
	"gorm.io/gorm"
)

type ApiKeyRepository struct {
	db *gorm.DB
}

func NewApiKeyRepository(db *gorm.DB) apikey.Repository {
	return &ApiKeyRepository{
		db: db,
	}
}

func (r *ApiKeyRepository) GetActiveByKey(ctx context.Context, key string) (*apikey.APIKey, error) {
	entity := new(apikey.APIKey)
	err := r.db.WithContext(ctx).
		Where("key = ? AND active = ?", key, true).
		First(entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("apikey lookup failed: %w", err)
	}
	return entity, nil
}

func (r *ApiKeyRepository) TouchLastUsed(ctx context.Context, key string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&apikey.APIKey{}).
		Where("key = ?", key).
		Update("last_used_at", at).Error
}
