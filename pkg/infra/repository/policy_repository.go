package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/sentryflow/sentryflow/pkg/domain/ratelimit"
	"gorm.io/gorm"
)

type PolicyRepository struct {
	db *gorm.DB
}

func NewPolicyRepository(db *gorm.DB) ratelimit.Repository {
	return &PolicyRepository{
		db: db,
	}
}

func (r *PolicyRepository) FindFor(ctx context.Context, userID, endpoint string) (*ratelimit.Policy, error) {
	entity := new(ratelimit.Policy)
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		First(entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("policy lookup failed: %w", err)
	}
	return entity, nil
}
