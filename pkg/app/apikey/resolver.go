package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sentryflow/sentryflow/pkg/common"
	"github.com/sentryflow/sentryflow/pkg/domain"
	domainapikey "github.com/sentryflow/sentryflow/pkg/domain/apikey"
	"github.com/sentryflow/sentryflow/pkg/infra/breaker"
	"github.com/sentryflow/sentryflow/pkg/infra/cache"
	"github.com/sirupsen/logrus"
)

const touchTimeout = 5 * time.Second

//go:generate mockery --name=Resolver --dir=. --output=./mocks --filename=apikey_resolver_mock.go --case=underscore --with-expecter
type Resolver interface {
	// Resolve maps an api key to its subject id. Returns
	// ErrInvalidCredential for unknown or inactive keys and
	// ErrStoreUnavailable when the persistent store cannot be reached.
	Resolve(ctx context.Context, apiKey string) (string, error)
}

type resolver struct {
	repo         domainapikey.Repository
	cache        cache.Client
	breaker      breaker.CircuitBreaker
	ttl          time.Duration
	logger       *logrus.Logger
	timeProvider func() time.Time
}

type Opts struct {
	TimeProvider func() time.Time
}

func NewResolver(
	repository domainapikey.Repository,
	c cache.Client,
	cb breaker.CircuitBreaker,
	ttl time.Duration,
	logger *logrus.Logger,
	opts *Opts,
) Resolver {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &resolver{
		repo:         repository,
		cache:        c,
		breaker:      cb,
		ttl:          ttl,
		logger:       logger,
		timeProvider: timeProvider,
	}
}

func (r *resolver) Resolve(ctx context.Context, apiKey string) (string, error) {
	cacheKey := fmt.Sprintf(common.ApiKeyCachePattern, apiKey)

	userID, err := r.cache.Get(ctx, cacheKey)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, redis.Nil) {
		// cache outage degrades to a store lookup, it is not fatal
		r.logger.WithError(err).Warn("credential cache read failed")
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.repo.GetActiveByKey(ctx, apiKey)
	})
	if err != nil {
		return "", fmt.Errorf("%w: credential store lookup: %v", domain.ErrStoreUnavailable, err)
	}

	entity, ok := result.(*domainapikey.APIKey)
	if !ok || entity == nil || !entity.IsValid() {
		// negative results are never cached so newly issued keys are
		// visible on their first use
		return "", domainapikey.ErrInvalidCredential
	}

	r.touchLastUsed(entity.Key)

	if err := r.cache.Set(ctx, cacheKey, entity.UserID, r.ttl); err != nil {
		r.logger.WithError(err).Warn("failed to populate credential cache")
	}

	return entity.UserID, nil
}

// touchLastUsed records key usage off the request path.
func (r *resolver) touchLastUsed(key string) {
	at := r.timeProvider().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := r.repo.TouchLastUsed(ctx, key, at); err != nil {
			r.logger.WithError(err).Debug("failed to update last_used_at")
		}
	}()
}
