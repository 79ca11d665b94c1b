package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sentryflow/sentryflow/pkg/domain"
	domainratelimit "github.com/sentryflow/sentryflow/pkg/domain/ratelimit"
)

// RedisLimiter executes the rate-limit scripts against the shared counter
// store. All gateway instances share this state; nothing is cached locally.
type RedisLimiter struct {
	client       *redis.Client
	timeProvider func() time.Time
	uuidProvider func() uuid.UUID
}

type Opts struct {
	TimeProvider func() time.Time
	UuidProvider func() uuid.UUID
}

func NewRedisLimiter(client *redis.Client, opts *Opts) *RedisLimiter {
	timeProvider := time.Now
	uuidProvider := uuid.New
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	if opts != nil && opts.UuidProvider != nil {
		uuidProvider = opts.UuidProvider
	}
	return &RedisLimiter{
		client:       client,
		timeProvider: timeProvider,
		uuidProvider: uuidProvider,
	}
}

// SlidingWindow prunes entries older than the trailing window, counts the
// rest and records the attempt only when it is admitted. Denied attempts
// leave the log untouched.
func (l *RedisLimiter) SlidingWindow(
	ctx context.Context,
	key string,
	window time.Duration,
	limit int64,
) (domainratelimit.Decision, error) {
	now := float64(l.timeProvider().UnixMilli()) / 1000.0
	member := l.uuidProvider().String()

	values, err := l.run(ctx, slidingWindowScript, key,
		now,
		int64(window.Seconds()),
		limit,
		member,
	)
	if err != nil {
		return domainratelimit.Decision{}, err
	}

	return domainratelimit.Decision{
		Allowed:   values[0] == 1,
		Remaining: values[2],
	}, nil
}

// TokenBucket refills lazily from the elapsed time since last_refill and
// deducts one token when available. Denied attempts leave state unchanged.
func (l *RedisLimiter) TokenBucket(
	ctx context.Context,
	key string,
	rate float64,
	capacity int64,
) (domainratelimit.Decision, error) {
	now := float64(l.timeProvider().UnixMilli()) / 1000.0

	values, err := l.run(ctx, tokenBucketScript, key,
		now,
		rate,
		capacity,
		1,
	)
	if err != nil {
		return domainratelimit.Decision{}, err
	}

	return domainratelimit.Decision{
		Allowed:   values[0] == 1,
		Remaining: values[1],
	}, nil
}

func (l *RedisLimiter) run(
	ctx context.Context,
	script *redis.Script,
	key string,
	args ...interface{},
) ([]int64, error) {
	result, err := script.Run(ctx, l.client, []string{key}, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: rate limit script for key %s: %v", domain.ErrStoreUnavailable, key, err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("unexpected script response for key %s: %v", key, result)
	}

	out := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script response element for key %s: %v", key, v)
		}
		out[i] = n
	}
	return out, nil
}
