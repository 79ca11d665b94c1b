package apikey_test

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	appapikey "github.com/sentryflow/sentryflow/pkg/app/apikey"
	"github.com/sentryflow/sentryflow/pkg/domain"
	domainapikey "github.com/sentryflow/sentryflow/pkg/domain/apikey"
	"github.com/sentryflow/sentryflow/pkg/infra/breaker"
	"github.com/sentryflow/sentryflow/pkg/infra/cache"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepository struct {
	record   *domainapikey.APIKey
	err      error
	getCalls int32
	touched  chan string
}

func (s *stubRepository) GetActiveByKey(_ context.Context, _ string) (*domainapikey.APIKey, error) {
	atomic.AddInt32(&s.getCalls, 1)
	return s.record, s.err
}

func (s *stubRepository) TouchLastUsed(_ context.Context, key string, _ time.Time) error {
	select {
	case s.touched <- key:
	default:
	}
	return nil
}

func newStubRepository() *stubRepository {
	return &stubRepository{touched: make(chan string, 1)}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newResolver(repo domainapikey.Repository, c cache.Client) appapikey.Resolver {
	cb := breaker.NewCircuitBreaker("test", time.Second, 100)
	return appapikey.NewResolver(repo, c, cb, time.Hour, testLogger(), nil)
}

func TestResolveCacheHitSkipsStore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := newStubRepository()
	resolver := newResolver(repo, cache.NewClientFromRedis(db))

	mock.ExpectGet("apikey:k1").SetVal("user-1")

	userID, err := resolver.Resolve(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.Zero(t, atomic.LoadInt32(&repo.getCalls))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveCacheMissPopulatesCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := newStubRepository()
	repo.record = &domainapikey.APIKey{
		ID:     uuid.New(),
		Key:    "k2",
		UserID: "user-2",
		Active: true,
	}
	resolver := newResolver(repo, cache.NewClientFromRedis(db))

	mock.ExpectGet("apikey:k2").RedisNil()
	mock.ExpectSet("apikey:k2", "user-2", time.Hour).SetVal("OK")

	userID, err := resolver.Resolve(context.Background(), "k2")
	require.NoError(t, err)
	assert.Equal(t, "user-2", userID)
	assert.NoError(t, mock.ExpectationsWereMet())

	select {
	case key := <-repo.touched:
		assert.Equal(t, "k2", key)
	case <-time.After(time.Second):
		t.Fatal("last_used_at was never updated")
	}
}

func TestResolveInvalidKeyNotCached(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := newStubRepository()
	resolver := newResolver(repo, cache.NewClientFromRedis(db))

	mock.ExpectGet("apikey:bad").RedisNil()

	_, err := resolver.Resolve(context.Background(), "bad")
	require.ErrorIs(t, err, domainapikey.ErrInvalidCredential)
	assert.NoError(t, mock.ExpectationsWereMet())

	// the store goes down: a cached negative would now mask this, so the
	// second call must still reach the store and fail cleanly
	repo.err = assert.AnError
	mock.ExpectGet("apikey:bad").RedisNil()

	_, err = resolver.Resolve(context.Background(), "bad")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&repo.getCalls))
}

func TestResolveInactiveKeyInvalid(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := newStubRepository()
	repo.record = &domainapikey.APIKey{Key: "k3", UserID: "user-3", Active: false}
	resolver := newResolver(repo, cache.NewClientFromRedis(db))

	mock.ExpectGet("apikey:k3").RedisNil()

	_, err := resolver.Resolve(context.Background(), "k3")
	require.ErrorIs(t, err, domainapikey.ErrInvalidCredential)
}

func TestResolveStoreUnavailable(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := newStubRepository()
	repo.err = assert.AnError
	resolver := newResolver(repo, cache.NewClientFromRedis(db))

	mock.ExpectGet("apikey:k4").RedisNil()

	_, err := resolver.Resolve(context.Background(), "k4")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
