package middleware_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sentryflow/sentryflow/pkg/app/admission"
	"github.com/sentryflow/sentryflow/pkg/common"
	"github.com/sentryflow/sentryflow/pkg/config"
	"github.com/sentryflow/sentryflow/pkg/domain"
	"github.com/sentryflow/sentryflow/pkg/domain/apikey"
	domainratelimit "github.com/sentryflow/sentryflow/pkg/domain/ratelimit"
	"github.com/sentryflow/sentryflow/pkg/domain/usage"
	infraRatelimit "github.com/sentryflow/sentryflow/pkg/infra/ratelimit"
	"github.com/sentryflow/sentryflow/pkg/server"
	"github.com/sentryflow/sentryflow/pkg/server/middleware"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, key string) (string, error) {
	if key == "valid" {
		return "user-1", nil
	}
	return "", apikey.ErrInvalidCredential
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []usage.Event
}

func (p *recordingPublisher) Publish(event usage.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) all() []usage.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]usage.Event, len(p.events))
	copy(out, p.events)
	return out
}

type stubPolicies struct{}

func (stubPolicies) FindFor(_ context.Context, _, _ string) (*domainratelimit.Policy, error) {
	return nil, nil
}

type failingController struct{}

func (failingController) CheckAndConsume(_ context.Context, _, _ string) (domainratelimit.Decision, error) {
	return domainratelimit.Decision{}, fmt.Errorf("%w: redis timeout", domain.ErrStoreUnavailable)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newGateway(t *testing.T, controller admission.Controller, publisher usage.Publisher, failOpen bool) *server.Server {
	t.Helper()
	log := testLogger()
	return server.NewServer(
		config.ServerConfig{Host: "127.0.0.1", Port: 0},
		log,
		middleware.NewAuthMiddleware(stubResolver{}, log),
		middleware.NewUsageMiddleware(publisher, log, nil),
		middleware.NewRateLimitMiddleware(controller, publisher, failOpen, log, nil),
	)
}

func newLimitedController(t *testing.T, limit int) admission.Controller {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := infraRatelimit.NewRedisLimiter(client, nil)
	return admission.NewController(limiter, stubPolicies{}, config.LimiterConfig{
		Algorithm:         "sliding_window",
		RequestsPerWindow: limit,
		WindowSeconds:     60,
		BurstCapacity:     10,
	}, testLogger())
}

func doRequest(t *testing.T, srv *server.Server, key string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/data", nil)
	if key != "" {
		req.Header.Set(common.ApiKeyHeader, key)
	}
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGatewayAdmitsUpToLimitThenThrottles(t *testing.T) {
	publisher := &recordingPublisher{}
	srv := newGateway(t, newLimitedController(t, 60), publisher, false)

	for i := 1; i <= 60; i++ {
		resp := doRequest(t, srv, "valid")
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
		remaining := resp.Header.Get(common.RateLimitRemainingHeader)
		assert.Equal(t, strconv.Itoa(60-i), remaining, "request %d", i)
	}

	resp := doRequest(t, srv, "valid")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get(common.RateLimitRemainingHeader))

	events := publisher.all()
	require.Len(t, events, 61)
	last := events[60]
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.Equal(t, int64(0), last.ResponseTime)
	assert.Equal(t, "user-1", last.UserID)
	for _, event := range events[:60] {
		assert.Equal(t, http.StatusOK, event.StatusCode)
		assert.Equal(t, "/api/v1/data", event.Endpoint)
	}
}

func TestGatewayRejectsMissingKey(t *testing.T) {
	publisher := &recordingPublisher{}
	srv := newGateway(t, newLimitedController(t, 60), publisher, false)

	resp := doRequest(t, srv, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	// unauthenticated requests never reach the usage publisher
	assert.Empty(t, publisher.all())
}

func TestGatewayRejectsInvalidKey(t *testing.T) {
	publisher := &recordingPublisher{}
	srv := newGateway(t, newLimitedController(t, 60), publisher, false)

	resp := doRequest(t, srv, "bogus")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, publisher.all())
}

func TestGatewayFailsClosedOnStoreError(t *testing.T) {
	publisher := &recordingPublisher{}
	srv := newGateway(t, failingController{}, publisher, false)

	resp := doRequest(t, srv, "valid")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGatewayFailsOpenWhenConfigured(t *testing.T) {
	publisher := &recordingPublisher{}
	srv := newGateway(t, failingController{}, publisher, true)

	resp := doRequest(t, srv, "valid")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events := publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, http.StatusOK, events[0].StatusCode)
}

func TestHealthzBypassesAuth(t *testing.T) {
	publisher := &recordingPublisher{}
	srv := newGateway(t, newLimitedController(t, 60), publisher, false)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, publisher.all())
}
