package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/sentryflow/sentryflow/pkg/common"
	"github.com/sentryflow/sentryflow/pkg/config"
	domainratelimit "github.com/sentryflow/sentryflow/pkg/domain/ratelimit"
	"github.com/sentryflow/sentryflow/pkg/infra/cache"
	"github.com/sentryflow/sentryflow/pkg/infra/ratelimit"
	"github.com/sirupsen/logrus"
)

const policyCacheTTL = 5 * time.Minute

//go:generate mockery --name=Controller --dir=. --output=./mocks --filename=admission_controller_mock.go --case=underscore --with-expecter
type Controller interface {
	// CheckAndConsume decides whether subject may access resource and, when
	// admitted, counts the request. Either the request is counted and
	// possibly admitted, or the call fails and no state changes.
	CheckAndConsume(ctx context.Context, subject, resource string) (domainratelimit.Decision, error)
}

type controller struct {
	limiter     *ratelimit.RedisLimiter
	policies    domainratelimit.Repository
	defaults    config.LimiterConfig
	policyCache *cache.TTLMap
	logger      *logrus.Logger
}

func NewController(
	limiter *ratelimit.RedisLimiter,
	policies domainratelimit.Repository,
	defaults config.LimiterConfig,
	logger *logrus.Logger,
) Controller {
	return &controller{
		limiter:     limiter,
		policies:    policies,
		defaults:    defaults,
		policyCache: cache.NewTTLMap(policyCacheTTL),
		logger:      logger,
	}
}

func (c *controller) CheckAndConsume(
	ctx context.Context,
	subject, resource string,
) (domainratelimit.Decision, error) {
	algorithm := c.resolveAlgorithm(ctx, subject, resource)
	key := fmt.Sprintf(common.RateLimitKeyPattern, subject, resource)

	switch algorithm.Kind {
	case domainratelimit.TokenBucket:
		return c.limiter.TokenBucket(ctx, key, algorithm.Rate, algorithm.Capacity)
	default:
		return c.limiter.SlidingWindow(ctx, key, algorithm.Window, algorithm.Limit)
	}
}

// resolveAlgorithm picks the policy for the pair: config route overrides
// first, then provisioned rows, then the deployment defaults. Policies are
// read-only at request time, so a short-lived process-local memo is safe.
func (c *controller) resolveAlgorithm(ctx context.Context, subject, resource string) domainratelimit.Algorithm {
	if route, ok := c.defaults.Routes[resource]; ok {
		return policyFromRoute(route).Resolve()
	}

	memoKey := fmt.Sprintf(common.PolicyCacheKeyFormat, subject, resource)
	if cached, ok := c.policyCache.Get(memoKey); ok {
		if algorithm, ok := cached.(domainratelimit.Algorithm); ok {
			return algorithm
		}
	}

	algorithm := c.defaultAlgorithm()
	if c.policies != nil {
		policy, err := c.policies.FindFor(ctx, subject, resource)
		switch {
		case err != nil:
			// a policy-store hiccup must not fail the admission decision
			c.logger.WithError(err).Debug("policy lookup failed, using defaults")
		case policy != nil:
			algorithm = policy.Resolve()
		}
	}

	c.policyCache.Set(memoKey, algorithm)
	return algorithm
}

func (c *controller) defaultAlgorithm() domainratelimit.Algorithm {
	return domainratelimit.Policy{
		Algorithm:         c.defaults.Algorithm,
		RequestsPerWindow: c.defaults.RequestsPerWindow,
		WindowSeconds:     c.defaults.WindowSeconds,
		BurstCapacity:     c.defaults.BurstCapacity,
	}.Resolve()
}

func policyFromRoute(route config.RoutePolicy) domainratelimit.Policy {
	return domainratelimit.Policy{
		Algorithm:         route.Algorithm,
		RequestsPerWindow: route.RequestsPerWindow,
		WindowSeconds:     route.WindowSeconds,
		BurstCapacity:     route.BurstCapacity,
	}
}
