package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sentryflow/sentryflow/pkg/app/admission"
	"github.com/sentryflow/sentryflow/pkg/common"
	"github.com/sentryflow/sentryflow/pkg/domain/usage"
	"github.com/sentryflow/sentryflow/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
)

type rateLimitMiddleware struct {
	controller   admission.Controller
	publisher    usage.Publisher
	failOpen     bool
	logger       *logrus.Logger
	timeProvider func() time.Time
}

type RateLimitOpts struct {
	TimeProvider func() time.Time
}

func NewRateLimitMiddleware(
	controller admission.Controller,
	publisher usage.Publisher,
	failOpen bool,
	logger *logrus.Logger,
	opts *RateLimitOpts,
) Middleware {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &rateLimitMiddleware{
		controller:   controller,
		publisher:    publisher,
		failOpen:     failOpen,
		logger:       logger,
		timeProvider: timeProvider,
	}
}

func (m *rateLimitMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals(common.UserIDKey).(string)
		if !ok || userID == "" {
			return c.Status(fiber.StatusUnauthorized).SendString("API key is required")
		}
		endpoint := c.Path()

		decision, err := m.controller.CheckAndConsume(c.UserContext(), userID, endpoint)
		if err != nil {
			metrics.AdmissionDecisions.WithLabelValues(endpoint, "store_error").Inc()
			// a store timeout is a hard failure for the decision, never an
			// implicit allow; fail-open is an explicit deployment policy
			if m.failOpen {
				m.logger.WithError(err).Warn("counter store unavailable, failing open")
				return c.Next()
			}
			m.logger.WithError(err).Error("counter store unavailable, failing closed")
			return c.Status(fiber.StatusServiceUnavailable).SendString("Service unavailable")
		}

		c.Set(common.RateLimitRemainingHeader, strconv.FormatInt(decision.Remaining, 10))

		if !decision.Allowed {
			metrics.AdmissionDecisions.WithLabelValues(endpoint, "throttled").Inc()
			m.publisher.Publish(usage.Event{
				Timestamp:    m.timeProvider().UTC(),
				UserID:       userID,
				Endpoint:     endpoint,
				StatusCode:   fiber.StatusTooManyRequests,
				ResponseTime: 0,
			})
			return c.Status(fiber.StatusTooManyRequests).SendString("Rate limit exceeded")
		}

		metrics.AdmissionDecisions.WithLabelValues(endpoint, "allowed").Inc()
		return c.Next()
	}
}
