package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sentryflow/sentryflow/pkg/common"
	"github.com/sentryflow/sentryflow/pkg/domain/usage"
	"github.com/sirupsen/logrus"
)

// usageMiddleware publishes one usage event per completed request. It sits
// between auth and the rate limiter: 401s are never published, and 429s are
// published by the rate limiter itself with zero response time.
type usageMiddleware struct {
	publisher    usage.Publisher
	logger       *logrus.Logger
	timeProvider func() time.Time
}

type UsageOpts struct {
	TimeProvider func() time.Time
}

func NewUsageMiddleware(publisher usage.Publisher, logger *logrus.Logger, opts *UsageOpts) Middleware {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &usageMiddleware{
		publisher:    publisher,
		logger:       logger,
		timeProvider: timeProvider,
	}
}

func (m *usageMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals(common.UserIDKey).(string)
		if !ok || userID == "" {
			return c.Next()
		}

		start := m.timeProvider()
		err := c.Next()
		elapsed := m.timeProvider().Sub(start)

		statusCode := c.Response().StatusCode()
		if statusCode == fiber.StatusTooManyRequests {
			return err
		}

		m.publisher.Publish(usage.Event{
			Timestamp:    start.UTC(),
			UserID:       userID,
			Endpoint:     c.Path(),
			StatusCode:   statusCode,
			ResponseTime: elapsed.Milliseconds(),
		})
		return err
	}
}
