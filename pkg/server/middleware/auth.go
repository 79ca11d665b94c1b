package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	appapikey "github.com/sentryflow/sentryflow/pkg/app/apikey"
	"github.com/sentryflow/sentryflow/pkg/common"
	"github.com/sentryflow/sentryflow/pkg/domain/apikey"
	"github.com/sirupsen/logrus"
)

type authMiddleware struct {
	resolver appapikey.Resolver
	logger   *logrus.Logger
}

func NewAuthMiddleware(resolver appapikey.Resolver, logger *logrus.Logger) Middleware {
	return &authMiddleware{
		resolver: resolver,
		logger:   logger,
	}
}

func (m *authMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(common.ApiKeyHeader)
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).SendString("API key is required")
		}

		userID, err := m.resolver.Resolve(c.UserContext(), key)
		if err != nil {
			if errors.Is(err, apikey.ErrInvalidCredential) {
				return c.Status(fiber.StatusUnauthorized).SendString("Invalid API key")
			}
			m.logger.WithError(err).Error("credential resolution failed")
			return c.Status(fiber.StatusServiceUnavailable).SendString("Service unavailable")
		}

		c.Locals(common.UserIDKey, userID)
		return c.Next()
	}
}
