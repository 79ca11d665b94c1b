package server

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sentryflow/sentryflow/pkg/config"
	"github.com/sentryflow/sentryflow/pkg/server/middleware"
	"github.com/sirupsen/logrus"
)

// Server is the gateway's HTTP boundary. The middleware chain is
// auth -> usage -> rate limit, so 401s are never published and throttled
// requests carry a zero response time.
type Server struct {
	app    *fiber.App
	cfg    config.ServerConfig
	logger *logrus.Logger
}

func NewServer(
	cfg config.ServerConfig,
	logger *logrus.Logger,
	authMiddleware middleware.Middleware,
	usageMiddleware middleware.Middleware,
	rateLimitMiddleware middleware.Middleware,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "sentryflow",
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Use(
		authMiddleware.Middleware(),
		usageMiddleware.Middleware(),
		rateLimitMiddleware.Middleware(),
	)

	app.Get("/api/v1/data", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Hello from the gateway",
		})
	})

	return &Server{
		app:    app,
		cfg:    cfg,
		logger: logger,
	}
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.WithField("addr", addr).Info("gateway listening")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
