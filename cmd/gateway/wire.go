package main

import (
	"time"

	"github.com/sentryflow/sentryflow/pkg/app/admission"
	appapikey "github.com/sentryflow/sentryflow/pkg/app/apikey"
	"github.com/sentryflow/sentryflow/pkg/config"
	"github.com/sentryflow/sentryflow/pkg/infra/breaker"
	"github.com/sentryflow/sentryflow/pkg/infra/cache"
	"github.com/sentryflow/sentryflow/pkg/infra/database"
	"github.com/sentryflow/sentryflow/pkg/infra/kafka"
	infraRatelimit "github.com/sentryflow/sentryflow/pkg/infra/ratelimit"
	"github.com/sentryflow/sentryflow/pkg/infra/repository"
	"github.com/sentryflow/sentryflow/pkg/server"
	"github.com/sentryflow/sentryflow/pkg/server/middleware"
	"github.com/sirupsen/logrus"
)

// buildGateway wires every request-path dependency explicitly. The kafka
// producer is a constructed, injected resource with an explicit lifecycle;
// the returned cleanup releases it along with the database.
func buildGateway(cfg *config.Config, logger *logrus.Logger) (*server.Server, func(), error) {
	db, err := database.NewDB(logger, &database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, nil, err
	}

	cacheClient, err := cache.NewClient(cache.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		BootstrapServers: cfg.Kafka.BootstrapServers,
		RequestsTopic:    cfg.Kafka.RequestsTopic,
		ThrottledTopic:   cfg.Kafka.ThrottledTopic,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	apiKeyRepository := repository.NewApiKeyRepository(db.DB)
	policyRepository := repository.NewPolicyRepository(db.DB)

	credentialBreaker := breaker.NewCircuitBreaker("credential-store", 30*time.Second, 5)
	resolver := appapikey.NewResolver(
		apiKeyRepository,
		cacheClient,
		credentialBreaker,
		time.Duration(cfg.Auth.CacheTTLSeconds)*time.Second,
		logger,
		nil,
	)

	limiter := infraRatelimit.NewRedisLimiter(cacheClient.RedisClient(), nil)
	controller := admission.NewController(limiter, policyRepository, cfg.Limiter, logger)

	srv := server.NewServer(
		cfg.Server,
		logger,
		middleware.NewAuthMiddleware(resolver, logger),
		middleware.NewUsageMiddleware(producer, logger, nil),
		middleware.NewRateLimitMiddleware(controller, producer, cfg.Limiter.FailOpen, logger, nil),
	)

	cleanup := func() {
		producer.Close()
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("failed to close database")
		}
	}
	return srv, cleanup, nil
}
