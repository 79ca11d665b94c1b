package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	infraLogger "github.com/sentryflow/sentryflow/internal/logger"
	"github.com/sentryflow/sentryflow/pkg/app/telemetry"
	"github.com/sentryflow/sentryflow/pkg/config"
	"github.com/sentryflow/sentryflow/pkg/infra/database"
	"github.com/sentryflow/sentryflow/pkg/infra/kafka"
	"github.com/sentryflow/sentryflow/pkg/infra/repository"
	"golang.org/x/sync/errgroup"
)

// The analytics process: the batch consumer and the aggregation engine run
// as independent long-lived tasks, talking only through the broker and the
// stores.
func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger := infraLogger.NewLogger()

	if err := config.Load("./config"); err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	cfg := config.GetConfig()

	db, err := database.NewDB(logger, &database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	defer db.Close()

	source, err := kafka.NewConsumer(kafka.ConsumerConfig{
		BootstrapServers: cfg.Kafka.BootstrapServers,
		RequestsTopic:    cfg.Kafka.RequestsTopic,
		ThrottledTopic:   cfg.Kafka.ThrottledTopic,
		Group:            cfg.Kafka.ConsumerGroup,
	}, logger)
	if err != nil {
		logger.Fatalf("failed to initialize kafka consumer: %v", err)
	}
	defer source.Close()

	usageRepository := repository.NewUsageRepository(db.DB)

	consumer := telemetry.NewBatchConsumer(
		source,
		usageRepository,
		cfg.Consumer.BatchSize,
		cfg.Consumer.FlushInterval(),
		cfg.Consumer.PollTimeout(),
		logger,
	)
	aggregator := telemetry.NewAggregator(
		usageRepository,
		cfg.Aggregator.Granularities,
		cfg.Aggregator.CyclePeriod(),
		logger,
		nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return consumer.Run(groupCtx) })
	group.Go(func() error { return aggregator.Run(groupCtx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("aggregator process failed: %v", err)
	}
	logger.Info("aggregator process stopped")
}
