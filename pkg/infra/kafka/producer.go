package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/sentryflow/sentryflow/pkg/domain/usage"
	"github.com/sentryflow/sentryflow/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
)

type ProducerConfig struct {
	BootstrapServers string
	RequestsTopic    string
	ThrottledTopic   string
}

// Producer routes usage events onto the two logical channels. Publish is
// fire-and-forget: it hands the message to the client's send queue and
// returns; delivery reports are drained in the background and failures are
// logged, never surfaced to the request path.
type Producer struct {
	cfg      ProducerConfig
	producer *kafka.Producer
	logger   *logrus.Logger
}

func NewProducer(cfg ProducerConfig, logger *logrus.Logger) (*Producer, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.BootstrapServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := &Producer{
		cfg:      cfg,
		producer: producer,
		logger:   logger,
	}
	go p.drainDeliveryReports()

	logger.WithField("bootstrap_servers", cfg.BootstrapServers).Info("kafka producer ready")
	return p, nil
}

func (p *Producer) Publish(event usage.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		metrics.PublishFailures.Inc()
		p.logger.WithError(err).Error("failed to marshal usage event")
		return
	}

	topic := p.cfg.RequestsTopic
	if event.IsThrottled() {
		topic = p.cfg.ThrottledTopic
	}

	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          data,
	}, nil)
	if err != nil {
		metrics.PublishFailures.Inc()
		p.logger.WithFields(logrus.Fields{
			"topic": topic,
			"user":  event.UserID,
		}).WithError(err).Error("failed to enqueue usage event")
	}
}

func (p *Producer) drainDeliveryReports() {
	for e := range p.producer.Events() {
		m, ok := e.(*kafka.Message)
		if !ok {
			continue
		}
		if m.TopicPartition.Error != nil {
			metrics.PublishFailures.Inc()
			p.logger.WithField("topic", m.TopicPartition.String()).
				WithError(m.TopicPartition.Error).
				Warn("usage event delivery failed")
		}
	}
}

func (p *Producer) Close() {
	p.producer.Flush(5000)
	p.producer.Close()
}
