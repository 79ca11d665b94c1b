package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/sirupsen/logrus"
)

type ConsumerConfig struct {
	BootstrapServers string
	RequestsTopic    string
	ThrottledTopic   string
	Group            string
}

// Consumer drains both usage channels. Offsets are committed explicitly,
// only after the batch they belong to has been flushed.
type Consumer struct {
	consumer *kafka.Consumer
}

func NewConsumer(cfg ConsumerConfig, logger *logrus.Logger) (*Consumer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"group.id":           cfg.Group,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	topics := []string{cfg.RequestsTopic, cfg.ThrottledTopic}
	if err := consumer.SubscribeTopics(topics, nil); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %v: %w", topics, err)
	}

	logger.WithFields(logrus.Fields{
		"topics": topics,
		"group":  cfg.Group,
	}).Info("kafka consumer subscribed")

	return &Consumer{consumer: consumer}, nil
}

// ReadMessage returns the next payload, or (nil, nil) when the poll timed
// out with nothing to read.
func (c *Consumer) ReadMessage(timeout time.Duration) ([]byte, error) {
	msg, err := c.consumer.ReadMessage(timeout)
	if err != nil {
		var kafkaErr kafka.Error
		if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut {
			return nil, nil
		}
		return nil, err
	}
	return msg.Value, nil
}

func (c *Consumer) Commit() error {
	_, err := c.consumer.Commit()
	return err
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
