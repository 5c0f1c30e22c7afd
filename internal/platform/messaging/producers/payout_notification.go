package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/marketplace-escrow/internal/config"
	"github.com/segmentio/kafka-go"
)

// PayoutNotificationProducer publishes settlement outcome events for
// downstream payout and messaging systems. Notifications are fire-and-forget
// from the settlement path's point of view, so writes are async.
type PayoutNotificationProducer struct {
	logger *slog.Logger
	writer KafkaWriter // Interface for testability
	topic  string
}

// Creates a new payout notification producer and ensures topic exists
func NewPayoutNotificationProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*PayoutNotificationProducer, error) {
	if cfg.PayoutTopic == "" {
		return nil, fmt.Errorf("kafka payout topic is not configured")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for payout producer: %w", err)
	}
	defer conn.Close()

	err = createKafkaTopicIfNotExists(conn, cfg.PayoutTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure payout topic %s exists: %w", cfg.PayoutTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.PayoutTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true, // Notifications must not slow down settlement commits
		WriteTimeout: cfg.MaxWait,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to write payout messages asynchronously", "topic", cfg.PayoutTopic, "error", err, "count", len(messages))
			} else {
				logger.Debug("Successfully wrote payout messages asynchronously", "topic", cfg.PayoutTopic, "count", len(messages))
			}
		},
	}

	return &PayoutNotificationProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.PayoutTopic,
	}, nil
}

func (p *PayoutNotificationProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message value for payout producer: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish message via payout producer",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish message to %s via payout producer: %w", p.topic, err)
	}

	p.logger.Debug("Published message via payout producer",
		"topic", p.topic,
		"key", key,
	)
	return nil
}

func (p *PayoutNotificationProducer) Close() error {
	p.logger.Info("Closing payout Kafka message producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close payout kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
