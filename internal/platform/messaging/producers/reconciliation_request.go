package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/marketplace-escrow/internal/config"
	"github.com/segmentio/kafka-go"
)

// ReconciliationReqMessageProducer publishes ambiguous charge outcomes for the
// reconciliation worker. Writes are synchronous: losing a reconciliation
// request would strand a pending_verification row forever.
type ReconciliationReqMessageProducer struct {
	logger *slog.Logger
	writer KafkaWriter // Interface for testability
	topic  string
}

// Creates a new reconciliation request producer and ensures topic exists
func NewReconciliationReqMessageProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*ReconciliationReqMessageProducer, error) {
	if cfg.ReconciliationTopic == "" {
		return nil, fmt.Errorf("kafka reconciliation topic is not configured")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for reconciliation producer: %w", err)
	}
	defer conn.Close()

	err = createKafkaTopicIfNotExists(conn, cfg.ReconciliationTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure reconciliation topic %s exists: %w", cfg.ReconciliationTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.ReconciliationTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.MaxWait,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to write reconciliation messages", "topic", cfg.ReconciliationTopic, "error", err, "count", len(messages))
			} else {
				logger.Debug("Successfully wrote reconciliation messages", "topic", cfg.ReconciliationTopic, "count", len(messages))
			}
		},
	}

	return &ReconciliationReqMessageProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.ReconciliationTopic,
	}, nil
}

func (p *ReconciliationReqMessageProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message value for reconciliation producer: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish message via reconciliation producer",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish message to %s via reconciliation producer: %w", p.topic, err)
	}

	p.logger.Debug("Published message via reconciliation producer",
		"topic", p.topic,
		"key", key,
	)
	return nil
}

func (p *ReconciliationReqMessageProducer) Close() error {
	p.logger.Info("Closing reconciliation Kafka message producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close reconciliation kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
