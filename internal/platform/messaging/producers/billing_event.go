package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lumagen/credit-engine/internal/config"
	"github.com/segmentio/kafka-go"
)

// BillingEventProducer publishes billing events (payment effects, referral
// qualification triggers) to the billing topic. In production the payment
// collaborator is the main writer; this producer exists for internal
// emitters and tooling.
type BillingEventProducer struct {
	logger *slog.Logger
	writer KafkaWriter // Interface for testability
	topic  string
}

// NewBillingEventProducer creates a producer and ensures the topic exists
func NewBillingEventProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*BillingEventProducer, error) {
	if cfg.BillingTopic == "" {
		return nil, fmt.Errorf("kafka billing topic is not configured")
	}

	brokers := strings.Split(cfg.Brokers, ",")
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for billing event producer: %w", err)
	}
	defer conn.Close()

	err = createKafkaTopicIfNotExists(conn, cfg.BillingTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure billing topic %s exists: %w", cfg.BillingTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.BillingTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false, // Billing effects must be durably written before acking
		WriteTimeout: cfg.MaxWait,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to write billing event messages", "topic", cfg.BillingTopic, "error", err, "count", len(messages))
			} else {
				logger.Debug("Successfully wrote billing event messages", "topic", cfg.BillingTopic, "count", len(messages))
			}
		},
	}

	return &BillingEventProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.BillingTopic,
	}, nil
}

func (p *BillingEventProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal billing event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish billing event",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish billing event to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published billing event",
		"topic", p.topic,
		"key", key,
	)
	return nil
}

func (p *BillingEventProducer) Close() error {
	p.logger.Info("Closing billing event producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close billing event kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
