package events

import (
	"context"
	"encoding/json"

	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Producer streams accepted state transitions to Kafka for downstream
// consumers (notifications, analytics). Publishing is best-effort; the state
// machine logs and continues when a publish fails.
type Producer struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

// NewProducer creates a producer, or nil when no brokers are configured.
func NewProducer(brokers []string, topic string, logger *logrus.Logger) *Producer {
	if len(brokers) == 0 {
		return nil
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger,
	}
}

// PublishTransition emits one state-transition event keyed by the entity id,
// so per-entity ordering is preserved within a partition.
func (p *Producer) PublishTransition(ctx context.Context, record models.StateTransition) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.ItemID),
		Value: payload,
	})
	if err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"entity_type": record.EntityType,
		"item_id":     record.ItemID,
		"new_state":   record.NewState,
	}).Debug("Published state transition event")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
