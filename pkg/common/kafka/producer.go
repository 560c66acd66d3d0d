package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/platform/pkg/common/logger"
	"github.com/segmentio/kafka-go"
)

// Event is the envelope published to the sync event bus after a
// location pass or alert trigger. Downstream consumers (dashboard,
// analytics) subscribe; nothing in this service reads it back.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"` // review.synced, alert.triggered
	AccountID  string                 `json:"account_id"`
	LocationID string                 `json:"location_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a synchronous writer against the given brokers.
// Returns nil when no brokers are configured; PublishEvent on a nil
// producer is a no-op.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{writer: writer}
}

func (p *Producer) PublishEvent(ctx context.Context, eventType, accountID, locationID string, data map[string]interface{}) error {
	if p == nil {
		return nil
	}

	event := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		AccountID:  accountID,
		LocationID: locationID,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(accountID),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": eventType,
		}).Error("Failed to publish sync event")
		return err
	}

	return nil
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
