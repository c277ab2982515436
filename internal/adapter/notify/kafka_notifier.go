// Package notify publishes push-notification events for a downstream
// delivery worker to fan out to devices. Delivery is best effort by
// contract; callers log and continue on error.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

type notificationEvent struct {
	Audience []string          `json:"audience"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

func (n *KafkaNotifier) Notify(ctx context.Context, audience []string, title, body string, metadata map[string]string) error {
	payload, err := json.Marshal(notificationEvent{
		Audience: audience,
		Title:    title,
		Body:     body,
		Metadata: metadata,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	// Key by request so all events for one request land on one partition.
	key := metadata["request_id"]
	if key == "" && len(audience) > 0 {
		key = audience[0]
	}

	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
