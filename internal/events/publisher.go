// Package events publishes connection lifecycle notifications to application
// collaborators over Kafka. Publishing is best-effort and advisory; the relay
// core never blocks on it for control flow.
package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Event is one lifecycle notification.
type Event struct {
	Type         string `json:"type"` // "connected" | "disconnected"
	ConnectionID string `json:"connection_id"`
	Reason       string `json:"reason,omitempty"`
	ResumeToken  string `json:"resume_token,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// Publisher delivers lifecycle events to an external collaborator.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaPublisher writes lifecycle events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafkago.Writer
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		Async:        true,
	}
	return &KafkaPublisher{writer: w}
}

// Publish writes one event to the topic, keyed by connection id so events for
// the same connection land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.ConnectionID),
		Value: b,
		Time:  time.Now(),
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
