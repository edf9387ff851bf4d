package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds configuration for the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" json:"brokers"`
	Topic        string        `yaml:"topic" json:"topic"`
	BatchSize    int           `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	BatchTimeout time.Duration `yaml:"batch_timeout,omitempty" json:"batch_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
	RequiredAcks int           `yaml:"required_acks,omitempty" json:"required_acks,omitempty"` // 0, 1, or -1 (all)
}

// Validate checks the Kafka configuration.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("Kafka topic is required")
	}
	return nil
}

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events to a Kafka topic, keyed by model identity
// so all events of a model land on one partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a synchronous Kafka writer for the topic.
func NewKafkaPublisher(config KafkaConfig) (*KafkaPublisher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		MaxAttempts:  3,
		Async:        false,
	}
	return &KafkaPublisher{writer: writer, topic: config.Topic}, nil
}

// Publish writes the messages in one call.
func (p *KafkaPublisher) Publish(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = KafkaMessage(m)
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		var writeErrs kafka.WriteErrors
		if errors.As(err, &writeErrs) {
			return fmt.Errorf("failed to write %d of %d messages to Kafka topic %s: %w",
				writeErrs.Count(), len(msgs), p.topic, err)
		}
		return fmt.Errorf("failed to write messages to Kafka topic %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaMessage converts a message, carrying the event type and action as headers.
func KafkaMessage(m Message) kafka.Message {
	headers := []kafka.Header{{Key: "event", Value: []byte(m.Type)}}
	if m.Action != "" {
		headers = append(headers, kafka.Header{Key: "action", Value: []byte(m.Action)})
	}
	return kafka.Message{
		Key:     []byte(m.Key),
		Value:   m.Value,
		Time:    m.Time,
		Headers: headers,
	}
}
