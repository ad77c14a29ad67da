package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the part of kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventProducer writes domain events to one topic, keyed by aggregate id so events
// for the same invoice stay ordered.
type EventProducer struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

func NewEventProducer(brokers []string, topic string, logger *zap.Logger) *EventProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	logger.Info("Kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return NewEventProducerWithWriter(w, topic, logger)
}

func NewEventProducerWithWriter(w MessageWriter, topic string, logger *zap.Logger) *EventProducer {
	return &EventProducer{writer: w, topic: topic, logger: logger}
}

func (p *EventProducer) Publish(ctx context.Context, key, eventType string, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to write event", zap.String("topic", p.topic), zap.String("event_type", eventType), zap.Error(err))
		return err
	}
	return nil
}

func (p *EventProducer) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.Warn("Kafka producer close failed", zap.Error(err))
	}
}
