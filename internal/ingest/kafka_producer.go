// Package ingest publishes domain events to Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/dispatch-console/internal/models"
)

const publishTimeout = 2 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes confirmed bookings and driver telemetry. A nil
// *KafkaProducer is valid and publishes nothing.
type KafkaProducer struct {
	bookings  messageWriter
	telemetry messageWriter
}

func NewKafkaProducer(brokers []string, bookingsTopic, telemetryTopic string) *KafkaProducer {
	return &KafkaProducer{
		bookings:  newWriter(brokers, bookingsTopic),
		telemetry: newWriter(brokers, telemetryTopic),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}, RequiredAcks: kafka.RequireOne}
}

// PublishBooking is keyed by booking id.
func (k *KafkaProducer) PublishBooking(ctx context.Context, b models.Booking) error {
	if k == nil || k.bookings == nil {
		return nil
	}
	return publish(ctx, k.bookings, b.ID, b)
}

// PublishTelemetry is keyed by driver id so one driver's updates stay ordered.
func (k *KafkaProducer) PublishTelemetry(ctx context.Context, d models.DriverTelemetry) error {
	if k == nil || k.telemetry == nil {
		return nil
	}
	return publish(ctx, k.telemetry, d.ID, d)
}

func publish(ctx context.Context, w messageWriter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k == nil {
		return nil
	}
	var first error
	for _, w := range []messageWriter{k.bookings, k.telemetry} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
