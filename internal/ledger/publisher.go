// v2
// internal/ledger/publisher.go
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event is one audit record on the automation stream: either a telemetry
// reading capture or an issued correction command. Downstream consumers
// (dashboard, accounting jobs) replay these instead of polling the core.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"` // "reading" or "command"
	Device    string         `json:"device"`
	Key       string         `json:"key,omitempty"`
	Value     any            `json:"value,omitempty"`
	Channels  map[string]any `json:"channels,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	EventReading = "reading"
	EventCommand = "command"
)

// Publisher writes audit events to a single Kafka topic, keyed by device
// so each device's history stays ordered within a partition. A nil
// Publisher is valid and drops everything, which keeps Kafka optional in
// small deployments.
type Publisher struct {
	writer *kafka.Writer
	lg     *slog.Logger
}

func NewPublisher(brokers []string, topic string, lg *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	lg.Info("kafka audit wired", "topic", topic, "brokers", brokers)
	return &Publisher{writer: w, lg: lg}, nil
}

// PublishReading records a full telemetry capture.
func (p *Publisher) PublishReading(ctx context.Context, deviceName string, channels map[string]any, at time.Time) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, Event{
		ID:        uuid.NewString(),
		Type:      EventReading,
		Device:    deviceName,
		Channels:  channels,
		Timestamp: at,
	})
}

// PublishCommand records one issued correction.
func (p *Publisher) PublishCommand(ctx context.Context, deviceName, key string, value any, at time.Time) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, Event{
		ID:        uuid.NewString(),
		Type:      EventCommand,
		Device:    deviceName,
		Key:       key,
		Value:     value,
		Timestamp: at,
	})
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(ev.Device), Value: b, Time: ev.Timestamp}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit write: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		p.lg.Warn("audit writer close", "error", err)
	}
}
