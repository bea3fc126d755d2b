package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/rx-ledger/pkg/logger"
)

// Message is the envelope published for every lifecycle event.
type Message struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Broker defines the interface for message brokers
type Broker interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// MultiBroker fans a message out to every broker. Publish fails if any
// broker fails, so the outbox retries the event; consumers must tolerate
// duplicates.
type MultiBroker struct {
	brokers []Broker
}

func NewMultiBroker(brokers ...Broker) *MultiBroker {
	return &MultiBroker{brokers: brokers}
}

func (m *MultiBroker) Name() string { return "multi" }

func (m *MultiBroker) Brokers() []Broker { return m.brokers }

func (m *MultiBroker) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, b := range m.brokers {
		if err := b.Publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiBroker) Close() error {
	var errs []error
	for _, b := range m.brokers {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogBroker only logs messages. It stands in when no real broker is
// configured, which keeps the outbox draining in development.
type LogBroker struct {
	logger *logger.Logger
}

func NewLogBroker(l *logger.Logger) *LogBroker {
	if l == nil {
		l = logger.Nop()
	}
	return &LogBroker{logger: l}
}

func (b *LogBroker) Name() string { return "log" }

func (b *LogBroker) Publish(_ context.Context, msg Message) error {
	b.logger.Info("Event published", "event_id", msg.ID, "event_type", msg.Type, "aggregate_id", msg.AggregateID)
	return nil
}

func (b *LogBroker) Close() error { return nil }
