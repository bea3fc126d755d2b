package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jwalitptl/rx-ledger/pkg/messaging"
)

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBroker publishes lifecycle events keyed by prescription id, so all
// events of one prescription land on the same partition in order.
type KafkaBroker struct {
	writer writer
}

func NewKafkaBroker(config Config) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 50 * time.Millisecond
	}
	return &KafkaBroker{writer: &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           config.BatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}, nil
}

func (b *KafkaBroker) Name() string { return "kafka" }

func (b *KafkaBroker) Publish(ctx context.Context, msg messaging.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.AggregateID),
		Value: value,
		Time:  msg.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.Type)},
			{Key: "event_id", Value: []byte(msg.ID)},
		},
	})
}

func (b *KafkaBroker) Close() error {
	return b.writer.Close()
}
