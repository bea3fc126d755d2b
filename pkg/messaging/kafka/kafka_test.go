package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-ledger/pkg/messaging"
)

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishKeysByAggregate(t *testing.T) {
	w := &recordingWriter{}
	b := &KafkaBroker{writer: w}
	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	err := b.Publish(context.Background(), messaging.Message{
		ID:          "evt-1",
		Type:        "PRESCRIPTION_ISSUED",
		AggregateID: "rx-42",
		Payload:     json.RawMessage(`{"status":"ISSUED"}`),
		OccurredAt:  at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	m := w.msgs[0]
	assert.Equal(t, "rx-42", string(m.Key))
	assert.Equal(t, at, m.Time)
	assert.Contains(t, m.Headers, kafka.Header{Key: "event_type", Value: []byte("PRESCRIPTION_ISSUED")})

	var decoded messaging.Message
	require.NoError(t, json.Unmarshal(m.Value, &decoded))
	assert.JSONEq(t, `{"status":"ISSUED"}`, string(decoded.Payload))

	require.NoError(t, b.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaBrokerValidates(t *testing.T) {
	_, err := NewKafkaBroker(Config{Topic: "rx-events"})
	assert.Error(t, err)
	_, err = NewKafkaBroker(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	b, err := NewKafkaBroker(Config{Brokers: []string{"localhost:9092"}, Topic: "rx-events"})
	require.NoError(t, err)
	assert.Equal(t, "kafka", b.Name())
}
