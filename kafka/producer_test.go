package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestEventProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewEventProducerWithWriter(w, "marketplace.events", zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), "12345", "invoice.paid", []byte(`{"invoice_id":"12345"}`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("12345"), w.msgs[0].Key)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte("invoice.paid"), w.msgs[0].Headers[0].Value)

	p.Close()
	assert.True(t, w.closed)
}

func TestEventProducer_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewEventProducerWithWriter(w, "marketplace.events", zap.NewNop())

	err := p.Publish(context.Background(), "k", "invoice.paid", nil)
	assert.EqualError(t, err, "broker down")
}
