package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace-service/kafka"
	"marketplace-service/models"
	aws_pkg "marketplace-service/pkg/aws"
	"marketplace-service/repository"
	"marketplace-service/services"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeTopic struct {
	published map[string][]byte
}

func (f *fakeTopic) PublishWithType(_ context.Context, topicArn, eventType string, message []byte) error {
	if f.published == nil {
		f.published = map[string][]byte{}
	}
	f.published[topicArn+"|"+eventType] = message
	return nil
}

type mockMetrics struct {
	mock.Mock
}

func (m *mockMetrics) IsEnabled() bool { return true }

func (m *mockMetrics) RecordCount(ctx context.Context, name string, dims map[string]string) error {
	return m.Called(ctx, name, dims).Error(0)
}

func (m *mockMetrics) RecordLatency(ctx context.Context, name string, d time.Duration, dims map[string]string) error {
	return m.Called(ctx, name, d, dims).Error(0)
}

func (m *mockMetrics) RecordValue(ctx context.Context, name string, v float64, dims map[string]string) error {
	return m.Called(ctx, name, v, dims).Error(0)
}

func seedOutbox(t *testing.T, outbox *mockOutboxRepo) {
	t.Helper()
	require.NoError(t, outbox.Add(context.Background(), &models.OutboxEvent{
		ID:          "ev-1",
		Type:        models.EventInvoicePaid,
		AggregateID: "INV-1",
		Payload:     map[string]any{"invoice_id": "INV-1", "amount": 180.0},
		CreatedAt:   time.Now().UTC(),
	}))
}

func TestOutboxRelay_PublishesToEverySink(t *testing.T) {
	outbox := &mockOutboxRepo{}
	seedOutbox(t, outbox)
	writer := &fakeWriter{}
	topic := &fakeTopic{}
	relay := services.NewOutboxRelay(outbox, map[string]services.EventSink{
		"kafka": kafka.NewEventProducerWithWriter(writer, "marketplace.events", testLogger()),
		"sns":   services.NewSNSSink(topic, "arn:aws:sns:eu-west-1:000000000000:marketplace"),
	}, time.Second, nil, testLogger())

	assert.Equal(t, 1, relay.RelayOnce(context.Background()))

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	assert.Equal(t, "INV-1", string(msg.Key))
	assert.Equal(t, []kafkago.Header{{Key: "event_type", Value: []byte(models.EventInvoicePaid)}}, msg.Headers)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "ev-1", body["id"])
	assert.Equal(t, models.EventInvoicePaid, body["type"])
	assert.Equal(t, "INV-1", body["payload"].(map[string]any)["invoice_id"])

	assert.Contains(t, topic.published, "arn:aws:sns:eu-west-1:000000000000:marketplace|"+models.EventInvoicePaid)

	assert.Zero(t, relay.RelayOnce(context.Background()), "processed events are not relayed again")
}

func TestOutboxRelay_FailureCountsAttempt(t *testing.T) {
	outbox := &mockOutboxRepo{}
	seedOutbox(t, outbox)
	writer := &fakeWriter{err: errors.New("broker down")}
	relay := services.NewOutboxRelay(outbox, map[string]services.EventSink{
		"kafka": kafka.NewEventProducerWithWriter(writer, "marketplace.events", testLogger()),
	}, time.Second, nil, testLogger())

	assert.Zero(t, relay.RelayOnce(context.Background()))
	assert.Equal(t, 1, outbox.events[0].Attempts)
	assert.False(t, outbox.events[0].Processed)

	writer.err = nil
	assert.Equal(t, 1, relay.RelayOnce(context.Background()))
	assert.True(t, outbox.events[0].Processed)
}

func TestOutboxRelay_GivesUpAfterMaxAttempts(t *testing.T) {
	outbox := &mockOutboxRepo{}
	seedOutbox(t, outbox)
	outbox.events[0].Attempts = repository.OutboxMaxAttempts
	writer := &fakeWriter{}
	relay := services.NewOutboxRelay(outbox, map[string]services.EventSink{
		"kafka": kafka.NewEventProducerWithWriter(writer, "marketplace.events", testLogger()),
	}, time.Second, nil, testLogger())

	assert.Zero(t, relay.RelayOnce(context.Background()))
	assert.Empty(t, writer.msgs)
}

func TestOutboxRelay_RunStopsOnCancel(t *testing.T) {
	outbox := &mockOutboxRepo{}
	seedOutbox(t, outbox)
	writer := &fakeWriter{}
	relay := services.NewOutboxRelay(outbox, map[string]services.EventSink{
		"kafka": kafka.NewEventProducerWithWriter(writer, "marketplace.events", testLogger()),
	}, 10*time.Millisecond, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		outbox.mu.Lock()
		defer outbox.mu.Unlock()
		return outbox.events[0].Processed
	}, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestOutboxRelay_RecordsPublishedMetric(t *testing.T) {
	outbox := &mockOutboxRepo{}
	seedOutbox(t, outbox)
	metrics := &mockMetrics{}
	metrics.On("RecordCount", mock.Anything, aws_pkg.MetricOutboxPublished, map[string]string{"Type": models.EventInvoicePaid}).Return(nil).Once()

	relay := services.NewOutboxRelay(outbox, map[string]services.EventSink{
		"kafka": kafka.NewEventProducerWithWriter(&fakeWriter{}, "marketplace.events", testLogger()),
	}, time.Second, metrics, testLogger())

	assert.Equal(t, 1, relay.RelayOnce(context.Background()))
	metrics.AssertExpectations(t)
}
