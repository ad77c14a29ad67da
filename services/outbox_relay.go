package services

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"marketplace-service/models"
	aws_pkg "marketplace-service/pkg/aws"
	"marketplace-service/repository"
)

// EventSink is a broker the outbox is relayed to.
type EventSink interface {
	Publish(ctx context.Context, key, eventType string, payload []byte) error
}

// TypedPublisher publishes to an SNS topic with an event type attribute.
type TypedPublisher interface {
	PublishWithType(ctx context.Context, topicArn, eventType string, message []byte) error
}

// SNSSink relays events to one SNS topic.
type SNSSink struct {
	client   TypedPublisher
	topicArn string
}

func NewSNSSink(client TypedPublisher, topicArn string) *SNSSink {
	return &SNSSink{client: client, topicArn: topicArn}
}

func (s *SNSSink) Publish(ctx context.Context, _ string, eventType string, payload []byte) error {
	return s.client.PublishWithType(ctx, s.topicArn, eventType, payload)
}

// envelope is the message body every sink receives.
type envelope struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	Payload     map[string]any `json:"payload"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// OutboxRelay drains pending outbox events to every configured sink.
type OutboxRelay struct {
	outbox    repository.OutboxRepository
	sinks     map[string]EventSink
	interval  time.Duration
	batchSize int64
	metrics   aws_pkg.MetricsRecorder
	logger    *zap.Logger
}

func NewOutboxRelay(outbox repository.OutboxRepository, sinks map[string]EventSink, interval time.Duration, metrics aws_pkg.MetricsRecorder, logger *zap.Logger) *OutboxRelay {
	return &OutboxRelay{
		outbox:    outbox,
		sinks:     sinks,
		interval:  interval,
		batchSize: 100,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run relays on every tick until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("Outbox relay started", zap.Int("sinks", len(r.sinks)), zap.Duration("interval", r.interval))
	for {
		select {
		case <-ticker.C:
			r.RelayOnce(ctx)
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return
		}
	}
}

// RelayOnce publishes one batch and returns how many events were relayed.
func (r *OutboxRelay) RelayOnce(ctx context.Context) int {
	events, err := r.outbox.FetchPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("Failed to fetch outbox events", zap.Error(err))
		return 0
	}

	relayed := 0
	for _, ev := range events {
		if err := r.publish(ctx, ev); err != nil {
			r.logger.Warn("Failed to relay event",
				zap.String("event_id", ev.ID),
				zap.String("type", ev.Type),
				zap.Int("attempts", ev.Attempts+1),
				zap.Error(err),
			)
			if err := r.outbox.IncrementAttempts(ctx, ev.ID); err != nil {
				r.logger.Error("Failed to count relay attempt", zap.String("event_id", ev.ID), zap.Error(err))
			}
			continue
		}
		if err := r.outbox.MarkProcessed(ctx, ev.ID); err != nil {
			r.logger.Error("Failed to mark event processed", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		relayed++
		recordCount(ctx, r.metrics, aws_pkg.MetricOutboxPublished, map[string]string{"Type": ev.Type})
	}
	return relayed
}

// publish delivers to every sink; a failure on any sink retries the whole event, so
// consumers must tolerate duplicates.
func (r *OutboxRelay) publish(ctx context.Context, ev models.OutboxEvent) error {
	body, err := json.Marshal(envelope{
		ID:          ev.ID,
		Type:        ev.Type,
		AggregateID: ev.AggregateID,
		Payload:     ev.Payload,
		OccurredAt:  ev.CreatedAt,
	})
	if err != nil {
		return err
	}
	for name, sink := range r.sinks {
		if err := sink.Publish(ctx, ev.AggregateID, ev.Type, body); err != nil {
			return &sinkError{sink: name, err: err}
		}
	}
	return nil
}

type sinkError struct {
	sink string
	err  error
}

func (e *sinkError) Error() string { return e.sink + ": " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }
