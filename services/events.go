package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-service/models"
	aws_pkg "marketplace-service/pkg/aws"
	"marketplace-service/repository"
)

// emit records a domain event in the outbox. Failures are logged and never fail the
// operation that produced the event.
func emit(ctx context.Context, outbox repository.OutboxRepository, logger *zap.Logger, eventType, aggregateID string, payload map[string]any) {
	if outbox == nil {
		return
	}
	ev := &models.OutboxEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	if err := outbox.Add(ctx, ev); err != nil {
		logger.Warn("Failed to record outbox event", zap.String("type", eventType), zap.String("aggregate_id", aggregateID), zap.Error(err))
	}
}

func recordCount(ctx context.Context, m aws_pkg.MetricsRecorder, name string, dims map[string]string) {
	if m == nil || !m.IsEnabled() {
		return
	}
	_ = m.RecordCount(ctx, name, dims)
}

func recordValue(ctx context.Context, m aws_pkg.MetricsRecorder, name string, value float64, dims map[string]string) {
	if m == nil || !m.IsEnabled() {
		return
	}
	_ = m.RecordValue(ctx, name, value, dims)
}

func recordLatency(ctx context.Context, m aws_pkg.MetricsRecorder, name string, d time.Duration, dims map[string]string) {
	if m == nil || !m.IsEnabled() {
		return
	}
	_ = m.RecordLatency(ctx, name, d, dims)
}
