package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	aws_pkg "marketplace-service/pkg/aws"
)

// MessagePoller is the queue a consumer reads from.
type MessagePoller interface {
	StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error
}

// SettlementRetryConsumer re-runs settlements queued after a transient failure.
type SettlementRetryConsumer struct {
	queue      MessagePoller
	settlement SettlementService
	logger     *zap.Logger
}

func NewSettlementRetryConsumer(queue MessagePoller, settlement SettlementService, logger *zap.Logger) *SettlementRetryConsumer {
	return &SettlementRetryConsumer{queue: queue, settlement: settlement, logger: logger}
}

// Start polls until ctx is cancelled.
func (c *SettlementRetryConsumer) Start(ctx context.Context) {
	c.logger.Info("Starting settlement retry consumer")
	err := c.queue.StartPolling(ctx, c.HandleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Settlement retry polling stopped", zap.Error(err))
	}
}

// HandleMessage settles the invoice named in body. Returning an error leaves the
// message on the queue for redelivery.
func (c *SettlementRetryConsumer) HandleMessage(ctx context.Context, body string) error {
	// Messages fanned out through SNS arrive wrapped in an envelope.
	var snsEnvelope struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &snsEnvelope); err == nil && snsEnvelope.Message != "" {
		body = snsEnvelope.Message
	}

	var msg RetryMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil || msg.InvoiceID == "" {
		c.logger.Warn("Dropping malformed settlement retry message", zap.String("body", body), zap.Error(err))
		return nil
	}

	svcErr := c.settlement.Settle(ctx, msg.InvoiceID)
	switch {
	case svcErr == nil:
		c.logger.Info("Settlement retried", zap.String("invoice_id", msg.InvoiceID))
		return nil
	case svcErr.Message == msgSettlementRetrying:
		// A fresh retry message has already been queued.
		return nil
	case svcErr.StatusCode >= http.StatusInternalServerError:
		return svcErr
	case svcErr.Kind == KindConflict:
		c.logger.Info("Settlement already running elsewhere", zap.String("invoice_id", msg.InvoiceID))
		return nil
	default:
		c.logger.Warn("Settlement retry abandoned", zap.String("invoice_id", msg.InvoiceID), zap.String("error", svcErr.Message))
		return nil
	}
}
