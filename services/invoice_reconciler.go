package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"marketplace-service/models"
	"marketplace-service/repository"
)

// InvoiceReconciler closes out invoices whose buyer never came back and re-drives
// paid invoices whose settlement never finished.
type InvoiceReconciler struct {
	invoices   repository.InvoiceRepository
	payments   PaymentService
	settlement SettlementService
	invoiceTTL time.Duration
	interval   time.Duration
	batchSize  int64
	now        func() time.Time
	logger     *zap.Logger
}

func NewInvoiceReconciler(
	invoices repository.InvoiceRepository,
	payments PaymentService,
	settlement SettlementService,
	invoiceTTL, interval time.Duration,
	logger *zap.Logger,
) *InvoiceReconciler {
	return &InvoiceReconciler{
		invoices:   invoices,
		payments:   payments,
		settlement: settlement,
		invoiceTTL: invoiceTTL,
		interval:   interval,
		batchSize:  50,
		now:        time.Now,
		logger:     logger,
	}
}

func (r *InvoiceReconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("Invoice reconciler started", zap.Duration("invoice_ttl", r.invoiceTTL), zap.Duration("interval", r.interval))
	for {
		select {
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		case <-ctx.Done():
			r.logger.Info("Invoice reconciler stopped")
			return
		}
	}
}

// ReconcileOnce runs a single pass.
func (r *InvoiceReconciler) ReconcileOnce(ctx context.Context) {
	cutoff := r.now().UTC().Add(-r.invoiceTTL)

	for _, status := range []models.InvoiceStatus{models.InvoiceAwaitingPayment, models.InvoiceCreated} {
		stale, err := r.invoices.FindStale(ctx, status, cutoff, r.batchSize)
		if err != nil {
			r.logger.Error("Failed to find stale invoices", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		for i := range stale {
			if err := r.payments.Reconcile(ctx, &stale[i]); err != nil {
				r.logger.Warn("Failed to reconcile invoice", zap.String("invoice_id", stale[i].InvoiceID), zap.Error(err))
			}
		}
	}

	// Paid for a full interval without a final settlement: the retry message was lost,
	// the process died mid-saga, or settlement never started.
	unsettled, err := r.invoices.FindUnsettled(ctx, r.now().UTC().Add(-r.interval), r.batchSize)
	if err != nil {
		r.logger.Error("Failed to find unsettled invoices", zap.Error(err))
		return
	}
	for _, inv := range unsettled {
		if svcErr := r.settlement.Settle(ctx, inv.InvoiceID); svcErr != nil {
			r.logger.Warn("Settlement re-drive failed",
				zap.String("invoice_id", inv.InvoiceID),
				zap.String("error", svcErr.Message),
			)
		}
	}
}
