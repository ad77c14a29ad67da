package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketplace-service/models"
	aws_pkg "marketplace-service/pkg/aws"
	"marketplace-service/policy"
	"marketplace-service/providers"
	"marketplace-service/repository"
)

// FlowHandler is the settlement branch run when an invoice of a given flow is paid
// or fails.
type FlowHandler struct {
	OnPaid   func(ctx context.Context, inv *models.Invoice) *ServiceError
	OnFailed func(ctx context.Context, inv *models.Invoice)
}

// PaymentService confirms gateway payments and drives the invoice state machine.
type PaymentService interface {
	// Confirm handles the buyer returning from the gateway.
	Confirm(ctx context.Context, provider string, flow models.Flow, invoiceID string) (*models.Invoice, *ServiceError)
	// ConfirmByUser lets the buyer poll the gateway for an invoice.
	ConfirmByUser(ctx context.Context, actor policy.Actor, invoiceID string) (*models.Invoice, *ServiceError)
	HandleWebhook(ctx context.Context, provider string, header http.Header, body []byte) *ServiceError
	// Reconcile polls the gateway for a stale invoice and expires it when the
	// payment never completed.
	Reconcile(ctx context.Context, inv *models.Invoice) error
}

type PaymentDeps struct {
	Invoices     repository.InvoiceRepository
	Transactions repository.TransactionRepository
	Vouchers     repository.VoucherRepository
	Outbox       repository.OutboxRepository
	Gateways     *providers.Registry
	Settlement   SettlementService
	Metrics      aws_pkg.MetricsRecorder
}

type paymentServiceImpl struct {
	PaymentDeps
	flows  map[models.Flow]FlowHandler
	logger *zap.Logger
}

func NewPaymentService(deps PaymentDeps, logger *zap.Logger) PaymentService {
	s := &paymentServiceImpl{PaymentDeps: deps, logger: logger}
	s.flows = map[models.Flow]FlowHandler{
		models.FlowCheckout: {OnPaid: s.settleCheckout, OnFailed: s.failCheckout},
	}
	return s
}

func (s *paymentServiceImpl) Confirm(ctx context.Context, provider string, flow models.Flow, invoiceID string) (*models.Invoice, *ServiceError) {
	if _, ok := s.flows[flow]; !ok {
		return nil, notFoundError("Payment flow")
	}
	inv, svcErr := s.load(ctx, invoiceID)
	if svcErr != nil {
		return nil, svcErr
	}
	if inv.Provider != provider || inv.Flow != flow {
		return nil, notFoundError("Invoice")
	}
	return s.confirm(ctx, inv)
}

func (s *paymentServiceImpl) ConfirmByUser(ctx context.Context, actor policy.Actor, invoiceID string) (*models.Invoice, *ServiceError) {
	inv, svcErr := s.load(ctx, invoiceID)
	if svcErr != nil {
		return nil, svcErr
	}
	d := policy.CanPerform(actor, policy.Read, policy.Target{Kind: policy.Invoices, OwnerID: inv.UserID})
	if !d.Allowed {
		// Another user's invoice is indistinguishable from a missing one.
		return nil, notFoundError("Invoice")
	}
	return s.confirm(ctx, inv)
}

func (s *paymentServiceImpl) HandleWebhook(ctx context.Context, provider string, header http.Header, body []byte) *ServiceError {
	verifier, err := s.Gateways.Verifier(provider)
	if err != nil {
		return notFoundError("Payment provider")
	}
	event, err := verifier.ParseWebhook(ctx, header, body)
	if errors.Is(err, providers.ErrInvalidSignature) {
		s.logger.Warn("Rejected webhook with invalid signature", zap.String("provider", provider))
		return unauthorizedError("Invalid webhook signature")
	}
	if err != nil {
		s.logger.Warn("Malformed webhook", zap.String("provider", provider), zap.Error(err))
		return validationError("Malformed webhook payload", nil)
	}

	var inv *models.Invoice
	if event.PaymentID != "" {
		inv, err = s.Invoices.FindByPaymentID(ctx, event.PaymentID)
	}
	if (inv == nil || errors.Is(err, repository.ErrNotFound)) && event.InvoiceID != "" {
		var view *models.InvoiceView
		view, err = s.Invoices.FindByInvoiceID(ctx, event.InvoiceID)
		if view != nil {
			inv = &view.Invoice
		}
	}
	if errors.Is(err, repository.ErrNotFound) || (err == nil && inv == nil) {
		// Deliveries for payments this service never opened are acknowledged.
		s.logger.Info("Webhook for unknown payment", zap.String("provider", provider), zap.String("payment_id", event.PaymentID))
		return nil
	}
	if err != nil {
		s.logger.Error("Failed to resolve webhook invoice", zap.Error(err))
		return internalError("Failed to process webhook")
	}
	if inv.Provider != provider {
		return nil
	}

	_, svcErr := s.confirm(ctx, inv)
	if svcErr != nil && svcErr.StatusCode < http.StatusInternalServerError && svcErr.StatusCode != http.StatusBadGateway {
		// Payment outcomes that are not errors of this service are acknowledged so
		// the gateway stops redelivering.
		s.logger.Info("Webhook processed", zap.String("invoice_id", inv.InvoiceID), zap.String("outcome", svcErr.Message))
		return nil
	}
	return svcErr
}

func (s *paymentServiceImpl) load(ctx context.Context, invoiceID string) (*models.Invoice, *ServiceError) {
	view, err := s.Invoices.FindByInvoiceID(ctx, invoiceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("Invoice")
	}
	if err != nil {
		s.logger.Error("Failed to load invoice", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, internalError("Failed to load invoice")
	}
	return &view.Invoice, nil
}

func (s *paymentServiceImpl) confirm(ctx context.Context, inv *models.Invoice) (*models.Invoice, *ServiceError) {
	handler, ok := s.flows[inv.Flow]
	if !ok {
		return nil, notFoundError("Payment flow")
	}

	switch inv.Status {
	case models.InvoicePaid:
		// Settlement is idempotent; a repeat delivery only finishes a pending one.
		if svcErr := handler.OnPaid(ctx, inv); svcErr != nil && svcErr.Kind != KindConflict {
			s.logger.Warn("Settlement re-drive incomplete", zap.String("invoice_id", inv.InvoiceID), zap.String("error", svcErr.Message))
		}
		return inv, nil
	case models.InvoiceFailed:
		return nil, domainConflict("Invoice %s has failed: %s", inv.InvoiceID, inv.FailureReason)
	case models.InvoiceCreated:
		return nil, paymentNotCompleted()
	}

	gateway, err := s.Gateways.Get(inv.Provider)
	if err != nil {
		return nil, notFoundError("Payment provider")
	}
	if len(inv.PaymentIDs) == 0 {
		return nil, paymentNotCompleted()
	}
	paymentID := inv.PaymentIDs[len(inv.PaymentIDs)-1]

	payment, err := gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		s.logger.Error("Failed to fetch payment", zap.String("provider", gateway.Name()), zap.String("payment_id", paymentID), zap.Error(err))
		return nil, gatewayError(err)
	}
	if payment.Status == providers.StatusAuthorized {
		payment, err = gateway.CapturePayment(ctx, paymentID)
		if err != nil {
			s.logger.Error("Failed to capture payment", zap.String("provider", gateway.Name()), zap.String("payment_id", paymentID), zap.Error(err))
			return nil, gatewayError(err)
		}
	}

	switch payment.Status {
	case providers.StatusPaid:
		return s.markPaid(ctx, inv, payment, handler)
	case providers.StatusFailed:
		return nil, s.markFailed(ctx, inv, payment, handler)
	default:
		return nil, paymentNotCompleted()
	}
}

func (s *paymentServiceImpl) markPaid(ctx context.Context, inv *models.Invoice, payment *providers.Payment, handler FlowHandler) (*models.Invoice, *ServiceError) {
	if expected := minorUnits(inv.TotalAmount); payment.Amount != expected {
		s.logger.Error("Payment amount mismatch",
			zap.String("invoice_id", inv.InvoiceID),
			zap.Int64("expected", expected),
			zap.Int64("paid", payment.Amount),
		)
		return nil, externalError(http.StatusBadGateway, "Payment amount does not match invoice total")
	}

	now := time.Now().UTC()
	paid, err := s.Invoices.Transition(ctx, inv.InvoiceID, models.InvoiceAwaitingPayment, models.InvoicePaid, map[string]any{
		"paid_at":    now,
		"payment_id": payment.ID,
	})
	if errors.Is(err, repository.ErrInvalidTransition) {
		// A concurrent delivery won the transition.
		current, svcErr := s.load(ctx, inv.InvoiceID)
		if svcErr != nil {
			return nil, svcErr
		}
		if current.Status == models.InvoicePaid {
			return current, nil
		}
		return nil, domainConflict("Invoice %s is %s", current.InvoiceID, current.Status)
	}
	if err != nil {
		s.logger.Error("Failed to mark invoice paid", zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
		return nil, internalError("Failed to update invoice")
	}

	emit(ctx, s.Outbox, s.logger, models.EventInvoicePaid, paid.InvoiceID, map[string]any{
		"invoice_id":   paid.InvoiceID,
		"user_id":      paid.UserID,
		"payment_id":   payment.ID,
		"total_amount": paid.TotalAmount,
		"provider":     paid.Provider,
	})
	recordCount(ctx, s.Metrics, aws_pkg.MetricPaymentSucceeded, map[string]string{"Provider": paid.Provider})
	s.logger.Info("Invoice paid", zap.String("invoice_id", paid.InvoiceID), zap.String("payment_id", payment.ID))

	if svcErr := handler.OnPaid(ctx, paid); svcErr != nil {
		// The payment stands; settlement problems are retried or surfaced through
		// the settlement record.
		s.logger.Warn("Settlement did not complete", zap.String("invoice_id", paid.InvoiceID), zap.String("error", svcErr.Message))
	}
	return paid, nil
}

func (s *paymentServiceImpl) markFailed(ctx context.Context, inv *models.Invoice, payment *providers.Payment, handler FlowHandler) *ServiceError {
	reason := payment.Message
	if reason == "" {
		reason = "declined"
	}
	failed, err := s.Invoices.Transition(ctx, inv.InvoiceID, models.InvoiceAwaitingPayment, models.InvoiceFailed, map[string]any{
		"failure_reason": reason,
		"payment_id":     payment.ID,
	})
	if errors.Is(err, repository.ErrInvalidTransition) {
		return domainConflict("payment failed: %s", reason)
	}
	if err != nil {
		s.logger.Error("Failed to mark invoice failed", zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
		return internalError("Failed to update invoice")
	}

	handler.OnFailed(ctx, failed)
	emit(ctx, s.Outbox, s.logger, models.EventInvoiceFailed, failed.InvoiceID, map[string]any{
		"invoice_id": failed.InvoiceID,
		"reason":     reason,
	})
	recordCount(ctx, s.Metrics, aws_pkg.MetricPaymentFailed, map[string]string{"Provider": failed.Provider})
	s.logger.Info("Invoice payment failed", zap.String("invoice_id", failed.InvoiceID), zap.String("reason", reason))
	return domainConflict("payment failed: %s", reason)
}

func (s *paymentServiceImpl) settleCheckout(ctx context.Context, inv *models.Invoice) *ServiceError {
	return s.Settlement.Settle(ctx, inv.InvoiceID)
}

func (s *paymentServiceImpl) failCheckout(ctx context.Context, inv *models.Invoice) {
	if err := s.Transactions.SetStatus(ctx, inv.TransactionIDs, models.TransactionFailed); err != nil {
		s.logger.Error("Failed to mark transactions failed", zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
	}
	if inv.VoucherCode != "" {
		if err := s.Vouchers.Release(ctx, inv.VoucherCode, inv.UserID); err != nil {
			s.logger.Error("Failed to release voucher", zap.String("code", inv.VoucherCode), zap.Error(err))
		}
	}
}

func (s *paymentServiceImpl) Reconcile(ctx context.Context, inv *models.Invoice) error {
	handler, ok := s.flows[inv.Flow]
	if !ok {
		return nil
	}
	if inv.Status == models.InvoiceAwaitingPayment {
		_, svcErr := s.confirm(ctx, inv)
		switch {
		case svcErr == nil:
			return nil
		case !isPaymentPending(svcErr):
			if svcErr.StatusCode >= http.StatusInternalServerError {
				return svcErr
			}
			return nil
		}
	}

	expired, err := s.Invoices.Transition(ctx, inv.InvoiceID, inv.Status, models.InvoiceFailed, map[string]any{
		"failure_reason": "expired",
	})
	if errors.Is(err, repository.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return err
	}
	handler.OnFailed(ctx, expired)
	emit(ctx, s.Outbox, s.logger, models.EventInvoiceFailed, expired.InvoiceID, map[string]any{
		"invoice_id": expired.InvoiceID,
		"reason":     "expired",
	})
	recordCount(ctx, s.Metrics, aws_pkg.MetricInvoicesExpired, map[string]string{"Provider": expired.Provider})
	s.logger.Info("Invoice expired", zap.String("invoice_id", expired.InvoiceID))
	return nil
}

const msgPaymentNotCompleted = "payment not completed"

func paymentNotCompleted() *ServiceError {
	return domainConflict(msgPaymentNotCompleted)
}

func isPaymentPending(e *ServiceError) bool {
	return e != nil && e.Kind == KindDomainConflict && e.Message == msgPaymentNotCompleted
}

// minorUnits converts a major unit amount to the integer minor units gateways use.
func minorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}
