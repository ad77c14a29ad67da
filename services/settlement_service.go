package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketplace-service/models"
	aws_pkg "marketplace-service/pkg/aws"
	"marketplace-service/repository"
)

// SettlementService applies a paid invoice: stock, owner balances, transaction
// status and owner orders. Every step is idempotent so deliveries can repeat.
type SettlementService interface {
	Settle(ctx context.Context, invoiceID string) *ServiceError
}

type SettlementDeps struct {
	Invoices     repository.InvoiceRepository
	Transactions repository.TransactionRepository
	Products     repository.ProductRepository
	Balances     repository.BalanceRepository
	Orders       repository.OrderRepository
	Settlements  repository.SettlementRepository
	Outbox       repository.OutboxRepository
	Locker       repository.Locker
	RetryQueue   aws_pkg.QueueSender // optional
	Metrics      aws_pkg.MetricsRecorder
}

type settlementServiceImpl struct {
	SettlementDeps
	lockTTL time.Duration
	logger  *zap.Logger
}

func NewSettlementService(deps SettlementDeps, lockTTL time.Duration, logger *zap.Logger) SettlementService {
	return &settlementServiceImpl{SettlementDeps: deps, lockTTL: lockTTL, logger: logger}
}

// RetryMessage is the body queued when a settlement must be retried.
type RetryMessage struct {
	InvoiceID string `json:"invoice_id"`
}

const msgSettlementRetrying = "Settlement incomplete, it will be retried"

// errStockConflict stops the saga without retry.
type errStockConflict struct{ productID string }

func (e errStockConflict) Error() string {
	return "insufficient stock for product " + e.productID
}

func (s *settlementServiceImpl) Settle(ctx context.Context, invoiceID string) *ServiceError {
	release, err := s.Locker.Acquire(ctx, "settlement:"+invoiceID, s.lockTTL)
	if errors.Is(err, repository.ErrLockNotAcquired) {
		return conflictError("Settlement already in progress")
	}
	if err != nil {
		s.logger.Error("Failed to acquire settlement lock", zap.String("invoice_id", invoiceID), zap.Error(err))
		s.enqueueRetry(ctx, invoiceID)
		return internalError(msgSettlementRetrying)
	}
	defer release()

	view, err := s.Invoices.FindByInvoiceID(ctx, invoiceID, repository.IncludeTransactions)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundError("Invoice")
	}
	if err != nil {
		s.logger.Error("Failed to load invoice for settlement", zap.String("invoice_id", invoiceID), zap.Error(err))
		s.enqueueRetry(ctx, invoiceID)
		return internalError(msgSettlementRetrying)
	}
	if view.Status != models.InvoicePaid {
		return domainConflict("Invoice %s is not paid", invoiceID)
	}

	record, err := s.Settlements.Begin(ctx, invoiceID)
	if err != nil {
		s.logger.Error("Failed to open settlement record", zap.String("invoice_id", invoiceID), zap.Error(err))
		s.enqueueRetry(ctx, invoiceID)
		return internalError(msgSettlementRetrying)
	}
	switch record.Status {
	case models.SettlementCompleted:
		s.markSettled(ctx, invoiceID)
		return nil
	case models.SettlementFailed:
		s.markSettled(ctx, invoiceID)
		return domainConflict("Settlement failed: %s", record.LastError)
	}

	log := s.logger.With(zap.String("invoice_id", invoiceID), zap.Int("attempt", record.Attempts))
	err = s.apply(ctx, &view.Invoice, view.Transactions, record)

	var conflict errStockConflict
	switch {
	case errors.As(err, &conflict):
		log.Warn("Settlement conflict", zap.Error(err))
		s.compensateStock(ctx, invoiceID, view.Transactions, record)
		if ferr := s.Settlements.Finish(ctx, invoiceID, models.SettlementFailed, err.Error()); ferr != nil {
			log.Error("Failed to record settlement failure", zap.Error(ferr))
		} else {
			s.markSettled(ctx, invoiceID)
		}
		emit(ctx, s.Outbox, s.logger, models.EventSettlementConflict, invoiceID, map[string]any{
			"invoice_id": invoiceID,
			"product_id": conflict.productID,
			"reason":     err.Error(),
		})
		recordCount(ctx, s.Metrics, aws_pkg.MetricSettlementsFailed, map[string]string{"Reason": "stock"})
		return domainConflict("Insufficient stock to settle invoice %s", invoiceID)

	case err != nil:
		log.Error("Settlement step failed, will retry", zap.Error(err))
		if ferr := s.Settlements.Finish(ctx, invoiceID, models.SettlementPending, err.Error()); ferr != nil {
			log.Error("Failed to record settlement error", zap.Error(ferr))
		}
		s.enqueueRetry(ctx, invoiceID)
		recordCount(ctx, s.Metrics, aws_pkg.MetricSettlementsFailed, map[string]string{"Reason": "transient"})
		return internalError(msgSettlementRetrying)
	}

	if err := s.Settlements.Finish(ctx, invoiceID, models.SettlementCompleted, ""); err != nil {
		log.Error("Failed to complete settlement record", zap.Error(err))
		return internalError("Failed to complete settlement")
	}
	s.markSettled(ctx, invoiceID)
	emit(ctx, s.Outbox, s.logger, models.EventSettlementCompleted, invoiceID, map[string]any{
		"invoice_id":   invoiceID,
		"transactions": len(view.Transactions),
	})
	recordCount(ctx, s.Metrics, aws_pkg.MetricSettlementsCompleted, nil)
	if view.PaidAt != nil {
		recordLatency(ctx, s.Metrics, aws_pkg.MetricSettlementLatency, time.Since(*view.PaidAt), nil)
	}
	log.Info("Settlement completed", zap.Int("transactions", len(view.Transactions)))
	return nil
}

// apply runs every step not yet done. Stock steps for all lines run before any money
// moves, so a shortage never leaves a partial credit behind.
func (s *settlementServiceImpl) apply(ctx context.Context, inv *models.Invoice, txs []models.Transaction, rec *models.Settlement) error {
	id := inv.InvoiceID

	for _, tx := range txs {
		step := models.StockStep(tx.ID)
		if rec.Done(step) {
			continue
		}
		err := s.Products.DecrementStock(ctx, tx.ProductID, tx.Quantity, models.LedgerKey(id, step))
		if errors.Is(err, repository.ErrInsufficientStock) || errors.Is(err, repository.ErrNotFound) {
			s.mark(ctx, id, step, models.StepFailed, err)
			return errStockConflict{productID: tx.ProductID}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}
		s.mark(ctx, id, step, models.StepDone, nil)
		rec.Steps = withStep(rec.Steps, step)
	}

	for _, tx := range txs {
		step := models.CreditStep(tx.ID)
		if rec.Done(step) {
			continue
		}
		amount := decimal.NewFromFloat(tx.Price).Mul(decimal.NewFromInt(int64(tx.Quantity))).Round(2)
		if err := s.Balances.Credit(ctx, tx.Owner, amount.InexactFloat64(), models.LedgerKey(id, step)); err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}
		s.mark(ctx, id, step, models.StepDone, nil)
		recordValue(ctx, s.Metrics, aws_pkg.MetricOwnerCredited, amount.InexactFloat64(), map[string]string{"OwnerType": string(tx.Owner.Type)})
	}

	for _, tx := range txs {
		step := models.CompleteStep(tx.ID)
		if rec.Done(step) {
			continue
		}
		if err := s.Transactions.SetStatus(ctx, []string{tx.ID}, models.TransactionCompleted); err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}
		s.mark(ctx, id, step, models.StepDone, nil)
	}

	if !rec.Done(models.StepOrders) {
		for _, order := range groupOrders(inv, txs) {
			if err := s.Orders.Upsert(ctx, order); err != nil {
				return fmt.Errorf("%s: %w", models.StepOrders, err)
			}
		}
		s.mark(ctx, id, models.StepOrders, models.StepDone, nil)
	}
	return nil
}

// compensateStock puts back the units taken by stock steps that already ran.
func (s *settlementServiceImpl) compensateStock(ctx context.Context, invoiceID string, txs []models.Transaction, rec *models.Settlement) {
	for _, tx := range txs {
		step := models.StockStep(tx.ID)
		if !rec.Done(step) {
			continue
		}
		key := models.LedgerKey(invoiceID, "restock:"+tx.ID)
		if err := s.Products.RestoreStock(ctx, tx.ProductID, tx.Quantity, key); err != nil {
			s.logger.Error("Failed to restore stock", zap.String("invoice_id", invoiceID), zap.String("product_id", tx.ProductID), zap.Error(err))
		}
	}
}

func (s *settlementServiceImpl) mark(ctx context.Context, invoiceID, step string, status models.StepStatus, stepErr error) {
	now := time.Now().UTC()
	st := models.SettlementStep{Status: status}
	if status == models.StepDone {
		st.AppliedAt = &now
	}
	if stepErr != nil {
		st.Error = stepErr.Error()
	}
	// The ledger keys on the mutated documents make the step idempotent; this record
	// only saves work on retries.
	if err := s.Settlements.MarkStep(ctx, invoiceID, step, st); err != nil {
		s.logger.Warn("Failed to record settlement step", zap.String("invoice_id", invoiceID), zap.String("step", step), zap.Error(err))
	}
}

// markSettled takes the invoice out of the reconciler's unsettled scan. A failed write
// only means the next pass settles it again, which is a no-op.
func (s *settlementServiceImpl) markSettled(ctx context.Context, invoiceID string) {
	if err := s.Invoices.MarkSettled(ctx, invoiceID); err != nil {
		s.logger.Warn("Failed to mark invoice settled", zap.String("invoice_id", invoiceID), zap.Error(err))
	}
}

func (s *settlementServiceImpl) enqueueRetry(ctx context.Context, invoiceID string) {
	if s.RetryQueue == nil {
		return
	}
	body, _ := json.Marshal(RetryMessage{InvoiceID: invoiceID})
	if err := s.RetryQueue.SendMessage(ctx, string(body)); err != nil {
		s.logger.Error("Failed to enqueue settlement retry", zap.String("invoice_id", invoiceID), zap.Error(err))
	}
}

func withStep(steps map[string]models.SettlementStep, step string) map[string]models.SettlementStep {
	if steps == nil {
		steps = map[string]models.SettlementStep{}
	}
	steps[step] = models.SettlementStep{Status: models.StepDone}
	return steps
}

// groupOrders builds one order per owner, in a stable order.
func groupOrders(inv *models.Invoice, txs []models.Transaction) []*models.Order {
	byOwner := map[string]*models.Order{}
	totals := map[string]decimal.Decimal{}
	var keys []string

	for _, tx := range txs {
		k := tx.Owner.Key()
		o, ok := byOwner[k]
		if !ok {
			o = &models.Order{
				ID:        uuid.NewString(),
				InvoiceID: inv.InvoiceID,
				BuyerID:   inv.UserID,
				Owner:     tx.Owner,
				CreatedAt: time.Now().UTC(),
			}
			byOwner[k] = o
			keys = append(keys, k)
		}
		o.Items = append(o.Items, models.OrderItem{
			TransactionID: tx.ID,
			ProductID:     tx.ProductID,
			Quantity:      tx.Quantity,
			Price:         tx.Price,
		})
		totals[k] = totals[k].Add(decimal.NewFromFloat(tx.Price).Mul(decimal.NewFromInt(int64(tx.Quantity))))
	}

	sort.Strings(keys)
	out := make([]*models.Order, 0, len(keys))
	for _, k := range keys {
		o := byOwner[k]
		o.Total = totals[k].Round(2).InexactFloat64()
		out = append(out, o)
	}
	return out
}
