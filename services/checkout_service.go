package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketplace-service/models"
	aws_pkg "marketplace-service/pkg/aws"
	"marketplace-service/providers"
	"marketplace-service/repository"
)

const maxInvoiceIDAttempts = 5

// CheckoutService turns a cart into an invoice and opens a gateway payment for it.
type CheckoutService interface {
	Checkout(ctx context.Context, userID string, req models.CheckoutRequest, idempotencyKey string) (*models.CheckoutResponse, *ServiceError)
}

type CheckoutConfig struct {
	Currency       string
	PublicBaseURL  string
	IdempotencyTTL time.Duration
}

type CheckoutDeps struct {
	Carts        repository.CartRepository
	Products     repository.ProductRepository
	Vouchers     repository.VoucherRepository
	Transactions repository.TransactionRepository
	Invoices     repository.InvoiceRepository
	Outbox       repository.OutboxRepository
	Idempotency  repository.IdempotencyStore
	Gateways     *providers.Registry
	Metrics      aws_pkg.MetricsRecorder
}

type checkoutServiceImpl struct {
	CheckoutDeps
	cfg        CheckoutConfig
	logger     *zap.Logger
	now        func() time.Time
	newInvoice func() string
}

func NewCheckoutService(deps CheckoutDeps, cfg CheckoutConfig, logger *zap.Logger) CheckoutService {
	return &checkoutServiceImpl{
		CheckoutDeps: deps,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
		newInvoice:   randomInvoiceID,
	}
}

// randomInvoiceID returns a 5 digit id; uniqueness is enforced by the invoices index.
func randomInvoiceID() string {
	return fmt.Sprintf("%05d", 10000+rand.Intn(90000))
}

// CallbackURL is where the gateway sends the buyer back after paying.
func CallbackURL(baseURL, provider string, flow models.Flow, invoiceID string) string {
	return fmt.Sprintf("%s/payments/callback/%s/%s/%s", baseURL, provider, flow, invoiceID)
}

func (s *checkoutServiceImpl) Checkout(ctx context.Context, userID string, req models.CheckoutRequest, idempotencyKey string) (*models.CheckoutResponse, *ServiceError) {
	if idempotencyKey == "" {
		resp, svcErr := s.checkout(ctx, userID, req)
		if svcErr != nil {
			return nil, svcErr
		}
		return resp, nil
	}

	key := userID + ":" + idempotencyKey
	prior, owned, err := s.Idempotency.Reserve(ctx, key, s.cfg.IdempotencyTTL)
	if err != nil {
		s.logger.Error("Idempotency store unavailable", zap.Error(err))
		return nil, internalError("Failed to process checkout")
	}
	if !owned {
		if prior == repository.PendingValue {
			return nil, conflictError("A checkout with this Idempotency-Key is in progress")
		}
		view, err := s.Invoices.FindByInvoiceID(ctx, prior)
		if err != nil {
			return nil, internalError("Failed to load previous checkout")
		}
		return &models.CheckoutResponse{Invoice: &view.Invoice, PaymentURL: view.PaymentURL, Replayed: true}, nil
	}

	// checkout returns the invoice alongside an error once a gateway payment exists for
	// it. The key stays bound to that invoice so a retry cannot open a second charge.
	resp, svcErr := s.checkout(ctx, userID, req)
	if resp != nil && resp.Invoice != nil {
		if err := s.Idempotency.Complete(ctx, key, resp.Invoice.InvoiceID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency result", zap.Error(err))
		}
	} else if err := s.Idempotency.Forget(ctx, key); err != nil {
		s.logger.Warn("Failed to release idempotency key", zap.Error(err))
	}
	if svcErr != nil {
		return nil, svcErr
	}
	return resp, nil
}

func (s *checkoutServiceImpl) checkout(ctx context.Context, userID string, req models.CheckoutRequest) (*models.CheckoutResponse, *ServiceError) {
	if req.Flow == "" {
		req.Flow = models.FlowCheckout
	}
	if req.Flow != models.FlowCheckout {
		return nil, fieldError("flow", "unsupported payment flow")
	}
	gateway, err := s.Gateways.Get(req.Provider)
	if err != nil {
		return nil, fieldError("provider", "unsupported payment provider")
	}

	cart, err := s.Carts.GetCart(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("user_id", userID), zap.Error(err))
		return nil, internalError("Failed to load cart")
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, fieldError("cart", "cart is empty")
	}

	// Stock is checked for every line before anything is written.
	ids := make([]string, 0, len(cart.Items))
	for _, it := range cart.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Products.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("Failed to load cart products", zap.Error(err))
		return nil, internalError("Failed to load products")
	}
	for _, it := range cart.Items {
		p, ok := products[it.ProductID]
		if !ok || p.DeletedAt != nil {
			s.reject(ctx, "unavailable")
			return nil, domainConflict("Product %s is no longer available", it.ProductID)
		}
		if p.AvailabilityCount < it.Quantity {
			s.reject(ctx, "insufficient_stock")
			return nil, domainConflict("Insufficient stock for %s: requested %d, available %d", p.Name, it.Quantity, p.AvailabilityCount)
		}
	}

	now := s.now().UTC()
	subtotal := decimal.Zero
	txs := make([]models.Transaction, 0, len(cart.Items))
	for _, it := range cart.Items {
		p := products[it.ProductID]
		// Prices stored before cents validation may carry sub-cent digits.
		price := decimal.NewFromFloat(p.EffectivePrice()).Round(2)
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		txs = append(txs, models.Transaction{
			ID:        uuid.NewString(),
			UserID:    userID,
			ProductID: p.ID,
			Owner:     p.Owner,
			Quantity:  it.Quantity,
			Price:     price.InexactFloat64(),
			Status:    models.TransactionPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	discount := decimal.Zero
	voucherCode := ""
	if cart.VoucherCode != "" {
		v, err := s.Vouchers.Redeem(ctx, cart.VoucherCode, userID, now)
		switch {
		case errors.Is(err, repository.ErrVoucherUsed):
			s.reject(ctx, "voucher_used")
			return nil, domainConflict("Voucher %s has already been used", cart.VoucherCode)
		case errors.Is(err, repository.ErrVoucherExpired):
			s.reject(ctx, "voucher_expired")
			return nil, domainConflict("Voucher %s has expired", cart.VoucherCode)
		case errors.Is(err, repository.ErrNotFound):
			return nil, fieldError("voucher_code", "voucher not found")
		case err != nil:
			s.logger.Error("Failed to redeem voucher", zap.String("code", cart.VoucherCode), zap.Error(err))
			return nil, internalError("Failed to apply voucher")
		}
		discount = v.Discount(subtotal)
		voucherCode = v.Code
	}
	total := subtotal.Sub(discount)
	if !total.IsPositive() {
		s.releaseVoucher(ctx, voucherCode, userID)
		return nil, domainConflict("Order total must be greater than zero")
	}

	txIDs := make([]string, len(txs))
	for i := range txs {
		txIDs[i] = txs[i].ID
	}
	inv := &models.Invoice{
		ID:             uuid.NewString(),
		UserID:         userID,
		TransactionIDs: txIDs,
		Subtotal:       subtotal.Round(2).InexactFloat64(),
		Discount:       discount.InexactFloat64(),
		TotalAmount:    total.Round(2).InexactFloat64(),
		VoucherCode:    voucherCode,
		Currency:       s.cfg.Currency,
		Provider:       gateway.Name(),
		Flow:           req.Flow,
		PaymentIDs:     []string{},
		Status:         models.InvoiceCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if svcErr := s.insertInvoice(ctx, inv); svcErr != nil {
		s.releaseVoucher(ctx, voucherCode, userID)
		return nil, svcErr
	}
	for i := range txs {
		txs[i].InvoiceID = inv.InvoiceID
	}
	if err := s.Transactions.InsertMany(ctx, txs); err != nil {
		s.logger.Error("Failed to insert transactions", zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
		s.failInvoice(ctx, inv, models.InvoiceCreated, "failed to record transactions")
		return nil, internalError("Failed to create transactions")
	}

	description := req.Description
	if description == "" {
		description = "Order " + inv.InvoiceID
	}
	payment, err := gateway.CreatePayment(ctx, providers.PaymentRequest{
		Amount:      minorUnits(inv.TotalAmount),
		Currency:    s.cfg.Currency,
		Description: description,
		CardSource:  req.CardSource,
		Metadata:    map[string]string{"user_id": userID},
		InvoiceID:   inv.InvoiceID,
		CallbackURL: CallbackURL(s.cfg.PublicBaseURL, gateway.Name(), inv.Flow, inv.InvoiceID),
	})
	if err != nil {
		s.logger.Error("Gateway rejected payment", zap.String("provider", gateway.Name()), zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
		s.failInvoice(ctx, inv, models.InvoiceCreated, "payment gateway error")
		s.reject(ctx, "gateway_error")
		return nil, gatewayError(err)
	}

	updated, err := s.Invoices.Transition(ctx, inv.InvoiceID, models.InvoiceCreated, models.InvoiceAwaitingPayment, map[string]any{
		"payment_id":  payment.ID,
		"payment_url": payment.TransactionURL,
	})
	if err != nil {
		s.logger.Error("Failed to mark invoice awaiting payment",
			zap.String("invoice_id", inv.InvoiceID),
			zap.String("payment_id", payment.ID),
			zap.Error(err),
		)
		return &models.CheckoutResponse{Invoice: inv}, internalError("Failed to update invoice")
	}

	if err := s.Carts.DeleteCart(ctx, userID); err != nil {
		s.logger.Warn("Failed to clear cart after checkout", zap.String("user_id", userID), zap.Error(err))
	}

	emit(ctx, s.Outbox, s.logger, models.EventInvoiceCreated, updated.InvoiceID, map[string]any{
		"invoice_id":   updated.InvoiceID,
		"user_id":      userID,
		"total_amount": updated.TotalAmount,
		"currency":     updated.Currency,
		"provider":     updated.Provider,
	})
	recordCount(ctx, s.Metrics, aws_pkg.MetricCheckoutsCreated, map[string]string{"Provider": gateway.Name()})

	s.logger.Info("Checkout created",
		zap.String("invoice_id", updated.InvoiceID),
		zap.String("user_id", userID),
		zap.Float64("total", updated.TotalAmount),
		zap.Int("lines", len(txs)),
	)
	return &models.CheckoutResponse{Invoice: updated, PaymentURL: updated.PaymentURL}, nil
}

// insertInvoice assigns a random invoice id, retrying on collisions.
func (s *checkoutServiceImpl) insertInvoice(ctx context.Context, inv *models.Invoice) *ServiceError {
	for attempt := 0; attempt < maxInvoiceIDAttempts; attempt++ {
		inv.InvoiceID = s.newInvoice()
		err := s.Invoices.Create(ctx, inv)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			s.logger.Error("Failed to create invoice", zap.Error(err))
			return internalError("Failed to create invoice")
		}
	}
	s.logger.Error("Exhausted invoice id attempts")
	return internalError("Failed to allocate invoice id")
}

// failInvoice marks the invoice and its transactions failed and releases the voucher.
func (s *checkoutServiceImpl) failInvoice(ctx context.Context, inv *models.Invoice, from models.InvoiceStatus, reason string) {
	if _, err := s.Invoices.Transition(ctx, inv.InvoiceID, from, models.InvoiceFailed, map[string]any{"failure_reason": reason}); err != nil {
		s.logger.Error("Failed to mark invoice failed", zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
	}
	if err := s.Transactions.SetStatus(ctx, inv.TransactionIDs, models.TransactionFailed); err != nil {
		s.logger.Error("Failed to mark transactions failed", zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
	}
	s.releaseVoucher(ctx, inv.VoucherCode, inv.UserID)
	emit(ctx, s.Outbox, s.logger, models.EventInvoiceFailed, inv.InvoiceID, map[string]any{
		"invoice_id": inv.InvoiceID,
		"reason":     reason,
	})
}

func (s *checkoutServiceImpl) releaseVoucher(ctx context.Context, code, userID string) {
	if code == "" {
		return
	}
	if err := s.Vouchers.Release(ctx, code, userID); err != nil {
		s.logger.Error("Failed to release voucher", zap.String("code", code), zap.Error(err))
	}
}

func (s *checkoutServiceImpl) reject(ctx context.Context, reason string) {
	recordCount(ctx, s.Metrics, aws_pkg.MetricCheckoutsRejected, map[string]string{"Reason": reason})
}

// gatewayError maps a gateway failure: requests the gateway refused are the
// caller's problem (400), anything else is a 502.
func gatewayError(err error) *ServiceError {
	var apiErr *providers.APIError
	if errors.As(err, &apiErr) && apiErr.Rejected() {
		return externalError(http.StatusBadRequest, "Payment gateway rejected the request: "+apiErr.Message)
	}
	return externalError(http.StatusBadGateway, "Payment gateway unavailable")
}
