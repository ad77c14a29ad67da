package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"marketplace-service/models"
	"marketplace-service/policy"
	"marketplace-service/query"
	"marketplace-service/repository"
)

// OrderService serves the read side of checkout: what a buyer bought, what an owner
// sold, and owner balances.
type OrderService interface {
	GetInvoice(ctx context.Context, actor policy.Actor, invoiceID string, includes []repository.Include) (*models.InvoiceView, *ServiceError)
	ListInvoices(ctx context.Context, actor policy.Actor, page, limit int) ([]models.Invoice, query.Meta, *ServiceError)
	ListTransactions(ctx context.Context, actor policy.Actor, page, limit int) ([]models.Transaction, query.Meta, *ServiceError)
	ListOrders(ctx context.Context, actor policy.Actor, page, limit int) ([]models.Order, query.Meta, *ServiceError)
	// ListSales lists orders placed with an owner. salonID selects one of the actor's
	// salons; empty means the actor's own products.
	ListSales(ctx context.Context, actor policy.Actor, salonID string, page, limit int) ([]models.Order, query.Meta, *ServiceError)
	Balance(ctx context.Context, actor policy.Actor, salonID string) (float64, *ServiceError)
}

type orderServiceImpl struct {
	invoices     repository.InvoiceRepository
	transactions repository.TransactionRepository
	orders       repository.OrderRepository
	balances     repository.BalanceRepository
	salons       repository.ResourceRepository[models.Salon]
	logger       *zap.Logger
}

func NewOrderService(
	invoices repository.InvoiceRepository,
	transactions repository.TransactionRepository,
	orders repository.OrderRepository,
	balances repository.BalanceRepository,
	salons repository.ResourceRepository[models.Salon],
	logger *zap.Logger,
) OrderService {
	return &orderServiceImpl{
		invoices:     invoices,
		transactions: transactions,
		orders:       orders,
		balances:     balances,
		salons:       salons,
		logger:       logger,
	}
}

func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = query.DefaultPage
	}
	if limit < 1 {
		limit = query.DefaultLimit
	}
	return page, min(limit, query.MaxLimit)
}

func meta(page, limit int, total int64) query.Meta {
	return query.NewMeta(query.ListQuery{Page: page, Limit: limit}, total)
}

func (s *orderServiceImpl) GetInvoice(ctx context.Context, actor policy.Actor, invoiceID string, includes []repository.Include) (*models.InvoiceView, *ServiceError) {
	view, err := s.invoices.FindByInvoiceID(ctx, invoiceID, includes...)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("Invoice")
	}
	if err != nil {
		s.logger.Error("Failed to load invoice", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, internalError("Failed to load invoice")
	}
	if d := policy.CanPerform(actor, policy.Read, policy.Target{Kind: policy.Invoices, OwnerID: view.UserID}); !d.Allowed {
		return nil, notFoundError("Invoice")
	}
	return view, nil
}

func (s *orderServiceImpl) ListInvoices(ctx context.Context, actor policy.Actor, page, limit int) ([]models.Invoice, query.Meta, *ServiceError) {
	page, limit = clampPage(page, limit)
	items, total, err := s.invoices.ListByUser(ctx, actor.UserID, page, limit)
	if err != nil {
		s.logger.Error("Failed to list invoices", zap.String("user_id", actor.UserID), zap.Error(err))
		return nil, query.Meta{}, internalError("Failed to list invoices")
	}
	return items, meta(page, limit, total), nil
}

func (s *orderServiceImpl) ListTransactions(ctx context.Context, actor policy.Actor, page, limit int) ([]models.Transaction, query.Meta, *ServiceError) {
	page, limit = clampPage(page, limit)
	items, total, err := s.transactions.ListByUser(ctx, actor.UserID, page, limit)
	if err != nil {
		s.logger.Error("Failed to list transactions", zap.String("user_id", actor.UserID), zap.Error(err))
		return nil, query.Meta{}, internalError("Failed to list transactions")
	}
	return items, meta(page, limit, total), nil
}

func (s *orderServiceImpl) ListOrders(ctx context.Context, actor policy.Actor, page, limit int) ([]models.Order, query.Meta, *ServiceError) {
	page, limit = clampPage(page, limit)
	items, total, err := s.orders.ListByBuyer(ctx, actor.UserID, page, limit)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.String("user_id", actor.UserID), zap.Error(err))
		return nil, query.Meta{}, internalError("Failed to list orders")
	}
	return items, meta(page, limit, total), nil
}

func (s *orderServiceImpl) ListSales(ctx context.Context, actor policy.Actor, salonID string, page, limit int) ([]models.Order, query.Meta, *ServiceError) {
	owner, svcErr := s.ownerFor(ctx, actor, salonID)
	if svcErr != nil {
		return nil, query.Meta{}, svcErr
	}
	page, limit = clampPage(page, limit)
	items, total, err := s.orders.ListByOwner(ctx, owner, page, limit)
	if err != nil {
		s.logger.Error("Failed to list sales", zap.String("owner", owner.Key()), zap.Error(err))
		return nil, query.Meta{}, internalError("Failed to list sales")
	}
	return items, meta(page, limit, total), nil
}

func (s *orderServiceImpl) Balance(ctx context.Context, actor policy.Actor, salonID string) (float64, *ServiceError) {
	owner, svcErr := s.ownerFor(ctx, actor, salonID)
	if svcErr != nil {
		return 0, svcErr
	}
	balance, err := s.balances.Balance(ctx, owner)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("Failed to read balance", zap.String("owner", owner.Key()), zap.Error(err))
		return 0, internalError("Failed to read balance")
	}
	return balance, nil
}

func (s *orderServiceImpl) ownerFor(ctx context.Context, actor policy.Actor, salonID string) (models.Owner, *ServiceError) {
	if salonID == "" {
		return models.Owner{Type: models.OwnerUser, ID: actor.UserID}, nil
	}
	salon, err := s.salons.FindByID(ctx, salonID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Owner{}, notFoundError("Salon")
	}
	if err != nil {
		s.logger.Error("Failed to load salon", zap.String("salon_id", salonID), zap.Error(err))
		return models.Owner{}, internalError("Failed to load salon")
	}
	if salon.OwnerUserID != actor.UserID && !actor.IsAdmin() {
		return models.Owner{}, forbiddenError("You do not own this salon")
	}
	return models.Owner{Type: models.OwnerSalon, ID: salon.ID}, nil
}
