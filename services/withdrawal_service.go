package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketplace-service/models"
	"marketplace-service/policy"
	"marketplace-service/query"
	"marketplace-service/repository"
)

// WithdrawalService moves money out of owner balances. The balance is debited when the
// request is made and refunded if an admin rejects it.
type WithdrawalService interface {
	Request(ctx context.Context, actor policy.Actor, req models.CreateWithdrawalRequest) (*models.Withdrawal, *ServiceError)
	Approve(ctx context.Context, actor policy.Actor, id, note string) (*models.Withdrawal, *ServiceError)
	Reject(ctx context.Context, actor policy.Actor, id, note string) (*models.Withdrawal, *ServiceError)
	Get(ctx context.Context, actor policy.Actor, id string) (*models.Withdrawal, *ServiceError)
	List(ctx context.Context, actor policy.Actor, status models.WithdrawalStatus, page, limit int) ([]models.Withdrawal, query.Meta, *ServiceError)
}

type withdrawalServiceImpl struct {
	withdrawals repository.WithdrawalRepository
	balances    repository.BalanceRepository
	salons      repository.ResourceRepository[models.Salon]
	outbox      repository.OutboxRepository
	logger      *zap.Logger
}

func NewWithdrawalService(
	withdrawals repository.WithdrawalRepository,
	balances repository.BalanceRepository,
	salons repository.ResourceRepository[models.Salon],
	outbox repository.OutboxRepository,
	logger *zap.Logger,
) WithdrawalService {
	return &withdrawalServiceImpl{
		withdrawals: withdrawals,
		balances:    balances,
		salons:      salons,
		outbox:      outbox,
		logger:      logger,
	}
}

func debitKey(id string) string  { return "withdrawal:" + id }
func refundKey(id string) string { return "withdrawal-refund:" + id }

func (s *withdrawalServiceImpl) Request(ctx context.Context, actor policy.Actor, req models.CreateWithdrawalRequest) (*models.Withdrawal, *ServiceError) {
	if d := policy.CanPerform(actor, policy.Create, policy.Target{Kind: policy.Withdrawals}); !d.Allowed {
		return nil, forbiddenError(d.Reason)
	}
	owner, svcErr := s.resolveOwner(ctx, actor, req)
	if svcErr != nil {
		return nil, svcErr
	}

	amount := decimal.NewFromFloat(req.Amount).Round(2)
	if !amount.IsPositive() {
		return nil, fieldError("amount", "must be greater than 0")
	}

	now := time.Now().UTC()
	w := &models.Withdrawal{
		ID:          uuid.NewString(),
		Owner:       owner,
		RequestedBy: actor.UserID,
		Amount:      amount.InexactFloat64(),
		IBAN:        req.IBAN,
		Status:      models.WithdrawalPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.balances.Debit(ctx, owner, w.Amount, debitKey(w.ID))
	if errors.Is(err, repository.ErrInsufficientBalance) {
		return nil, domainConflict("Insufficient balance for a withdrawal of %s", amount.StringFixed(2))
	}
	if err != nil {
		s.logger.Error("Failed to debit balance", zap.String("owner", owner.Key()), zap.Error(err))
		return nil, internalError("Failed to request withdrawal")
	}

	if err := s.withdrawals.Create(ctx, w); err != nil {
		s.logger.Error("Failed to record withdrawal, refunding", zap.String("withdrawal_id", w.ID), zap.Error(err))
		if rerr := s.balances.Credit(ctx, owner, w.Amount, refundKey(w.ID)); rerr != nil {
			s.logger.Error("Failed to refund withdrawal debit", zap.String("withdrawal_id", w.ID), zap.Error(rerr))
		}
		return nil, internalError("Failed to request withdrawal")
	}

	emit(ctx, s.outbox, s.logger, models.EventWithdrawalRequested, w.ID, map[string]any{
		"withdrawal_id": w.ID,
		"owner_type":    string(owner.Type),
		"owner_id":      owner.ID,
		"amount":        w.Amount,
	})
	s.logger.Info("Withdrawal requested", zap.String("withdrawal_id", w.ID), zap.String("owner", owner.Key()), zap.Float64("amount", w.Amount))
	return w, nil
}

func (s *withdrawalServiceImpl) resolveOwner(ctx context.Context, actor policy.Actor, req models.CreateWithdrawalRequest) (models.Owner, *ServiceError) {
	if req.OwnerType != models.OwnerSalon {
		return models.Owner{Type: models.OwnerUser, ID: actor.UserID}, nil
	}
	if req.SalonID == "" {
		return models.Owner{}, fieldError("salon_id", "is required")
	}
	salon, err := s.salons.FindByID(ctx, req.SalonID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Owner{}, notFoundError("Salon")
	}
	if err != nil {
		s.logger.Error("Failed to load salon", zap.String("salon_id", req.SalonID), zap.Error(err))
		return models.Owner{}, internalError("Failed to load salon")
	}
	if salon.OwnerUserID != actor.UserID && !actor.IsAdmin() {
		return models.Owner{}, forbiddenError("You do not own this salon")
	}
	return models.Owner{Type: models.OwnerSalon, ID: salon.ID}, nil
}

func (s *withdrawalServiceImpl) Approve(ctx context.Context, actor policy.Actor, id, note string) (*models.Withdrawal, *ServiceError) {
	return s.review(ctx, actor, id, models.WithdrawalApproved, note)
}

func (s *withdrawalServiceImpl) Reject(ctx context.Context, actor policy.Actor, id, note string) (*models.Withdrawal, *ServiceError) {
	return s.review(ctx, actor, id, models.WithdrawalRejected, note)
}

func (s *withdrawalServiceImpl) review(ctx context.Context, actor policy.Actor, id string, status models.WithdrawalStatus, note string) (*models.Withdrawal, *ServiceError) {
	if d := policy.CanPerform(actor, policy.Manage, policy.Target{Kind: policy.Withdrawals}); !d.Allowed {
		return nil, forbiddenError(d.Reason)
	}

	w, err := s.withdrawals.Review(ctx, id, status, actor.UserID, note)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, notFoundError("Withdrawal")
	case errors.Is(err, repository.ErrInvalidTransition):
		return s.retryRefund(ctx, id, status)
	case err != nil:
		s.logger.Error("Failed to review withdrawal", zap.String("withdrawal_id", id), zap.Error(err))
		return nil, internalError("Failed to review withdrawal")
	}

	if status == models.WithdrawalRejected {
		if svcErr := s.refund(ctx, w); svcErr != nil {
			return nil, svcErr
		}
	}

	emit(ctx, s.outbox, s.logger, models.EventWithdrawalReviewed, w.ID, map[string]any{
		"withdrawal_id": w.ID,
		"status":        string(w.Status),
		"reviewed_by":   actor.UserID,
	})
	s.logger.Info("Withdrawal reviewed", zap.String("withdrawal_id", w.ID), zap.String("status", string(w.Status)))
	return w, nil
}

// retryRefund handles a second review of the same withdrawal. Rejecting an already
// rejected withdrawal re-runs its refund, which the ledger key keeps idempotent, so a
// reject whose refund failed can simply be sent again.
func (s *withdrawalServiceImpl) retryRefund(ctx context.Context, id string, status models.WithdrawalStatus) (*models.Withdrawal, *ServiceError) {
	if status != models.WithdrawalRejected {
		return nil, domainConflict("Withdrawal %s has already been reviewed", id)
	}
	w, err := s.withdrawals.FindByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load withdrawal", zap.String("withdrawal_id", id), zap.Error(err))
		return nil, internalError("Failed to review withdrawal")
	}
	if w.Status != models.WithdrawalRejected {
		return nil, domainConflict("Withdrawal %s has already been reviewed", id)
	}
	if svcErr := s.refund(ctx, w); svcErr != nil {
		return nil, svcErr
	}
	return w, nil
}

func (s *withdrawalServiceImpl) refund(ctx context.Context, w *models.Withdrawal) *ServiceError {
	if err := s.balances.Credit(ctx, w.Owner, w.Amount, refundKey(w.ID)); err != nil {
		s.logger.Error("Failed to refund rejected withdrawal", zap.String("withdrawal_id", w.ID), zap.Error(err))
		return internalError("Withdrawal rejected but refund failed, reject it again to retry")
	}
	return nil
}

func (s *withdrawalServiceImpl) Get(ctx context.Context, actor policy.Actor, id string) (*models.Withdrawal, *ServiceError) {
	w, err := s.withdrawals.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("Withdrawal")
	}
	if err != nil {
		s.logger.Error("Failed to load withdrawal", zap.String("withdrawal_id", id), zap.Error(err))
		return nil, internalError("Failed to load withdrawal")
	}
	if d := policy.CanPerform(actor, policy.Read, policy.Target{Kind: policy.Withdrawals, OwnerID: w.RequestedBy}); !d.Allowed {
		return nil, notFoundError("Withdrawal")
	}
	return w, nil
}

func (s *withdrawalServiceImpl) List(ctx context.Context, actor policy.Actor, status models.WithdrawalStatus, page, limit int) ([]models.Withdrawal, query.Meta, *ServiceError) {
	requestedBy := actor.UserID
	if actor.IsAdmin() {
		requestedBy = ""
	}
	page, limit = clampPage(page, limit)
	items, total, err := s.withdrawals.List(ctx, requestedBy, status, page, limit)
	if err != nil {
		s.logger.Error("Failed to list withdrawals", zap.Error(err))
		return nil, query.Meta{}, internalError("Failed to list withdrawals")
	}
	return items, meta(page, limit, total), nil
}
