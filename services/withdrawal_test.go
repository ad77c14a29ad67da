package services_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-service/models"
	"marketplace-service/policy"
	"marketplace-service/services"
)

type withdrawalEnv struct {
	balances    *mockBalanceRepo
	withdrawals *mockWithdrawalRepo
	salons      *memResource[models.Salon]
	outbox      *mockOutboxRepo
	svc         services.WithdrawalService
}

func newWithdrawalEnv() *withdrawalEnv {
	env := &withdrawalEnv{
		balances:    newMockBalanceRepo(),
		withdrawals: newMockWithdrawalRepo(),
		salons:      newMemResource[models.Salon](),
		outbox:      &mockOutboxRepo{},
	}
	env.svc = services.NewWithdrawalService(env.withdrawals, env.balances, env.salons, env.outbox, testLogger())
	return env
}

const testIBAN = "SA0380000000608010167519"

func TestWithdrawal_RequestDebitsBalance(t *testing.T) {
	env := newWithdrawalEnv()
	ctx := context.Background()
	owner := models.Owner{Type: models.OwnerUser, ID: sellerUser.UserID}
	require.NoError(t, env.balances.Credit(ctx, owner, 150, "seed"))

	w, svcErr := env.svc.Request(ctx, sellerUser, models.CreateWithdrawalRequest{OwnerType: models.OwnerUser, Amount: 100, IBAN: testIBAN})
	require.Nil(t, svcErr)
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.Equal(t, owner, w.Owner)
	assert.InDelta(t, 50, env.balances.of(owner), 0.001)
	assert.Contains(t, env.outbox.types(), models.EventWithdrawalRequested)
}

func TestWithdrawal_InsufficientBalance(t *testing.T) {
	env := newWithdrawalEnv()
	_, svcErr := env.svc.Request(context.Background(), sellerUser, models.CreateWithdrawalRequest{OwnerType: models.OwnerUser, Amount: 10, IBAN: testIBAN})
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
	assert.Equal(t, services.KindDomainConflict, svcErr.Kind)
	assert.Empty(t, env.withdrawals.docs)
}

func TestWithdrawal_SalonRequiresOwnership(t *testing.T) {
	env := newWithdrawalEnv()
	env.salons.put(&models.Salon{ID: "s1", OwnerUserID: "someone-else", Name: "Cuts", City: "Riyadh"})

	_, svcErr := env.svc.Request(context.Background(), sellerUser,
		models.CreateWithdrawalRequest{OwnerType: models.OwnerSalon, SalonID: "s1", Amount: 10, IBAN: testIBAN})
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusForbidden, svcErr.StatusCode)
}

func TestWithdrawal_RejectRefunds(t *testing.T) {
	env := newWithdrawalEnv()
	ctx := context.Background()
	owner := models.Owner{Type: models.OwnerUser, ID: sellerUser.UserID}
	require.NoError(t, env.balances.Credit(ctx, owner, 100, "seed"))

	w, svcErr := env.svc.Request(ctx, sellerUser, models.CreateWithdrawalRequest{OwnerType: models.OwnerUser, Amount: 100, IBAN: testIBAN})
	require.Nil(t, svcErr)
	assert.Zero(t, env.balances.of(owner))

	_, svcErr = env.svc.Reject(ctx, sellerUser, w.ID, "nope")
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusForbidden, svcErr.StatusCode, "only admins review")

	rejected, svcErr := env.svc.Reject(ctx, admin, w.ID, "wrong IBAN")
	require.Nil(t, svcErr)
	assert.Equal(t, models.WithdrawalRejected, rejected.Status)
	assert.Equal(t, admin.UserID, rejected.ReviewedBy)
	assert.InDelta(t, 100, env.balances.of(owner), 0.001)

	_, svcErr = env.svc.Approve(ctx, admin, w.ID, "")
	require.NotNil(t, svcErr)
	assert.Equal(t, services.KindDomainConflict, svcErr.Kind)
	assert.InDelta(t, 100, env.balances.of(owner), 0.001)
}

func TestWithdrawal_ApproveKeepsDebit(t *testing.T) {
	env := newWithdrawalEnv()
	ctx := context.Background()
	owner := models.Owner{Type: models.OwnerUser, ID: sellerUser.UserID}
	require.NoError(t, env.balances.Credit(ctx, owner, 80, "seed"))

	w, svcErr := env.svc.Request(ctx, sellerUser, models.CreateWithdrawalRequest{OwnerType: models.OwnerUser, Amount: 30, IBAN: testIBAN})
	require.Nil(t, svcErr)

	approved, svcErr := env.svc.Approve(ctx, admin, w.ID, "paid out")
	require.Nil(t, svcErr)
	assert.Equal(t, models.WithdrawalApproved, approved.Status)
	assert.InDelta(t, 50, env.balances.of(owner), 0.001)
	assert.Contains(t, env.outbox.types(), models.EventWithdrawalReviewed)
}

func TestWithdrawal_VisibleOnlyToRequester(t *testing.T) {
	env := newWithdrawalEnv()
	ctx := context.Background()
	require.NoError(t, env.balances.Credit(ctx, models.Owner{Type: models.OwnerUser, ID: sellerUser.UserID}, 50, "seed"))
	w, svcErr := env.svc.Request(ctx, sellerUser, models.CreateWithdrawalRequest{OwnerType: models.OwnerUser, Amount: 20, IBAN: testIBAN})
	require.Nil(t, svcErr)

	_, svcErr = env.svc.Get(ctx, policy.Actor{UserID: "other", Role: models.RoleSeller}, w.ID)
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)

	got, svcErr := env.svc.Get(ctx, sellerUser, w.ID)
	require.Nil(t, svcErr)
	assert.Equal(t, w.ID, got.ID)

	items, _, svcErr := env.svc.List(ctx, buyerUser, "", 1, 10)
	require.Nil(t, svcErr)
	assert.Empty(t, items)

	items, m, svcErr := env.svc.List(ctx, admin, models.WithdrawalPending, 1, 10)
	require.Nil(t, svcErr)
	assert.Len(t, items, 1)
	assert.Equal(t, int64(1), m.Total)
}

func TestWithdrawal_RejectRetriesFailedRefund(t *testing.T) {
	env := newWithdrawalEnv()
	ctx := context.Background()
	owner := models.Owner{Type: models.OwnerUser, ID: sellerUser.UserID}
	require.NoError(t, env.balances.Credit(ctx, owner, 60, "seed"))

	w, svcErr := env.svc.Request(ctx, sellerUser, models.CreateWithdrawalRequest{OwnerType: models.OwnerUser, Amount: 60, IBAN: testIBAN})
	require.Nil(t, svcErr)

	env.balances.failNext = errors.New("write conflict")
	_, svcErr = env.svc.Reject(ctx, admin, w.ID, "wrong IBAN")
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
	assert.Zero(t, env.balances.of(owner))

	rejected, svcErr := env.svc.Reject(ctx, admin, w.ID, "wrong IBAN")
	require.Nil(t, svcErr)
	assert.Equal(t, models.WithdrawalRejected, rejected.Status)
	assert.InDelta(t, 60, env.balances.of(owner), 0.001)

	_, svcErr = env.svc.Reject(ctx, admin, w.ID, "again")
	require.Nil(t, svcErr)
	assert.InDelta(t, 60, env.balances.of(owner), 0.001, "refund is applied once")
}
