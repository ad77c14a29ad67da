package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"marketplace-service/models"
	"marketplace-service/providers"
	"marketplace-service/query"
	"marketplace-service/repository"
)

// --- Generic resource store ---

type memResource[T any] struct {
	mu      sync.Mutex
	docs    map[string]*T
	deleted map[string]bool
}

func newMemResource[T any]() *memResource[T] {
	return &memResource[T]{docs: map[string]*T{}, deleted: map[string]bool{}}
}

func idOf[T any](doc *T) string {
	return any(doc).(models.Resource).GetID()
}

func clone[T any](doc *T) *T {
	raw, _ := bson.Marshal(doc)
	var out T
	_ = bson.Unmarshal(raw, &out)
	return &out
}

func (m *memResource[T]) put(doc *T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[idOf(doc)] = clone(doc)
}

func (m *memResource[T]) FindByID(_ context.Context, id string) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || m.deleted[id] {
		return nil, repository.ErrNotFound
	}
	return clone(doc), nil
}

func (m *memResource[T]) List(_ context.Context, q query.ListQuery) ([]T, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		if !m.deleted[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, *clone(m.docs[id]))
	}
	return out, int64(len(out)), nil
}

func (m *memResource[T]) Create(_ context.Context, doc *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[idOf(doc)]; ok {
		return repository.ErrDuplicate
	}
	m.docs[idOf(doc)] = clone(doc)
	return nil
}

func (m *memResource[T]) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || m.deleted[id] {
		return repository.ErrNotFound
	}
	raw, _ := bson.Marshal(doc)
	var stored bson.M
	_ = bson.Unmarshal(raw, &stored)
	for k, v := range fields {
		stored[k] = v
	}
	raw, err := bson.Marshal(stored)
	if err != nil {
		return err
	}
	var updated T
	if err := bson.Unmarshal(raw, &updated); err != nil {
		return err
	}
	m.docs[id] = &updated
	return nil
}

func (m *memResource[T]) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok || m.deleted[id] {
		return repository.ErrNotFound
	}
	m.deleted[id] = true
	return nil
}

// --- Products ---

type mockProductRepo struct {
	*memResource[models.Product]
	keys map[string]map[string]bool
}

func newMockProductRepo() *mockProductRepo {
	return &mockProductRepo{memResource: newMemResource[models.Product](), keys: map[string]map[string]bool{}}
}

func (m *mockProductRepo) FindByIDs(_ context.Context, ids []string) (map[string]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]models.Product{}
	for _, id := range ids {
		if p, ok := m.docs[id]; ok {
			out[id] = *clone(p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) FindWithIncludes(ctx context.Context, id string, _ ...repository.Include) (*repository.ProductView, error) {
	p, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &repository.ProductView{Product: *p}, nil
}

func (m *mockProductRepo) applyOnce(id, key string) bool {
	if m.keys[id] == nil {
		m.keys[id] = map[string]bool{}
	}
	if m.keys[id][key] {
		return false
	}
	m.keys[id][key] = true
	return true
}

func (m *mockProductRepo) DecrementStock(_ context.Context, id string, qty int, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if m.keys[id][key] {
		return nil
	}
	if p.AvailabilityCount < qty {
		return repository.ErrInsufficientStock
	}
	m.applyOnce(id, key)
	p.AvailabilityCount -= qty
	return nil
}

func (m *mockProductRepo) RestoreStock(_ context.Context, id string, qty int, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if m.applyOnce(id, key) {
		p.AvailabilityCount += qty
	}
	return nil
}

func (m *mockProductRepo) PullCategory(_ context.Context, categoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.docs {
		kept := p.CategoryIDs[:0]
		for _, c := range p.CategoryIDs {
			if c != categoryID {
				kept = append(kept, c)
			}
		}
		p.CategoryIDs = kept
	}
	return nil
}

func (m *mockProductRepo) SoftDeleteByOwner(_ context.Context, owner models.Owner) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, p := range m.docs {
		if p.Owner == owner && !m.deleted[id] {
			m.deleted[id] = true
			n++
		}
	}
	return n, nil
}

func (m *mockProductRepo) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id].AvailabilityCount
}

// --- Categories ---

type mockCategoryRepo struct {
	*memResource[models.Category]
}

func newMockCategoryRepo() *mockCategoryRepo {
	return &mockCategoryRepo{memResource: newMemResource[models.Category]()}
}

func (m *mockCategoryRepo) AddProduct(_ context.Context, categoryIDs []string, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range categoryIDs {
		c, ok := m.docs[id]
		if !ok {
			continue
		}
		found := false
		for _, p := range c.ProductIDs {
			found = found || p == productID
		}
		if !found {
			c.ProductIDs = append(c.ProductIDs, productID)
		}
	}
	return nil
}

func (m *mockCategoryRepo) RemoveProduct(_ context.Context, categoryIDs []string, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range categoryIDs {
		if c, ok := m.docs[id]; ok {
			c.ProductIDs = without(c.ProductIDs, productID)
		}
	}
	return nil
}

func (m *mockCategoryRepo) PullProduct(_ context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.docs {
		c.ProductIDs = without(c.ProductIDs, productID)
	}
	return nil
}

func (m *mockCategoryRepo) CountExisting(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.docs[id]; ok && !m.deleted[id] {
			n++
		}
	}
	return n, nil
}

func without(in []string, drop string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

// --- Vouchers ---

type mockVoucherRepo struct {
	*memResource[models.Voucher]
}

func newMockVoucherRepo() *mockVoucherRepo {
	return &mockVoucherRepo{memResource: newMemResource[models.Voucher]()}
}

func (m *mockVoucherRepo) byCode(code string) *models.Voucher {
	for _, v := range m.docs {
		if v.Code == code {
			return v
		}
	}
	return nil
}

func (m *mockVoucherRepo) FindByCode(_ context.Context, code string) (*models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.byCode(models.NormalizeVoucherCode(code))
	if v == nil {
		return nil, repository.ErrNotFound
	}
	return clone(v), nil
}

func (m *mockVoucherRepo) Redeem(_ context.Context, code, userID string, now time.Time) (*models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.byCode(code)
	switch {
	case v == nil:
		return nil, repository.ErrNotFound
	case v.Used:
		return nil, repository.ErrVoucherUsed
	case !v.ExpiresAt.After(now):
		return nil, repository.ErrVoucherExpired
	}
	v.Used = true
	v.UsedBy = userID
	v.UsedAt = &now
	return clone(v), nil
}

func (m *mockVoucherRepo) Release(_ context.Context, code, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v := m.byCode(code); v != nil && v.UsedBy == userID {
		v.Used = false
		v.UsedBy = ""
		v.UsedAt = nil
	}
	return nil
}

func (m *mockVoucherRepo) used(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byCode(code).Used
}

// --- Transactions ---

type mockTransactionRepo struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
}

func newMockTransactionRepo() *mockTransactionRepo {
	return &mockTransactionRepo{txs: map[string]*models.Transaction{}}
}

func (m *mockTransactionRepo) InsertMany(_ context.Context, txs []models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range txs {
		tx := txs[i]
		m.txs[tx.ID] = &tx
	}
	return nil
}

func (m *mockTransactionRepo) FindByIDs(_ context.Context, ids []string) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Transaction{}
	for _, id := range ids {
		if tx, ok := m.txs[id]; ok {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (m *mockTransactionRepo) SetStatus(_ context.Context, ids []string, status models.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if tx, ok := m.txs[id]; ok {
			tx.Status = status
		}
	}
	return nil
}

func (m *mockTransactionRepo) ListByUser(_ context.Context, userID string, _, _ int) ([]models.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Transaction{}
	for _, tx := range m.txs {
		if tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockTransactionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

// --- Invoices ---

type mockInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*models.Invoice
	txs      *mockTransactionRepo
	// failNextTo fails the next transition into that status.
	failNextTo models.InvoiceStatus
}

func newMockInvoiceRepo(txs *mockTransactionRepo) *mockInvoiceRepo {
	return &mockInvoiceRepo{invoices: map[string]*models.Invoice{}, txs: txs}
}

func (m *mockInvoiceRepo) Create(_ context.Context, inv *models.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.InvoiceID]; ok {
		return repository.ErrDuplicate
	}
	cp := *inv
	m.invoices[inv.InvoiceID] = &cp
	return nil
}

func (m *mockInvoiceRepo) FindByInvoiceID(ctx context.Context, invoiceID string, includes ...repository.Include) (*models.InvoiceView, error) {
	m.mu.Lock()
	inv, ok := m.invoices[invoiceID]
	var cp models.Invoice
	if ok {
		cp = *inv
	}
	m.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	view := &models.InvoiceView{Invoice: cp}
	if len(includes) > 0 {
		txs, _ := m.txs.FindByIDs(ctx, cp.TransactionIDs)
		view.Transactions = txs
	}
	return view, nil
}

func (m *mockInvoiceRepo) FindByPaymentID(_ context.Context, paymentID string) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		for _, p := range inv.PaymentIDs {
			if p == paymentID {
				cp := *inv
				return &cp, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockInvoiceRepo) Transition(_ context.Context, invoiceID string, from, to models.InvoiceStatus, fields map[string]any) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !from.CanTransitionTo(to) {
		return nil, repository.ErrInvalidTransition
	}
	if m.failNextTo != "" && m.failNextTo == to {
		m.failNextTo = ""
		return nil, errors.New("write concern timeout")
	}
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if inv.Status != from {
		return nil, repository.ErrInvalidTransition
	}
	inv.Status = to
	inv.UpdatedAt = time.Now().UTC()
	for k, v := range fields {
		switch k {
		case "payment_id":
			inv.PaymentIDs = append(inv.PaymentIDs, v.(string))
		case "payment_url":
			inv.PaymentURL = v.(string)
		case "failure_reason":
			inv.FailureReason = v.(string)
		case "paid_at":
			t := v.(time.Time)
			inv.PaidAt = &t
		}
	}
	cp := *inv
	return &cp, nil
}

func (m *mockInvoiceRepo) ListByUser(_ context.Context, userID string, _, _ int) ([]models.Invoice, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Invoice{}
	for _, inv := range m.invoices {
		if inv.UserID == userID {
			out = append(out, *inv)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockInvoiceRepo) FindStale(_ context.Context, status models.InvoiceStatus, before time.Time, _ int64) ([]models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Invoice{}
	for _, inv := range m.invoices {
		if inv.Status == status && inv.CreatedAt.Before(before) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *mockInvoiceRepo) FindUnsettled(_ context.Context, paidBefore time.Time, _ int64) ([]models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Invoice{}
	for _, inv := range m.invoices {
		if inv.Status == models.InvoicePaid && inv.SettledAt == nil && inv.PaidAt != nil && inv.PaidAt.Before(paidBefore) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *mockInvoiceRepo) MarkSettled(_ context.Context, invoiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return repository.ErrNotFound
	}
	if inv.SettledAt == nil {
		now := time.Now().UTC()
		inv.SettledAt = &now
	}
	return nil
}

func (m *mockInvoiceRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invoices)
}

func (m *mockInvoiceRepo) get(id string) models.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.invoices[id]
}

// --- Balances ---

type mockBalanceRepo struct {
	mu       sync.Mutex
	balances map[string]float64
	keys     map[string]bool
	failNext error
}

func newMockBalanceRepo() *mockBalanceRepo {
	return &mockBalanceRepo{balances: map[string]float64{}, keys: map[string]bool{}}
}

func (m *mockBalanceRepo) Credit(_ context.Context, owner models.Owner, amount float64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	if m.keys[owner.Key()+"|"+key] {
		return nil
	}
	m.keys[owner.Key()+"|"+key] = true
	m.balances[owner.Key()] += amount
	return nil
}

func (m *mockBalanceRepo) Debit(_ context.Context, owner models.Owner, amount float64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[owner.Key()+"|"+key] {
		return nil
	}
	if m.balances[owner.Key()] < amount {
		return repository.ErrInsufficientBalance
	}
	m.keys[owner.Key()+"|"+key] = true
	m.balances[owner.Key()] -= amount
	return nil
}

func (m *mockBalanceRepo) Balance(_ context.Context, owner models.Owner) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[owner.Key()], nil
}

func (m *mockBalanceRepo) of(owner models.Owner) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[owner.Key()]
}

// --- Settlements ---

type mockSettlementRepo struct {
	mu   sync.Mutex
	recs map[string]*models.Settlement
}

func newMockSettlementRepo() *mockSettlementRepo {
	return &mockSettlementRepo{recs: map[string]*models.Settlement{}}
}

func (m *mockSettlementRepo) copyOf(s *models.Settlement) *models.Settlement {
	cp := *s
	cp.Steps = map[string]models.SettlementStep{}
	for k, v := range s.Steps {
		cp.Steps[k] = v
	}
	return &cp
}

func (m *mockSettlementRepo) Begin(_ context.Context, invoiceID string) (*models.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.recs[invoiceID]
	if !ok {
		s = &models.Settlement{InvoiceID: invoiceID, Status: models.SettlementPending, Steps: map[string]models.SettlementStep{}, CreatedAt: time.Now()}
		m.recs[invoiceID] = s
	}
	s.Attempts++
	s.UpdatedAt = time.Now()
	return m.copyOf(s), nil
}

func (m *mockSettlementRepo) Find(_ context.Context, invoiceID string) (*models.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.recs[invoiceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.copyOf(s), nil
}

func (m *mockSettlementRepo) MarkStep(_ context.Context, invoiceID, step string, st models.SettlementStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[invoiceID].Steps[step] = st
	return nil
}

func (m *mockSettlementRepo) Finish(_ context.Context, invoiceID string, status models.SettlementStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[invoiceID].Status = status
	m.recs[invoiceID].LastError = lastError
	return nil
}

// --- Orders ---

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[string]models.Order
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: map[string]models.Order{}}
}

func (m *mockOrderRepo) Upsert(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := o.InvoiceID + "|" + o.Owner.Key()
	if _, ok := m.orders[k]; !ok {
		m.orders[k] = *o
	}
	return nil
}

func (m *mockOrderRepo) ListByOwner(_ context.Context, owner models.Owner, _, _ int) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if o.Owner == owner {
			out = append(out, o)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockOrderRepo) ListByBuyer(_ context.Context, buyerID string, _, _ int) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if o.BuyerID == buyerID {
			out = append(out, o)
		}
	}
	return out, int64(len(out)), nil
}

// --- Outbox ---

type mockOutboxRepo struct {
	mu     sync.Mutex
	events []models.OutboxEvent
}

func (m *mockOutboxRepo) Add(_ context.Context, ev *models.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockOutboxRepo) FetchPending(_ context.Context, limit int64) ([]models.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.OutboxEvent{}
	for _, ev := range m.events {
		if !ev.Processed && ev.Attempts < repository.OutboxMaxAttempts && int64(len(out)) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockOutboxRepo) MarkProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Processed = true
		}
	}
	return nil
}

func (m *mockOutboxRepo) IncrementAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Attempts++
		}
	}
	return nil
}

func (m *mockOutboxRepo) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

// --- Withdrawals ---

type mockWithdrawalRepo struct {
	mu   sync.Mutex
	docs map[string]*models.Withdrawal
}

func newMockWithdrawalRepo() *mockWithdrawalRepo {
	return &mockWithdrawalRepo{docs: map[string]*models.Withdrawal{}}
}

func (m *mockWithdrawalRepo) Create(_ context.Context, w *models.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.docs[w.ID] = &cp
	return nil
}

func (m *mockWithdrawalRepo) FindByID(_ context.Context, id string) (*models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *mockWithdrawalRepo) Review(_ context.Context, id string, status models.WithdrawalStatus, reviewer, note string) (*models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if w.Status != models.WithdrawalPending {
		return nil, repository.ErrInvalidTransition
	}
	w.Status = status
	w.ReviewedBy = reviewer
	w.Note = note
	cp := *w
	return &cp, nil
}

func (m *mockWithdrawalRepo) List(_ context.Context, requestedBy string, status models.WithdrawalStatus, _, _ int) ([]models.Withdrawal, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Withdrawal{}
	for _, w := range m.docs {
		if (requestedBy == "" || w.RequestedBy == requestedBy) && (status == "" || w.Status == status) {
			out = append(out, *w)
		}
	}
	return out, int64(len(out)), nil
}

// --- Gateway ---

type fakeGateway struct {
	mu         sync.Mutex
	name       string
	payments   map[string]*providers.Payment
	createErr  error
	fetchCalls int
	seq        int
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name, payments: map[string]*providers.Payment{}}
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreatePayment(_ context.Context, req providers.PaymentRequest) (*providers.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	p := &providers.Payment{
		ID:             fmt.Sprintf("pay_%d", g.seq),
		Status:         providers.StatusInitiated,
		Amount:         req.Amount,
		Currency:       req.Currency,
		CallbackURL:    req.CallbackURL,
		TransactionURL: "https://pay.example.com/" + req.InvoiceID,
		InvoiceID:      req.InvoiceID,
	}
	g.payments[p.ID] = p
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*providers.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	p, ok := g.payments[id]
	if !ok {
		return nil, &providers.APIError{Provider: g.name, StatusCode: http.StatusNotFound, Message: "not found"}
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) CapturePayment(_ context.Context, id string) (*providers.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.payments[id]
	p.Status = providers.StatusPaid
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) set(id string, status providers.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[id].Status = status
}

func (g *fakeGateway) ParseWebhook(_ context.Context, header http.Header, body []byte) (*providers.WebhookEvent, error) {
	if header.Get("X-Test-Signature") != "ok" {
		return nil, providers.ErrInvalidSignature
	}
	return &providers.WebhookEvent{Type: "payment.updated", PaymentID: string(body)}, nil
}

// --- Queue ---

// flakyLocker fails the next Acquire with failNext, then defers to the wrapped locker.
type flakyLocker struct {
	repository.Locker
	mu       sync.Mutex
	failNext error
}

func (l *flakyLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	err := l.failNext
	l.failNext = nil
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return l.Locker.Acquire(ctx, name, ttl)
}

type mockQueue struct {
	mu   sync.Mutex
	sent []string
}

func (q *mockQueue) SendMessage(_ context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, body)
	return nil
}

// --- Helpers ---

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
