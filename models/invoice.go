package models

import "time"

type InvoiceStatus string

const (
	InvoiceCreated         InvoiceStatus = "created"
	InvoiceAwaitingPayment InvoiceStatus = "awaiting_payment"
	InvoicePaid            InvoiceStatus = "paid"
	InvoiceFailed          InvoiceStatus = "failed"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceCreated:         {InvoiceAwaitingPayment, InvoiceFailed},
	InvoiceAwaitingPayment: {InvoicePaid, InvoiceFailed},
}

// IsTerminal reports whether no further transition is possible.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoicePaid || s == InvoiceFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Flow discriminates what an invoice pays for, so confirmation can pick the
// matching settlement branch.
type Flow string

const FlowCheckout Flow = "checkout"

// Invoice bundles the transactions of one payment attempt.
type Invoice struct {
	ID             string        `json:"id" bson:"_id"`
	InvoiceID      string        `json:"invoice_id" bson:"invoice_id"`
	UserID         string        `json:"user_id" bson:"user_id"`
	TransactionIDs []string      `json:"transaction_ids" bson:"transaction_ids"`
	Subtotal       float64       `json:"subtotal" bson:"subtotal"`
	Discount       float64       `json:"discount" bson:"discount"`
	TotalAmount    float64       `json:"total_amount" bson:"total_amount"`
	VoucherCode    string        `json:"voucher_code,omitempty" bson:"voucher_code,omitempty"`
	Currency       string        `json:"currency" bson:"currency"`
	Provider       string        `json:"provider" bson:"provider"`
	Flow           Flow          `json:"flow" bson:"flow"`
	PaymentIDs     []string      `json:"payment_ids" bson:"payment_ids"`
	PaymentURL     string        `json:"payment_url,omitempty" bson:"payment_url,omitempty"`
	Status         InvoiceStatus `json:"status" bson:"status"`
	FailureReason  string        `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	IdempotencyKey string        `json:"-" bson:"idempotency_key,omitempty"`
	CreatedAt      time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" bson:"updated_at"`
	PaidAt         *time.Time    `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	// SettledAt is set once settlement reaches a final state, completed or failed.
	SettledAt *time.Time `json:"settled_at,omitempty" bson:"settled_at,omitempty"`
}

// InvoiceView is an invoice with the related documents requested through include sets.
type InvoiceView struct {
	Invoice
	Transactions []Transaction      `json:"transactions,omitempty"`
	Products     map[string]Product `json:"products,omitempty"`
}

type CheckoutRequest struct {
	Provider    string `json:"provider" binding:"required,oneof=moyasar paypal stripe"`
	Flow        Flow   `json:"flow" binding:"omitempty,oneof=checkout"`
	Description string `json:"description" binding:"max=255"`
	// CardSource is the gateway specific payment source, e.g. a Moyasar token.
	CardSource map[string]any `json:"card_source"`
}

type CheckoutResponse struct {
	Invoice    *Invoice `json:"invoice"`
	Replayed   bool     `json:"replayed,omitempty"`
	PaymentURL string   `json:"payment_url,omitempty"`
}
