package models

import (
	"fmt"
	"time"
)

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementCompleted SettlementStatus = "completed"
	SettlementFailed    SettlementStatus = "failed"
)

type StepStatus string

const (
	StepDone   StepStatus = "done"
	StepFailed StepStatus = "failed"
)

// SettlementStep records the outcome of one idempotent settlement step.
type SettlementStep struct {
	Status    StepStatus `json:"status" bson:"status"`
	AppliedAt *time.Time `json:"applied_at,omitempty" bson:"applied_at,omitempty"`
	Error     string     `json:"error,omitempty" bson:"error,omitempty"`
}

// Settlement is the saga record for one paid invoice. Its id is the invoice id and
// Steps is keyed by step name.
type Settlement struct {
	InvoiceID string                    `json:"invoice_id" bson:"_id"`
	Status    SettlementStatus          `json:"status" bson:"status"`
	Steps     map[string]SettlementStep `json:"steps" bson:"steps"`
	Attempts  int                       `json:"attempts" bson:"attempts"`
	LastError string                    `json:"last_error,omitempty" bson:"last_error,omitempty"`
	CreatedAt time.Time                 `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at" bson:"updated_at"`
}

// Done reports whether step has already been applied.
func (s *Settlement) Done(step string) bool {
	if s == nil || s.Steps == nil {
		return false
	}
	return s.Steps[step].Status == StepDone
}

const StepOrders = "orders"

func StockStep(txID string) string    { return "stock:" + txID }
func CreditStep(txID string) string   { return "credit:" + txID }
func CompleteStep(txID string) string { return "complete:" + txID }

// LedgerKey is the idempotency key stamped on the document a step mutates.
func LedgerKey(invoiceID, step string) string {
	return fmt.Sprintf("%s/%s", invoiceID, step)
}
