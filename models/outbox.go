package models

import "time"

const (
	EventInvoiceCreated      = "invoice.created"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceFailed       = "invoice.failed"
	EventSettlementCompleted = "settlement.completed"
	EventSettlementConflict  = "settlement.conflict"
	EventWithdrawalRequested = "withdrawal.requested"
	EventWithdrawalReviewed  = "withdrawal.reviewed"
)

// OutboxEvent is written next to the state change it describes and relayed to the
// message brokers by the outbox relay.
type OutboxEvent struct {
	ID          string         `json:"id" bson:"_id"`
	Type        string         `json:"type" bson:"type"`
	AggregateID string         `json:"aggregate_id" bson:"aggregate_id"`
	Payload     map[string]any `json:"payload" bson:"payload"`
	Processed   bool           `json:"processed" bson:"processed"`
	Attempts    int            `json:"attempts" bson:"attempts"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
}
