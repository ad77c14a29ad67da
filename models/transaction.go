package models

import "time"

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction is one cart line sold at checkout. Price is the unit price frozen at
// checkout time and never changes afterwards.
type Transaction struct {
	ID        string            `json:"id" bson:"_id"`
	UserID    string            `json:"user_id" bson:"user_id"`
	ProductID string            `json:"product_id" bson:"product_id"`
	Owner     Owner             `json:"owner" bson:"owner"`
	Quantity  int               `json:"quantity" bson:"quantity"`
	Price     float64           `json:"price" bson:"price"`
	Status    TransactionStatus `json:"status" bson:"status"`
	InvoiceID string            `json:"invoice_id" bson:"invoice_id"`
	CreatedAt time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" bson:"updated_at"`
}
