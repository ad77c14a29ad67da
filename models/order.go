package models

import "time"

type OrderItem struct {
	TransactionID string  `json:"transaction_id" bson:"transaction_id"`
	ProductID     string  `json:"product_id" bson:"product_id"`
	Quantity      int     `json:"quantity" bson:"quantity"`
	Price         float64 `json:"price" bson:"price"`
}

// Order groups the lines of a paid invoice that belong to one owner.
type Order struct {
	ID        string      `json:"id" bson:"_id"`
	InvoiceID string      `json:"invoice_id" bson:"invoice_id"`
	BuyerID   string      `json:"buyer_id" bson:"buyer_id"`
	Owner     Owner       `json:"owner" bson:"owner"`
	Items     []OrderItem `json:"items" bson:"items"`
	Total     float64     `json:"total" bson:"total"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
}
