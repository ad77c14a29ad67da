package models

import "time"

type CartItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// Cart is stored as a JSON blob in Redis, one per user.
type Cart struct {
	UserID      string     `json:"user_id"`
	Items       []CartItem `json:"items"`
	VoucherCode string     `json:"voucher_code,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CartLine is a cart item resolved against the catalog.
type CartLine struct {
	ProductID         string  `json:"product_id"`
	Name              string  `json:"name"`
	Quantity          int     `json:"quantity"`
	UnitPrice         float64 `json:"unit_price"`
	LineTotal         float64 `json:"line_total"`
	AvailabilityCount int     `json:"availability_count"`
	InStock           bool    `json:"in_stock"`
}

// CartSnapshot is the priced view of a cart returned to clients.
type CartSnapshot struct {
	UserID      string     `json:"user_id"`
	Lines       []CartLine `json:"lines"`
	Subtotal    float64    `json:"subtotal"`
	VoucherCode string     `json:"voucher_code,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type AddCartItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1,max=1000"`
}

type ApplyVoucherRequest struct {
	Code string `json:"code" binding:"required"`
}
