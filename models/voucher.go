package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Voucher is a single-use percentage discount capped at MaxDiscount.
type Voucher struct {
	ID                 string     `json:"id" bson:"_id"`
	Code               string     `json:"code" bson:"code" validate:"required,min=3,max=32,alphanum"`
	DiscountPercentage float64    `json:"discount_percentage" bson:"discount_percentage" validate:"required,gt=0,lte=100"`
	MaxDiscount        float64    `json:"max_discount" bson:"max_discount" validate:"required,gt=0"`
	ExpiresAt          time.Time  `json:"expires_at" bson:"expires_at" validate:"required"`
	Used               bool       `json:"used" bson:"used"`
	UsedBy             string     `json:"used_by,omitempty" bson:"used_by,omitempty"`
	UsedAt             *time.Time `json:"used_at,omitempty" bson:"used_at,omitempty"`
	Timestamps         `bson:",inline"`
}

func (v *Voucher) GetID() string   { return v.ID }
func (v *Voucher) SetID(id string) { v.ID = id }
func (v *Voucher) OwnerID() string { return "" }

// NormalizeVoucherCode upper-cases and trims a code.
func NormalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Discount returns the discount this voucher grants on subtotal:
// subtotal * pct / 100, capped at MaxDiscount and never above subtotal, truncated
// to cents so it never exceeds either bound.
func (v *Voucher) Discount(subtotal decimal.Decimal) decimal.Decimal {
	d := subtotal.Mul(decimal.NewFromFloat(v.DiscountPercentage)).Div(decimal.NewFromInt(100))
	d = decimal.Min(d, decimal.NewFromFloat(v.MaxDiscount), subtotal)
	return d.Truncate(2)
}
