package models

import "time"

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// Withdrawal is a payout request debited from an owner balance when it is created.
type Withdrawal struct {
	ID          string           `json:"id" bson:"_id"`
	Owner       Owner            `json:"owner" bson:"owner"`
	RequestedBy string           `json:"requested_by" bson:"requested_by"`
	Amount      float64          `json:"amount" bson:"amount"`
	IBAN        string           `json:"iban" bson:"iban"`
	Status      WithdrawalStatus `json:"status" bson:"status"`
	Note        string           `json:"note,omitempty" bson:"note,omitempty"`
	ReviewedBy  string           `json:"reviewed_by,omitempty" bson:"reviewed_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" bson:"updated_at"`
}

type CreateWithdrawalRequest struct {
	OwnerType OwnerType `json:"owner_type" binding:"required,oneof=user salon"`
	SalonID   string    `json:"salon_id" binding:"required_if=OwnerType salon"`
	Amount    float64   `json:"amount" binding:"required,gt=0"`
	IBAN      string    `json:"iban" binding:"required,min=15,max=34,alphanum"`
}

type ReviewWithdrawalRequest struct {
	Note string `json:"note" binding:"max=500"`
}
