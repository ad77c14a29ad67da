package models

import "time"

const (
	RoleUser   = "user"
	RoleSeller = "seller"
	RoleSalon  = "salon"
	RoleAdmin  = "admin"
)

// User mirrors the account document owned by the auth service. This service only reads
// it and credits or debits its balance.
type User struct {
	ID         string    `json:"id" bson:"_id"`
	Name       string    `json:"name" bson:"name"`
	Email      string    `json:"email" bson:"email"`
	Role       string    `json:"role" bson:"role"`
	Balance    float64   `json:"balance" bson:"balance"`
	LedgerKeys []string  `json:"-" bson:"ledger_keys,omitempty"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}
