package repository

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound            = errors.New("document not found")
	ErrDuplicate           = errors.New("duplicate key")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrVoucherUsed         = errors.New("voucher already used")
	ErrVoucherExpired      = errors.New("voucher expired")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrLockNotAcquired     = errors.New("lock not acquired")
)

// Include names a related collection a read may populate.
type Include string

const (
	IncludeTransactions Include = "transactions"
	IncludeProducts     Include = "products"
	IncludeCategories   Include = "categories"
)

func has(includes []Include, want Include) bool {
	for _, inc := range includes {
		if inc == want {
			return true
		}
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func duplicate(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// live matches documents that have not been soft deleted.
func live(filter map[string]any) map[string]any {
	filter["deleted_at"] = map[string]any{"$exists": false}
	return filter
}
