package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers which invoice a client supplied Idempotency-Key produced.
type IdempotencyStore interface {
	// Reserve claims key. It returns the stored value and false when the key was
	// already claimed, or "" and true when the caller now owns it.
	Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Complete(ctx context.Context, key, invoiceID string, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}

// PendingValue marks a key whose first request is still in flight.
const PendingValue = "pending"

type redisIdempotencyStore struct {
	client *redis.Client
}

func NewIdempotencyStore(client *redis.Client) IdempotencyStore {
	return &redisIdempotencyStore{client: client}
}

func idemKey(key string) string {
	return "idem:checkout:" + key
}

func (s *redisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, idemKey(key), PendingValue, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	val, err := s.client.Get(ctx, idemKey(key)).Result()
	if err == redis.Nil {
		// Expired between the two calls; let the caller retry as a fresh request.
		return "", false, ErrLockNotAcquired
	}
	if err != nil {
		return "", false, err
	}
	return val, false, nil
}

func (s *redisIdempotencyStore) Complete(ctx context.Context, key, invoiceID string, ttl time.Duration) error {
	return s.client.Set(ctx, idemKey(key), invoiceID, ttl).Err()
}

func (s *redisIdempotencyStore) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, idemKey(key)).Err()
}
