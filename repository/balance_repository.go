package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/models"
)

const ledgerKeyWindow = 1000

// BalanceRepository moves money on user and salon documents. Every mutation carries a
// ledger key and is applied at most once per key.
type BalanceRepository interface {
	Credit(ctx context.Context, owner models.Owner, amount float64, key string) error
	// Debit returns ErrInsufficientBalance when the balance is below amount.
	Debit(ctx context.Context, owner models.Owner, amount float64, key string) error
	Balance(ctx context.Context, owner models.Owner) (float64, error)
}

type mongoBalanceRepository struct {
	users  *mongo.Collection
	salons *mongo.Collection
}

func NewBalanceRepository(db *mongo.Database) BalanceRepository {
	return &mongoBalanceRepository{
		users:  db.Collection("users"),
		salons: db.Collection("salons"),
	}
}

func (r *mongoBalanceRepository) collectionFor(owner models.Owner) (*mongo.Collection, error) {
	switch owner.Type {
	case models.OwnerUser:
		return r.users, nil
	case models.OwnerSalon:
		return r.salons, nil
	}
	return nil, fmt.Errorf("unknown owner type %q", owner.Type)
}

func ledgerPush(key string) bson.M {
	return bson.M{"ledger_keys": bson.M{"$each": bson.A{key}, "$slice": -ledgerKeyWindow}}
}

// Credit upserts user accounts, since users are created by the auth service and may
// not have a balance document yet. Salons must exist.
func (r *mongoBalanceRepository) Credit(ctx context.Context, owner models.Owner, amount float64, key string) error {
	coll, err := r.collectionFor(owner)
	if err != nil {
		return err
	}
	filter := bson.M{"_id": owner.ID, "ledger_keys": bson.M{"$ne": key}}
	update := bson.M{
		"$inc":  bson.M{"balance": amount},
		"$push": ledgerPush(key),
	}
	opts := options.Update().SetUpsert(owner.Type == models.OwnerUser)
	if owner.Type == models.OwnerUser {
		update["$setOnInsert"] = bson.M{"created_at": time.Now().UTC()}
	}

	res, err := coll.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// The upsert raced with a document that already holds the key.
		return nil
	}
	if err != nil {
		return err
	}
	if res.ModifiedCount == 1 || res.UpsertedCount == 1 {
		return nil
	}
	if err := r.applied(ctx, coll, owner.ID, key); err != ErrInvalidTransition {
		return err
	}
	return fmt.Errorf("credit %s was not applied", key)
}

func (r *mongoBalanceRepository) Debit(ctx context.Context, owner models.Owner, amount float64, key string) error {
	coll, err := r.collectionFor(owner)
	if err != nil {
		return err
	}
	filter := bson.M{
		"_id":         owner.ID,
		"ledger_keys": bson.M{"$ne": key},
		"balance":     bson.M{"$gte": amount},
	}
	update := bson.M{
		"$inc":  bson.M{"balance": -amount},
		"$push": ledgerPush(key),
	}
	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.ModifiedCount == 1 {
		return nil
	}
	if err := r.applied(ctx, coll, owner.ID, key); err != ErrInvalidTransition {
		return err
	}
	return ErrInsufficientBalance
}

// applied returns nil when key is already recorded on the document, ErrNotFound when
// the document is missing and ErrInvalidTransition otherwise.
func (r *mongoBalanceRepository) applied(ctx context.Context, coll *mongo.Collection, id, key string) error {
	var doc struct {
		LedgerKeys []string `bson:"ledger_keys"`
	}
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return notFound(err)
	}
	for _, k := range doc.LedgerKeys {
		if k == key {
			return nil
		}
	}
	return ErrInvalidTransition
}

func (r *mongoBalanceRepository) Balance(ctx context.Context, owner models.Owner) (float64, error) {
	coll, err := r.collectionFor(owner)
	if err != nil {
		return 0, err
	}
	var doc struct {
		Balance float64 `bson:"balance"`
	}
	if err := coll.FindOne(ctx, bson.M{"_id": owner.ID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments && owner.Type == models.OwnerUser {
			return 0, nil
		}
		return 0, notFound(err)
	}
	return doc.Balance, nil
}
