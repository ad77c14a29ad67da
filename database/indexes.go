package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var indexes = map[string][]mongo.IndexModel{
	"invoices": {
		{Keys: bson.D{{Key: "invoice_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "payment_ids", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{
			Keys:    bson.D{{Key: "paid_at", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(bson.M{"status": "paid"}),
		},
	},
	"transactions": {
		{Keys: bson.D{{Key: "invoice_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	},
	"vouchers": {
		{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	"orders": {
		{
			Keys:    bson.D{{Key: "invoice_id", Value: 1}, {Key: "owner.type", Value: 1}, {Key: "owner.id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "buyer_id", Value: 1}}},
	},
	"outbox": {
		{Keys: bson.D{{Key: "processed", Value: 1}, {Key: "created_at", Value: 1}}},
	},
	"products": {
		{Keys: bson.D{{Key: "category_ids", Value: 1}}},
		{Keys: bson.D{{Key: "owner.type", Value: 1}, {Key: "owner.id", Value: 1}}},
	},
	"withdrawals": {
		{Keys: bson.D{{Key: "owner.type", Value: 1}, {Key: "owner.id", Value: 1}, {Key: "created_at", Value: -1}}},
	},
}

// EnsureIndexes creates the indexes the repositories rely on. Unique indexes on
// invoices.invoice_id and orders (invoice_id, owner) are required for correctness.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}
