package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/models"
)

type SettlementRepository interface {
	// Begin returns the settlement record for invoiceID, creating a pending one if none
	// exists, and counts the attempt.
	Begin(ctx context.Context, invoiceID string) (*models.Settlement, error)
	Find(ctx context.Context, invoiceID string) (*models.Settlement, error)
	MarkStep(ctx context.Context, invoiceID, step string, st models.SettlementStep) error
	Finish(ctx context.Context, invoiceID string, status models.SettlementStatus, lastError string) error
}

type mongoSettlementRepository struct {
	collection *mongo.Collection
}

func NewSettlementRepository(db *mongo.Database) SettlementRepository {
	return &mongoSettlementRepository{collection: db.Collection("settlements")}
}

func (r *mongoSettlementRepository) Begin(ctx context.Context, invoiceID string) (*models.Settlement, error) {
	now := time.Now().UTC()
	update := bson.M{
		"$setOnInsert": bson.M{
			"status":     models.SettlementPending,
			"steps":      bson.M{},
			"created_at": now,
		},
		"$inc": bson.M{"attempts": 1},
		"$set": bson.M{"updated_at": now},
	}
	var s models.Settlement
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": invoiceID}, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *mongoSettlementRepository) Find(ctx context.Context, invoiceID string) (*models.Settlement, error) {
	var s models.Settlement
	if err := r.collection.FindOne(ctx, bson.M{"_id": invoiceID}).Decode(&s); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *mongoSettlementRepository) MarkStep(ctx context.Context, invoiceID, step string, st models.SettlementStep) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": invoiceID},
		bson.M{"$set": bson.M{"steps." + step: st, "updated_at": time.Now().UTC()}},
	)
	return err
}

func (r *mongoSettlementRepository) Finish(ctx context.Context, invoiceID string, status models.SettlementStatus, lastError string) error {
	set := bson.M{"status": status, "updated_at": time.Now().UTC()}
	update := bson.M{"$set": set}
	if lastError != "" {
		set["last_error"] = lastError
	} else {
		update["$unset"] = bson.M{"last_error": ""}
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": invoiceID}, update)
	return err
}
