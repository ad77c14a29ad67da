package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/models"
)

type OrderRepository interface {
	// Upsert inserts the order unless one already exists for (invoice, owner).
	Upsert(ctx context.Context, order *models.Order) error
	ListByOwner(ctx context.Context, owner models.Owner, page, limit int) ([]models.Order, int64, error)
	ListByBuyer(ctx context.Context, buyerID string, page, limit int) ([]models.Order, int64, error)
}

type mongoOrderRepository struct {
	collection *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) OrderRepository {
	return &mongoOrderRepository{collection: db.Collection("orders")}
}

func (r *mongoOrderRepository) Upsert(ctx context.Context, order *models.Order) error {
	filter := bson.M{
		"invoice_id": order.InvoiceID,
		"owner.type": order.Owner.Type,
		"owner.id":   order.Owner.ID,
	}
	_, err := r.collection.UpdateOne(ctx, filter,
		bson.M{"$setOnInsert": order},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *mongoOrderRepository) ListByOwner(ctx context.Context, owner models.Owner, page, limit int) ([]models.Order, int64, error) {
	return r.list(ctx, bson.M{"owner.type": owner.Type, "owner.id": owner.ID}, page, limit)
}

func (r *mongoOrderRepository) ListByBuyer(ctx context.Context, buyerID string, page, limit int) ([]models.Order, int64, error) {
	return r.list(ctx, bson.M{"buyer_id": buyerID}, page, limit)
}

func (r *mongoOrderRepository) list(ctx context.Context, filter bson.M, page, limit int) ([]models.Order, int64, error) {
	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	orders := make([]models.Order, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
