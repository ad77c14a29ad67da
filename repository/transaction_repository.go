package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/models"
)

type TransactionRepository interface {
	InsertMany(ctx context.Context, txs []models.Transaction) error
	FindByIDs(ctx context.Context, ids []string) ([]models.Transaction, error)
	// SetStatus moves the given transactions to status, skipping ones already there.
	SetStatus(ctx context.Context, ids []string, status models.TransactionStatus) error
	ListByUser(ctx context.Context, userID string, page, limit int) ([]models.Transaction, int64, error)
}

type mongoTransactionRepository struct {
	collection *mongo.Collection
}

func NewTransactionRepository(db *mongo.Database) TransactionRepository {
	return &mongoTransactionRepository{collection: db.Collection("transactions")}
}

func (r *mongoTransactionRepository) InsertMany(ctx context.Context, txs []models.Transaction) error {
	docs := make([]interface{}, len(txs))
	for i := range txs {
		docs[i] = txs[i]
	}
	_, err := r.collection.InsertMany(ctx, docs)
	return duplicate(err)
}

func (r *mongoTransactionRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Transaction, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	txs := make([]models.Transaction, 0, len(ids))
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *mongoTransactionRepository) SetStatus(ctx context.Context, ids []string, status models.TransactionStatus) error {
	_, err := r.collection.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": bson.M{"$ne": status}},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}},
	)
	return err
}

func (r *mongoTransactionRepository) ListByUser(ctx context.Context, userID string, page, limit int) ([]models.Transaction, int64, error) {
	filter := bson.M{"user_id": userID}
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

	txs := make([]models.Transaction, 0)
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}
