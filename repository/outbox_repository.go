package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/models"
)

type OutboxRepository interface {
	Add(ctx context.Context, event *models.OutboxEvent) error
	FetchPending(ctx context.Context, limit int64) ([]models.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, id string) error
}

type mongoOutboxRepository struct {
	collection *mongo.Collection
}

// OutboxMaxAttempts is how many failed relays an event gets before it is left for
// manual inspection.
const OutboxMaxAttempts = 20

func NewOutboxRepository(db *mongo.Database) OutboxRepository {
	return &mongoOutboxRepository{collection: db.Collection("outbox")}
}

func (r *mongoOutboxRepository) Add(ctx context.Context, event *models.OutboxEvent) error {
	_, err := r.collection.InsertOne(ctx, event)
	return err
}

func (r *mongoOutboxRepository) FetchPending(ctx context.Context, limit int64) ([]models.OutboxEvent, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{"processed": false, "attempts": bson.M{"$lt": OutboxMaxAttempts}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	events := make([]models.OutboxEvent, 0)
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *mongoOutboxRepository) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"processed": true, "processed_at": time.Now().UTC()}},
	)
	return err
}

func (r *mongoOutboxRepository) IncrementAttempts(ctx context.Context, id string) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"attempts": 1}})
	return err
}
