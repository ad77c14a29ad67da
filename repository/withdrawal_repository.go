package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/models"
)

type WithdrawalRepository interface {
	Create(ctx context.Context, w *models.Withdrawal) error
	FindByID(ctx context.Context, id string) (*models.Withdrawal, error)
	// Review moves a pending withdrawal to status; ErrInvalidTransition when it is no
	// longer pending.
	Review(ctx context.Context, id string, status models.WithdrawalStatus, reviewer, note string) (*models.Withdrawal, error)
	List(ctx context.Context, requestedBy string, status models.WithdrawalStatus, page, limit int) ([]models.Withdrawal, int64, error)
}

type mongoWithdrawalRepository struct {
	collection *mongo.Collection
}

func NewWithdrawalRepository(db *mongo.Database) WithdrawalRepository {
	return &mongoWithdrawalRepository{collection: db.Collection("withdrawals")}
}

func (r *mongoWithdrawalRepository) Create(ctx context.Context, w *models.Withdrawal) error {
	_, err := r.collection.InsertOne(ctx, w)
	return duplicate(err)
}

func (r *mongoWithdrawalRepository) FindByID(ctx context.Context, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&w); err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (r *mongoWithdrawalRepository) Review(ctx context.Context, id string, status models.WithdrawalStatus, reviewer, note string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.WithdrawalPending},
		bson.M{"$set": bson.M{
			"status":      status,
			"reviewed_by": reviewer,
			"note":        note,
			"updated_at":  time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&w)
	if err == mongo.ErrNoDocuments {
		if _, ferr := r.FindByID(ctx, id); ferr != nil {
			return nil, ferr
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// List filters by requester and status when they are non-empty.
func (r *mongoWithdrawalRepository) List(ctx context.Context, requestedBy string, status models.WithdrawalStatus, page, limit int) ([]models.Withdrawal, int64, error) {
	filter := bson.M{}
	if requestedBy != "" {
		filter["requested_by"] = requestedBy
	}
	if status != "" {
		filter["status"] = status
	}
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

	out := make([]models.Withdrawal, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
