package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"marketplace-service/models"
)

type CategoryRepository interface {
	ResourceRepository[models.Category]
	AddProduct(ctx context.Context, categoryIDs []string, productID string) error
	// RemoveProduct drops productID from the given categories only.
	RemoveProduct(ctx context.Context, categoryIDs []string, productID string) error
	// PullProduct drops productID from every category.
	PullProduct(ctx context.Context, productID string) error
	CountExisting(ctx context.Context, ids []string) (int64, error)
}

type mongoCategoryRepository struct {
	*MongoResourceRepository[models.Category]
}

func NewCategoryRepository(db *mongo.Database) CategoryRepository {
	return &mongoCategoryRepository{NewMongoResourceRepository[models.Category](db, "categories")}
}

func (r *mongoCategoryRepository) AddProduct(ctx context.Context, categoryIDs []string, productID string) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	_, err := r.collection.UpdateMany(ctx,
		live(bson.M{"_id": bson.M{"$in": categoryIDs}}),
		bson.M{"$addToSet": bson.M{"product_ids": productID}, "$set": bson.M{"updated_at": time.Now().UTC()}},
	)
	return err
}

func (r *mongoCategoryRepository) RemoveProduct(ctx context.Context, categoryIDs []string, productID string) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	_, err := r.collection.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": categoryIDs}},
		bson.M{"$pull": bson.M{"product_ids": productID}, "$set": bson.M{"updated_at": time.Now().UTC()}},
	)
	return err
}

func (r *mongoCategoryRepository) PullProduct(ctx context.Context, productID string) error {
	_, err := r.collection.UpdateMany(ctx,
		bson.M{"product_ids": productID},
		bson.M{"$pull": bson.M{"product_ids": productID}, "$set": bson.M{"updated_at": time.Now().UTC()}},
	)
	return err
}

func (r *mongoCategoryRepository) CountExisting(ctx context.Context, ids []string) (int64, error) {
	return r.collection.CountDocuments(ctx, live(bson.M{"_id": bson.M{"$in": ids}}))
}
