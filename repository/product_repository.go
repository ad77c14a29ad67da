package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"marketplace-service/models"
)

// settlementKeyWindow bounds the applied keys kept on a product.
const settlementKeyWindow = 500

type ProductView struct {
	models.Product
	Categories []models.Category `json:"categories,omitempty"`
}

type ProductRepository interface {
	ResourceRepository[models.Product]
	FindByIDs(ctx context.Context, ids []string) (map[string]models.Product, error)
	FindWithIncludes(ctx context.Context, id string, includes ...Include) (*ProductView, error)
	// DecrementStock removes qty units once per key. It returns ErrInsufficientStock
	// when fewer than qty units are left.
	DecrementStock(ctx context.Context, id string, qty int, key string) error
	// RestoreStock puts qty units back once per key.
	RestoreStock(ctx context.Context, id string, qty int, key string) error
	PullCategory(ctx context.Context, categoryID string) error
	SoftDeleteByOwner(ctx context.Context, owner models.Owner) (int64, error)
}

type mongoProductRepository struct {
	*MongoResourceRepository[models.Product]
	categories *mongo.Collection
}

func NewProductRepository(db *mongo.Database) ProductRepository {
	return &mongoProductRepository{
		MongoResourceRepository: NewMongoResourceRepository[models.Product](db, "products"),
		categories:              db.Collection("categories"),
	}
}

// FindByIDs includes soft deleted products: a sold item must still settle.
func (r *mongoProductRepository) FindByIDs(ctx context.Context, ids []string) (map[string]models.Product, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var products []models.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}
	out := make(map[string]models.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (r *mongoProductRepository) FindWithIncludes(ctx context.Context, id string, includes ...Include) (*ProductView, error) {
	product, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &ProductView{Product: *product}

	if has(includes, IncludeCategories) && len(product.CategoryIDs) > 0 {
		cursor, err := r.categories.Find(ctx, live(bson.M{"_id": bson.M{"$in": product.CategoryIDs}}))
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)
		if err := cursor.All(ctx, &view.Categories); err != nil {
			return nil, err
		}
	}
	return view, nil
}

func (r *mongoProductRepository) DecrementStock(ctx context.Context, id string, qty int, key string) error {
	filter := bson.M{
		"_id":                id,
		"settlement_keys":    bson.M{"$ne": key},
		"availability_count": bson.M{"$gte": qty},
	}
	update := bson.M{
		"$inc":  bson.M{"availability_count": -qty},
		"$push": bson.M{"settlement_keys": bson.M{"$each": bson.A{key}, "$slice": -settlementKeyWindow}},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.ModifiedCount == 1 {
		return nil
	}

	// Nothing changed: either the key was already applied or stock ran out.
	var current models.Product
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&current); err != nil {
		return notFound(err)
	}
	for _, k := range current.SettlementKeys {
		if k == key {
			return nil
		}
	}
	return ErrInsufficientStock
}

func (r *mongoProductRepository) RestoreStock(ctx context.Context, id string, qty int, key string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "settlement_keys": bson.M{"$ne": key}},
		bson.M{
			"$inc":  bson.M{"availability_count": qty},
			"$push": bson.M{"settlement_keys": bson.M{"$each": bson.A{key}, "$slice": -settlementKeyWindow}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	return err
}

func (r *mongoProductRepository) PullCategory(ctx context.Context, categoryID string) error {
	_, err := r.collection.UpdateMany(ctx,
		bson.M{"category_ids": categoryID},
		bson.M{"$pull": bson.M{"category_ids": categoryID}, "$set": bson.M{"updated_at": time.Now().UTC()}},
	)
	return err
}

func (r *mongoProductRepository) SoftDeleteByOwner(ctx context.Context, owner models.Owner) (int64, error) {
	now := time.Now().UTC()
	res, err := r.collection.UpdateMany(ctx,
		live(bson.M{"owner.type": owner.Type, "owner.id": owner.ID}),
		bson.M{"$set": bson.M{"deleted_at": now, "updated_at": now}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
