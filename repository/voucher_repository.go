package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/models"
)

type VoucherRepository interface {
	ResourceRepository[models.Voucher]
	FindByCode(ctx context.Context, code string) (*models.Voucher, error)
	// Redeem flips used from false to true. Exactly one concurrent caller wins; the
	// others get ErrVoucherUsed.
	Redeem(ctx context.Context, code, userID string, now time.Time) (*models.Voucher, error)
	// Release undoes a redemption made by userID.
	Release(ctx context.Context, code, userID string) error
}

type mongoVoucherRepository struct {
	*MongoResourceRepository[models.Voucher]
}

func NewVoucherRepository(db *mongo.Database) VoucherRepository {
	return &mongoVoucherRepository{NewMongoResourceRepository[models.Voucher](db, "vouchers")}
}

func (r *mongoVoucherRepository) FindByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := r.collection.FindOne(ctx, live(bson.M{"code": models.NormalizeVoucherCode(code)})).Decode(&v)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (r *mongoVoucherRepository) Redeem(ctx context.Context, code, userID string, now time.Time) (*models.Voucher, error) {
	code = models.NormalizeVoucherCode(code)
	filter := live(bson.M{
		"code":       code,
		"used":       false,
		"expires_at": bson.M{"$gt": now},
	})
	update := bson.M{"$set": bson.M{
		"used":       true,
		"used_by":    userID,
		"used_at":    now,
		"updated_at": now,
	}}

	var v models.Voucher
	err := r.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&v)
	if err == nil {
		return &v, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	existing, ferr := r.FindByCode(ctx, code)
	if ferr != nil {
		return nil, ferr
	}
	if existing.Used {
		return nil, ErrVoucherUsed
	}
	return nil, ErrVoucherExpired
}

func (r *mongoVoucherRepository) Release(ctx context.Context, code, userID string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"code": models.NormalizeVoucherCode(code), "used": true, "used_by": userID},
		bson.M{
			"$set":   bson.M{"used": false, "updated_at": time.Now().UTC()},
			"$unset": bson.M{"used_by": "", "used_at": ""},
		},
	)
	return err
}
