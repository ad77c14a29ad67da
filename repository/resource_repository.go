package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/query"
)

// ResourceRepository is the storage contract behind the generic CRUD service.
type ResourceRepository[T any] interface {
	FindByID(ctx context.Context, id string) (*T, error)
	List(ctx context.Context, q query.ListQuery) ([]T, int64, error)
	Create(ctx context.Context, doc *T) error
	// UpdateFields sets only the given fields so concurrent counter updates survive.
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	SoftDelete(ctx context.Context, id string) error
}

// MongoResourceRepository stores T in one collection with soft deletes.
type MongoResourceRepository[T any] struct {
	collection *mongo.Collection
}

func NewMongoResourceRepository[T any](db *mongo.Database, collection string) *MongoResourceRepository[T] {
	return &MongoResourceRepository[T]{collection: db.Collection(collection)}
}

func (r *MongoResourceRepository[T]) Collection() *mongo.Collection {
	return r.collection
}

func (r *MongoResourceRepository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	var doc T
	err := r.collection.FindOne(ctx, live(bson.M{"_id": id})).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (r *MongoResourceRepository[T]) List(ctx context.Context, q query.ListQuery) ([]T, int64, error) {
	filter := BuildFilter(q.Conditions)

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSkip(q.Skip()).
		SetLimit(int64(q.Limit)).
		SetSort(BuildSort(q.Sort))
	if p := BuildProjection(q.Fields); p != nil {
		opts.SetProjection(p)
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	docs := make([]T, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (r *MongoResourceRepository[T]) Create(ctx context.Context, doc *T) error {
	_, err := r.collection.InsertOne(ctx, doc)
	return duplicate(err)
}

func (r *MongoResourceRepository[T]) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	set["updated_at"] = time.Now().UTC()

	res, err := r.collection.UpdateOne(ctx, live(bson.M{"_id": id}), bson.M{"$set": set})
	if err != nil {
		return duplicate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete stamps deleted_at; the document stays for settlement and history.
func (r *MongoResourceRepository[T]) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := r.collection.UpdateOne(ctx,
		live(bson.M{"_id": id}),
		bson.M{"$set": bson.M{"deleted_at": now, "updated_at": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

var mongoOps = map[query.Operator]string{
	query.OpNe:  "$ne",
	query.OpGt:  "$gt",
	query.OpGte: "$gte",
	query.OpLt:  "$lt",
	query.OpLte: "$lte",
	query.OpIn:  "$in",
}

func bsonField(field string) string {
	if field == "id" {
		return "_id"
	}
	return field
}

// BuildFilter translates parsed conditions into a Mongo filter that excludes soft
// deleted documents. Several operators on one field are merged.
func BuildFilter(conds []query.Condition) bson.M {
	filter := bson.M{}
	for _, c := range conds {
		field := bsonField(c.Field)
		if c.Op == query.OpEq {
			filter[field] = c.Value
			continue
		}
		ops, ok := filter[field].(bson.M)
		if !ok {
			ops = bson.M{}
			filter[field] = ops
		}
		ops[mongoOps[c.Op]] = c.Value
	}
	filter["deleted_at"] = bson.M{"$exists": false}
	return filter
}

// BuildSort defaults to newest first.
func BuildSort(fields []query.SortField) bson.D {
	if len(fields) == 0 {
		return bson.D{{Key: "created_at", Value: -1}}
	}
	sort := make(bson.D, 0, len(fields))
	for _, f := range fields {
		dir := 1
		if f.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: bsonField(f.Field), Value: dir})
	}
	return sort
}

func BuildProjection(fields []string) bson.M {
	if len(fields) == 0 {
		return nil
	}
	p := bson.M{"_id": 1}
	for _, f := range fields {
		p[bsonField(f)] = 1
	}
	return p
}
