package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/models"
)

type InvoiceRepository interface {
	// Create returns ErrDuplicate when the invoice id is taken.
	Create(ctx context.Context, inv *models.Invoice) error
	FindByInvoiceID(ctx context.Context, invoiceID string, includes ...Include) (*models.InvoiceView, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Invoice, error)
	// Transition moves the invoice to `to` only when its current status is `from`,
	// applying the extra fields in the same write. A "payment_id" field is added to
	// payment_ids. ErrInvalidTransition otherwise.
	Transition(ctx context.Context, invoiceID string, from, to models.InvoiceStatus, fields map[string]any) (*models.Invoice, error)
	ListByUser(ctx context.Context, userID string, page, limit int) ([]models.Invoice, int64, error)
	FindStale(ctx context.Context, status models.InvoiceStatus, before time.Time, limit int64) ([]models.Invoice, error)
	// FindUnsettled returns paid invoices, paid before the cutoff, whose settlement
	// has not reached a final state.
	FindUnsettled(ctx context.Context, paidBefore time.Time, limit int64) ([]models.Invoice, error)
	MarkSettled(ctx context.Context, invoiceID string) error
}

type mongoInvoiceRepository struct {
	collection   *mongo.Collection
	transactions *mongo.Collection
	products     *mongo.Collection
}

func NewInvoiceRepository(db *mongo.Database) InvoiceRepository {
	return &mongoInvoiceRepository{
		collection:   db.Collection("invoices"),
		transactions: db.Collection("transactions"),
		products:     db.Collection("products"),
	}
}

func (r *mongoInvoiceRepository) Create(ctx context.Context, inv *models.Invoice) error {
	_, err := r.collection.InsertOne(ctx, inv)
	return duplicate(err)
}

// FindByInvoiceID loads the invoice and the requested related documents. Products
// are loaded for the invoice's transactions and imply IncludeTransactions.
func (r *mongoInvoiceRepository) FindByInvoiceID(ctx context.Context, invoiceID string, includes ...Include) (*models.InvoiceView, error) {
	var inv models.Invoice
	if err := r.collection.FindOne(ctx, bson.M{"invoice_id": invoiceID}).Decode(&inv); err != nil {
		return nil, notFound(err)
	}
	view := &models.InvoiceView{Invoice: inv}

	if !has(includes, IncludeTransactions) && !has(includes, IncludeProducts) {
		return view, nil
	}

	cursor, err := r.transactions.Find(ctx, bson.M{"_id": bson.M{"$in": inv.TransactionIDs}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	if err := cursor.All(ctx, &view.Transactions); err != nil {
		return nil, err
	}

	if has(includes, IncludeProducts) {
		ids := make([]string, 0, len(view.Transactions))
		for _, tx := range view.Transactions {
			ids = append(ids, tx.ProductID)
		}
		cursor, err := r.products.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return nil, err
		}
		var products []models.Product
		if err := cursor.All(ctx, &products); err != nil {
			return nil, err
		}
		view.Products = make(map[string]models.Product, len(products))
		for _, p := range products {
			view.Products[p.ID] = p
		}
	}
	return view, nil
}

func (r *mongoInvoiceRepository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.collection.FindOne(ctx, bson.M{"payment_ids": paymentID}).Decode(&inv); err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (r *mongoInvoiceRepository) Transition(ctx context.Context, invoiceID string, from, to models.InvoiceStatus, fields map[string]any) (*models.Invoice, error) {
	if !from.CanTransitionTo(to) {
		return nil, ErrInvalidTransition
	}

	set := bson.M{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range fields {
		set[k] = v
	}
	update := bson.M{"$set": set}
	if pid, ok := fields["payment_id"]; ok {
		delete(set, "payment_id")
		update["$addToSet"] = bson.M{"payment_ids": pid}
	}

	var inv models.Invoice
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"invoice_id": invoiceID, "status": from},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&inv)
	if err == mongo.ErrNoDocuments {
		if _, ferr := r.FindByInvoiceID(ctx, invoiceID); ferr != nil {
			return nil, ferr
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *mongoInvoiceRepository) ListByUser(ctx context.Context, userID string, page, limit int) ([]models.Invoice, int64, error) {
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

	invoices := make([]models.Invoice, 0)
	if err := cursor.All(ctx, &invoices); err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

func (r *mongoInvoiceRepository) FindStale(ctx context.Context, status models.InvoiceStatus, before time.Time, limit int64) ([]models.Invoice, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{"status": status, "created_at": bson.M{"$lt": before}},
		options.Find().SetLimit(limit).SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	invoices := make([]models.Invoice, 0)
	if err := cursor.All(ctx, &invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *mongoInvoiceRepository) FindUnsettled(ctx context.Context, paidBefore time.Time, limit int64) ([]models.Invoice, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{
			"status":     models.InvoicePaid,
			"settled_at": bson.M{"$exists": false},
			"paid_at":    bson.M{"$lt": paidBefore},
		},
		options.Find().SetLimit(limit).SetSort(bson.D{{Key: "paid_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	invoices := make([]models.Invoice, 0)
	if err := cursor.All(ctx, &invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *mongoInvoiceRepository) MarkSettled(ctx context.Context, invoiceID string) error {
	now := time.Now().UTC()
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"invoice_id": invoiceID, "settled_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"settled_at": now, "updated_at": now}},
	)
	return err
}
