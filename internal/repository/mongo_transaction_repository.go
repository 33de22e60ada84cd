package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const transactionNotFound = "Transaction not found"

type transactionDoc struct {
	ID            primitive.ObjectID    `bson:"_id"`
	UserID        primitive.ObjectID    `bson:"userId"`
	Type          string                `bson:"type"`
	Subclass      string                `bson:"subclass"`
	Amount        float64               `bson:"amount"`
	Description   string                `bson:"description"`
	Date          time.Time             `bson:"date"`
	PaymentMethod string                `bson:"paymentMethod,omitempty"`
	ReceiptData   *domain.ReceiptData   `bson:"receiptData,omitempty"`
	StatementData *domain.StatementData `bson:"statementData,omitempty"`
	CreatedAt     time.Time             `bson:"createdAt"`
	UpdatedAt     time.Time             `bson:"updatedAt"`
}

func (d *transactionDoc) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:            d.ID.Hex(),
		UserID:        d.UserID.Hex(),
		Kind:          domain.Kind(d.Type),
		Subclass:      d.Subclass,
		SubclassLabel: domain.SubclassLabel(d.Subclass),
		Amount:        d.Amount,
		Description:   d.Description,
		Date:          d.Date,
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Receipt:       d.ReceiptData,
		Statement:     d.StatementData,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// MongoTransactionRepository implements domain.TransactionRepository.
// Every filter carries the owner id.
type MongoTransactionRepository struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongoTransactionRepository creates a new transaction repository
func NewMongoTransactionRepository(coll *mongo.Collection, logger *slog.Logger) *MongoTransactionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoTransactionRepository{coll: coll, logger: logger}
}

// EnsureIndexes creates the owner/date indexes used by listings
func (r *MongoTransactionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "type", Value: 1}, {Key: "subclass", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}
	return nil
}

func newTransactionDoc(t *domain.Transaction, owner primitive.ObjectID, now time.Time) transactionDoc {
	return transactionDoc{
		ID:            primitive.NewObjectID(),
		UserID:        owner,
		Type:          string(t.Kind),
		Subclass:      t.Subclass,
		Amount:        t.Amount,
		Description:   t.Description,
		Date:          t.Date,
		PaymentMethod: string(t.PaymentMethod),
		ReceiptData:   t.Receipt,
		StatementData: t.Statement,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Create inserts a transaction and assigns its id and timestamps
func (r *MongoTransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	owner, err := primitive.ObjectIDFromHex(t.UserID)
	if err != nil {
		return fmt.Errorf("invalid owner id: %w", err)
	}
	doc := newTransactionDoc(t, owner, time.Now().UTC())

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		r.logger.Error("failed to create transaction",
			slog.String("user_id", t.UserID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	t.ID = doc.ID.Hex()
	t.CreatedAt = doc.CreatedAt
	t.UpdatedAt = doc.UpdatedAt
	t.SubclassLabel = domain.SubclassLabel(t.Subclass)
	return nil
}

// CreateMany inserts a batch; every transaction must belong to the same owner
func (r *MongoTransactionRepository) CreateMany(ctx context.Context, ts []*domain.Transaction) error {
	if len(ts) == 0 {
		return nil
	}
	owner, err := primitive.ObjectIDFromHex(ts[0].UserID)
	if err != nil {
		return fmt.Errorf("invalid owner id: %w", err)
	}

	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(ts))
	built := make([]transactionDoc, 0, len(ts))
	for _, t := range ts {
		if t.UserID != ts[0].UserID {
			return fmt.Errorf("batch mixes owners")
		}
		doc := newTransactionDoc(t, owner, now)
		docs = append(docs, doc)
		built = append(built, doc)
	}

	if _, err := r.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to create transactions: %w", err)
	}
	for i, t := range ts {
		t.ID = built[i].ID.Hex()
		t.CreatedAt = now
		t.UpdatedAt = now
		t.SubclassLabel = domain.SubclassLabel(t.Subclass)
	}
	return nil
}

// ownedFilter builds the {_id, userId} filter. ok is false when either id
// is malformed, in which case nothing can match.
func ownedFilter(ownerID, id string) (bson.M, bool) {
	owner, err := primitive.ObjectIDFromHex(ownerID)
	if err != nil {
		return nil, false
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false
	}
	return bson.M{"_id": oid, "userId": owner}, true
}

// GetByID returns the owner's transaction or a not-found error
func (r *MongoTransactionRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.Transaction, error) {
	filter, ok := ownedFilter(ownerID, id)
	if !ok {
		return nil, domain.NotFound(transactionNotFound)
	}

	var doc transactionDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFound(transactionNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return doc.toDomain(), nil
}

func listFilter(f domain.TransactionFilter) (bson.M, error) {
	owner, err := primitive.ObjectIDFromHex(f.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("invalid owner id: %w", err)
	}
	filter := bson.M{"userId": owner}
	if f.Kind != "" {
		filter["type"] = string(f.Kind)
	}
	if f.Subclass != "" {
		filter["subclass"] = f.Subclass
	}
	if f.PaymentMethod != "" {
		filter["paymentMethod"] = string(f.PaymentMethod)
	}
	if f.From != nil || f.To != nil {
		dateRange := bson.M{}
		if f.From != nil {
			dateRange["$gte"] = *f.From
		}
		if f.To != nil {
			dateRange["$lte"] = *f.To
		}
		filter["date"] = dateRange
	}
	if f.WithReceipt {
		filter["receiptData"] = bson.M{"$exists": true}
	}
	if f.WithStatement {
		filter["statementData"] = bson.M{"$exists": true}
	}
	return filter, nil
}

// List returns one page of the owner's transactions and the total match count
func (r *MongoTransactionRepository) List(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, int64, error) {
	filter, err := listFilter(f)
	if err != nil {
		return nil, 0, err
	}

	sortKey := "date"
	if f.SortByCreated {
		sortKey = "createdAt"
	}
	opts := options.Find().SetSort(bson.D{{Key: sortKey, Value: -1}, {Key: "_id", Value: -1}})
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		opts.SetSkip(int64((page - 1) * f.Limit)).SetLimit(int64(f.Limit))
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer cur.Close(ctx)

	var docs []transactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode transactions: %w", err)
	}
	out := make([]*domain.Transaction, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toDomain())
	}

	total := int64(len(out))
	if f.Limit > 0 {
		total, err = r.coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
		}
	}
	return out, total, nil
}

// Update replaces the mutable fields of the owner's transaction
func (r *MongoTransactionRepository) Update(ctx context.Context, t *domain.Transaction) error {
	filter, ok := ownedFilter(t.UserID, t.ID)
	if !ok {
		return domain.NotFound(transactionNotFound)
	}

	now := time.Now().UTC()
	set := bson.M{
		"type":        string(t.Kind),
		"subclass":    t.Subclass,
		"amount":      t.Amount,
		"description": t.Description,
		"date":        t.Date,
		"updatedAt":   now,
	}
	update := bson.M{"$set": set}
	if t.PaymentMethod != "" {
		set["paymentMethod"] = string(t.PaymentMethod)
	} else {
		update["$unset"] = bson.M{"paymentMethod": ""}
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.NotFound(transactionNotFound)
	}
	t.UpdatedAt = now
	t.SubclassLabel = domain.SubclassLabel(t.Subclass)
	return nil
}

// Delete removes the owner's transaction
func (r *MongoTransactionRepository) Delete(ctx context.Context, ownerID, id string) error {
	filter, ok := ownedFilter(ownerID, id)
	if !ok {
		return domain.NotFound(transactionNotFound)
	}

	res, err := r.coll.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.NotFound(transactionNotFound)
	}
	return nil
}
