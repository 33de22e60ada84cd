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

const duplicateEmailMessage = "Duplicate value entered for email field, please choose another value"

type nameDoc struct {
	First  string `bson:"firstname"`
	Middle string `bson:"middlename,omitempty"`
	Last   string `bson:"lastname"`
}

type principalDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	Name      nameDoc            `bson:"name"`
	Email     string             `bson:"email"`
	Password  string             `bson:"password"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d *principalDoc) toDomain() *domain.Principal {
	return &domain.Principal{
		ID:           d.ID.Hex(),
		Name:         domain.PersonName{First: d.Name.First, Middle: d.Name.Middle, Last: d.Name.Last},
		Email:        d.Email,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// MongoPrincipalRepository implements domain.PrincipalRepository on a "users" collection
type MongoPrincipalRepository struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongoPrincipalRepository creates a new principal repository
func NewMongoPrincipalRepository(coll *mongo.Collection, logger *slog.Logger) *MongoPrincipalRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoPrincipalRepository{coll: coll, logger: logger}
}

// EnsureIndexes creates the unique email index
func (r *MongoPrincipalRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}
	return nil
}

// Create inserts a principal and assigns its id
func (r *MongoPrincipalRepository) Create(ctx context.Context, p *domain.Principal) error {
	now := time.Now().UTC()
	doc := principalDoc{
		ID:        primitive.NewObjectID(),
		Name:      nameDoc{First: p.Name.First, Middle: p.Name.Middle, Last: p.Name.Last},
		Email:     p.Email,
		Password:  p.PasswordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Conflict(duplicateEmailMessage)
		}
		r.logger.Error("failed to create principal",
			slog.String("email", p.Email),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create principal: %w", err)
	}

	p.ID = doc.ID.Hex()
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetByID retrieves a principal by its hex id
func (r *MongoPrincipalRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.NotFound("user not found")
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// GetByEmail retrieves a principal by normalized email
func (r *MongoPrincipalRepository) GetByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoPrincipalRepository) findOne(ctx context.Context, filter bson.M) (*domain.Principal, error) {
	var doc principalDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFound("user not found")
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return doc.toDomain(), nil
}
