package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func ns(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func txDoc(id, owner primitive.ObjectID, kind, subclass string, amount float64) bson.D {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "userId", Value: owner},
		{Key: "type", Value: kind},
		{Key: "subclass", Value: subclass},
		{Key: "amount", Value: amount},
		{Key: "description", Value: "coffee"},
		{Key: "date", Value: now},
		{Key: "paymentMethod", Value: "cash"},
		{Key: "createdAt", Value: now},
		{Key: "updatedAt", Value: now},
	}
}

func TestMongoTransactionRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	owner := primitive.NewObjectID()

	mt.Run("create assigns id", func(mt *mtest.T) {
		repo := NewMongoTransactionRepository(mt.Coll, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		tx := &domain.Transaction{
			UserID:      owner.Hex(),
			Kind:        domain.KindExpense,
			Subclass:    "food_dining",
			Amount:      4.5,
			Description: "coffee",
			Date:        time.Now(),
		}
		if err := repo.Create(context.Background(), tx); err != nil {
			t.Fatalf("Create error: %v", err)
		}
		if !domain.ValidRecordID(tx.ID) {
			t.Fatalf("expected 24-hex id, got %q", tx.ID)
		}
		if tx.SubclassLabel != "Food Dining" {
			t.Fatalf("unexpected label %q", tx.SubclassLabel)
		}
	})

	mt.Run("create rejects malformed owner", func(mt *mtest.T) {
		repo := NewMongoTransactionRepository(mt.Coll, nil)
		if err := repo.Create(context.Background(), &domain.Transaction{UserID: "nope"}); err == nil {
			t.Fatalf("expected error for malformed owner")
		}
	})

	mt.Run("get by id", func(mt *mtest.T) {
		repo := NewMongoTransactionRepository(mt.Coll, nil)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, txDoc(id, owner, "expense", "food_dining", 4.5)))

		tx, err := repo.GetByID(context.Background(), owner.Hex(), id.Hex())
		if err != nil {
			t.Fatalf("GetByID error: %v", err)
		}
		if tx.ID != id.Hex() || tx.UserID != owner.Hex() || tx.Amount != 4.5 {
			t.Fatalf("unexpected transaction: %+v", tx)
		}
	})

	mt.Run("get by id of another owner is not found", func(mt *mtest.T) {
		repo := NewMongoTransactionRepository(mt.Coll, nil)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch))

		_, err := repo.GetByID(context.Background(), primitive.NewObjectID().Hex(), primitive.NewObjectID().Hex())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	mt.Run("malformed id is not found without a query", func(mt *mtest.T) {
		repo := NewMongoTransactionRepository(mt.Coll, nil)
		_, err := repo.GetByID(context.Background(), owner.Hex(), "abc")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := repo.Delete(context.Background(), owner.Hex(), "abc"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	mt.Run("list pages and counts", func(mt *mtest.T) {
		repo := NewMongoTransactionRepository(mt.Coll, nil)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch,
				txDoc(primitive.NewObjectID(), owner, "expense", "food_dining", 4.5),
				txDoc(primitive.NewObjectID(), owner, "income", "salary", 1000),
			),
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{{Key: "n", Value: int32(12)}}),
		)

		list, total, err := repo.List(context.Background(), domain.TransactionFilter{OwnerID: owner.Hex(), Page: 1, Limit: 2})
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(list) != 2 || total != 12 {
			t.Fatalf("expected 2 of 12, got %d of %d", len(list), total)
		}
		if list[1].SubclassLabel != "Salary" {
			t.Fatalf("unexpected label %q", list[1].SubclassLabel)
		}
	})

	mt.Run("update of missing record is not found", func(mt *mtest.T) {
		repo := NewMongoTransactionRepository(mt.Coll, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		tx := &domain.Transaction{ID: primitive.NewObjectID().Hex(), UserID: owner.Hex(), Kind: domain.KindIncome, Subclass: "salary"}
		if err := repo.Update(context.Background(), tx); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	mt.Run("delete", func(mt *mtest.T) {
		repo := NewMongoTransactionRepository(mt.Coll, nil)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}),
		)

		id := primitive.NewObjectID().Hex()
		if err := repo.Delete(context.Background(), owner.Hex(), id); err != nil {
			t.Fatalf("Delete error: %v", err)
		}
		if err := repo.Delete(context.Background(), owner.Hex(), id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found on second delete, got %v", err)
		}
	})
}

func TestMongoPrincipalRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("duplicate email is a conflict", func(mt *mtest.T) {
		repo := NewMongoPrincipalRepository(mt.Coll, nil)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		p := &domain.Principal{Name: domain.PersonName{First: "Jane", Last: "Doe"}, Email: "jane@x.com", PasswordHash: "hash"}
		err := repo.Create(context.Background(), p)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if domain.Message(err, "") != duplicateEmailMessage {
			t.Fatalf("unexpected message %q", domain.Message(err, ""))
		}
	})

	mt.Run("get by email", func(mt *mtest.T) {
		repo := NewMongoPrincipalRepository(mt.Coll, nil)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "name", Value: bson.D{{Key: "firstname", Value: "Jane"}, {Key: "lastname", Value: "Doe"}}},
			{Key: "email", Value: "jane@x.com"},
			{Key: "password", Value: "hash"},
		}))

		p, err := repo.GetByEmail(context.Background(), "jane@x.com")
		if err != nil {
			t.Fatalf("GetByEmail error: %v", err)
		}
		if p.ID != id.Hex() || p.Name.Display() != "Jane Doe" {
			t.Fatalf("unexpected principal: %+v", p)
		}
	})

	mt.Run("unknown id is not found", func(mt *mtest.T) {
		repo := NewMongoPrincipalRepository(mt.Coll, nil)
		if _, err := repo.GetByID(context.Background(), "not-hex"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}
