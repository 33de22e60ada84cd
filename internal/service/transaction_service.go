package service

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"math"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/security"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
)

// Live event types pushed to an owner's subscribers
const (
	EventTransactionCreated = "transaction.created"
	EventTransactionUpdated = "transaction.updated"
	EventTransactionDeleted = "transaction.deleted"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// NotificationPublisher hands a message to the notification relay. It must not block.
type NotificationPublisher interface {
	Publish(email, message string)
}

// EventBroadcaster delivers an event to every live subscriber of one owner
type EventBroadcaster interface {
	Broadcast(ownerID, eventType string, payload any)
}

// ListQuery holds the user-supplied filters of a transaction listing
type ListQuery struct {
	Kind          domain.Kind
	Subclass      string
	PaymentMethod domain.PaymentMethod
	From          *time.Time
	To            *time.Time
	Page          int
	Limit         int
}

// Pagination describes one page of a listing
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

// NewPagination computes page metadata
func NewPagination(page, limit int, total int64) Pagination {
	pages := 0
	if limit > 0 {
		pages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		TotalCount: total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

// NormalizePage applies defaults and bounds to page and limit. Zero means unset.
func NormalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if page < 1 {
		return 0, 0, domain.Validation("Page number must be greater than 0")
	}
	if limit < 1 || limit > MaxPageLimit {
		return 0, 0, domain.Validation("Limit must be between 1 and 100")
	}
	return page, limit, nil
}

// TransactionService implements owner-scoped transaction CRUD
type TransactionService struct {
	repo     domain.TransactionRepository
	guard    *security.OwnershipGuard
	notifier NotificationPublisher
	events   EventBroadcaster
	logger   *slog.Logger
}

// NewTransactionService creates a new transaction service. notifier and
// events may be nil.
func NewTransactionService(
	repo domain.TransactionRepository,
	guard *security.OwnershipGuard,
	notifier NotificationPublisher,
	events EventBroadcaster,
	logger *slog.Logger,
) *TransactionService {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = security.NewOwnershipGuard(logger)
	}
	return &TransactionService{
		repo:     repo,
		guard:    guard,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

// requireOwner rejects ids that cannot belong to any principal before any store access
func requireOwner(ownerID string) error {
	if !domain.ValidRecordID(ownerID) {
		return domain.Authentication("Authentication required. User ID not found in request headers.")
	}
	return nil
}

func requireRecordID(id string) error {
	if !domain.ValidRecordID(id) {
		return domain.Validation("Invalid transaction ID format")
	}
	return nil
}

// Create validates a draft and stores it for the owner
func (s *TransactionService) Create(ctx context.Context, owner auth.Identity, d domain.Draft) (*domain.Transaction, error) {
	if err := requireOwner(owner.UserID); err != nil {
		return nil, err
	}
	d, err := d.Normalize()
	if err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		UserID:        owner.UserID,
		Kind:          d.Kind,
		Subclass:      d.Subclass,
		Amount:        d.Amount,
		Description:   d.Description,
		Date:          d.Date,
		PaymentMethod: d.PaymentMethod,
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, err
	}

	s.logger.Info("transaction created",
		slog.String("user_id", owner.UserID),
		slog.String("transaction_id", tx.ID),
		slog.String("type", string(tx.Kind)),
	)
	s.broadcast(owner.UserID, EventTransactionCreated, tx)
	s.notify(owner, tx)
	return tx, nil
}

// Get returns one of the owner's transactions
func (s *TransactionService) Get(ctx context.Context, ownerID, id string) (*domain.Transaction, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := requireRecordID(id); err != nil {
		return nil, err
	}
	tx, err := s.repo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(ownerID, security.Resource{Type: security.ResourceTransaction, ID: id, OwnerID: tx.UserID}); err != nil {
		return nil, err
	}
	return tx, nil
}

// List returns one page of the owner's transactions, newest first
func (s *TransactionService) List(ctx context.Context, ownerID string, q ListQuery) ([]*domain.Transaction, Pagination, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, Pagination{}, err
	}
	page, limit, err := NormalizePage(q.Page, q.Limit)
	if err != nil {
		return nil, Pagination{}, err
	}
	if q.Kind != "" && !q.Kind.Valid() {
		return nil, Pagination{}, domain.Validation("Valid type (income/expense) is required")
	}
	if q.PaymentMethod != "" && !q.PaymentMethod.Valid() {
		return nil, Pagination{}, domain.Validation("Invalid payment method")
	}

	list, total, err := s.repo.List(ctx, domain.TransactionFilter{
		OwnerID:       ownerID,
		Kind:          q.Kind,
		Subclass:      q.Subclass,
		PaymentMethod: q.PaymentMethod,
		From:          q.From,
		To:            q.To,
		Page:          page,
		Limit:         limit,
	})
	if err != nil {
		return nil, Pagination{}, err
	}
	return list, NewPagination(page, limit, total), nil
}

// Update applies a partial patch to one of the owner's transactions
func (s *TransactionService) Update(ctx context.Context, ownerID, id string, p domain.Patch) (*domain.Transaction, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := requireRecordID(id); err != nil {
		return nil, err
	}
	if p.Empty() {
		return nil, domain.Validation("At least one field must be provided")
	}

	tx, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := p.Apply(tx); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, tx); err != nil {
		return nil, err
	}

	s.logger.Info("transaction updated",
		slog.String("user_id", ownerID),
		slog.String("transaction_id", id),
	)
	s.broadcast(ownerID, EventTransactionUpdated, tx)
	return tx, nil
}

// Delete removes one of the owner's transactions and returns it
func (s *TransactionService) Delete(ctx context.Context, ownerID, id string) (*domain.Transaction, error) {
	tx, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		return nil, err
	}

	s.logger.Info("transaction deleted",
		slog.String("user_id", ownerID),
		slog.String("transaction_id", id),
	)
	s.broadcast(ownerID, EventTransactionDeleted, tx)
	return tx, nil
}

// SubclassOptions lists the allowed subclasses for both kinds, or one kind when given
func SubclassOptions(kind domain.Kind) (map[string][]string, error) {
	if kind == "" {
		return map[string][]string{
			string(domain.KindIncome):  domain.IncomeSubclasses,
			string(domain.KindExpense): domain.ExpenseSubclasses,
		}, nil
	}
	if !kind.Valid() {
		return nil, domain.Validation("Valid type (income/expense) is required")
	}
	return map[string][]string{string(kind): domain.SubclassesFor(kind)}, nil
}

func (s *TransactionService) broadcast(ownerID, eventType string, tx *domain.Transaction) {
	if s.events == nil {
		return
	}
	s.events.Broadcast(ownerID, eventType, tx)
}

func (s *TransactionService) notify(owner auth.Identity, tx *domain.Transaction) {
	if s.notifier == nil || owner.Email == "" {
		return
	}
	s.notifier.Publish(owner.Email, transactionMessage(owner, tx))
}

func transactionMessage(owner auth.Identity, tx *domain.Transaction) string {
	name := owner.Name
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		"<p>Hi %s,</p><p>A new %s of <strong>%.2f</strong> (%s) was recorded on %s: %s.</p>",
		html.EscapeString(name), tx.Kind, tx.Amount, domain.SubclassLabel(tx.Subclass),
		tx.Date.Format("2006-01-02"), html.EscapeString(tx.Description),
	)
}
