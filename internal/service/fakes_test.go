package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
)

// memTxRepo is an owner-scoped in-memory transaction store that counts calls
type memTxRepo struct {
	mu    sync.Mutex
	byID  map[string]*domain.Transaction
	seq   int
	calls int
	// failNext, when set, is returned by the next write and then cleared
	failNext error
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{byID: map[string]*domain.Transaction{}}
}

func (m *memTxRepo) Create(_ context.Context, t *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.insert(t)
	return nil
}

func (m *memTxRepo) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memTxRepo) insert(t *domain.Transaction) {
	m.seq++
	t.ID = fmt.Sprintf("%024x", m.seq)
	t.CreatedAt = time.Date(2024, 1, 1, 0, 0, m.seq, 0, time.UTC)
	t.UpdatedAt = t.CreatedAt
	t.SubclassLabel = domain.SubclassLabel(t.Subclass)
	cp := *t
	m.byID[t.ID] = &cp
}

func (m *memTxRepo) CreateMany(_ context.Context, ts []*domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.takeFailure(); err != nil {
		return err
	}
	for _, t := range ts {
		m.insert(t)
	}
	return nil
}

func (m *memTxRepo) GetByID(_ context.Context, ownerID, id string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	t, ok := m.byID[id]
	if !ok || t.UserID != ownerID {
		return nil, domain.NotFound("Transaction not found")
	}
	cp := *t
	return &cp, nil
}

func (m *memTxRepo) List(_ context.Context, f domain.TransactionFilter) ([]*domain.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []*domain.Transaction
	for _, t := range m.byID {
		if t.UserID != f.OwnerID {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.Subclass != "" && t.Subclass != f.Subclass {
			continue
		}
		if f.PaymentMethod != "" && t.PaymentMethod != f.PaymentMethod {
			continue
		}
		if f.From != nil && t.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && t.Date.After(*f.To) {
			continue
		}
		if f.WithReceipt && t.Receipt == nil {
			continue
		}
		if f.WithStatement && t.Statement == nil {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.SortByCreated {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	total := int64(len(out))
	if f.Limit > 0 {
		start := (f.Page - 1) * f.Limit
		if start > len(out) {
			start = len(out)
		}
		end := start + f.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, total, nil
}

func (m *memTxRepo) Update(_ context.Context, t *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	existing, ok := m.byID[t.ID]
	if !ok || existing.UserID != t.UserID {
		return domain.NotFound("Transaction not found")
	}
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

func (m *memTxRepo) Delete(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	t, ok := m.byID[id]
	if !ok || t.UserID != ownerID {
		return domain.NotFound("Transaction not found")
	}
	delete(m.byID, id)
	return nil
}

func (m *memTxRepo) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordedEvent struct {
	owner string
	kind  string
}

type recordingEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEvents) Broadcast(ownerID, eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{owner: ownerID, kind: eventType})
}

func (r *recordingEvents) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages map[string][]string
}

func (r *recordingNotifier) Publish(email, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.messages == nil {
		r.messages = map[string][]string{}
	}
	r.messages[email] = append(r.messages[email], message)
}

const (
	ownerA = "aaaaaaaaaaaaaaaaaaaaaaaa"
	ownerB = "bbbbbbbbbbbbbbbbbbbbbbbb"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}
