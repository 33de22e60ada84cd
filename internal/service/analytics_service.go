package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
)

// Timeline periods
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Balance is the income/expense overview of one owner
type Balance struct {
	TotalIncome         float64 `json:"totalIncome"`
	TotalExpense        float64 `json:"totalExpense"`
	NetBalance          float64 `json:"netBalance"`
	IncomeTransactions  int     `json:"incomeTransactions"`
	ExpenseTransactions int     `json:"expenseTransactions"`
	TotalTransactions   int     `json:"totalTransactions"`
}

// CategoryTotal is the sum of one subclass
type CategoryTotal struct {
	Name     string  `json:"name"`
	Subclass string  `json:"subclass"`
	Value    float64 `json:"value"`
	Count    int     `json:"count"`
}

// TimelineBucket aggregates one day, ISO week or month
type TimelineBucket struct {
	Period           string  `json:"period"`
	Year             int     `json:"year"`
	Month            int     `json:"month,omitempty"`
	Week             int     `json:"week,omitempty"`
	Day              int     `json:"day,omitempty"`
	TotalAmount      float64 `json:"totalAmount"`
	TransactionCount int     `json:"transactionCount"`
	IncomeAmount     float64 `json:"incomeAmount"`
	ExpenseAmount    float64 `json:"expenseAmount"`
}

// DateRange bounds an aggregate; nil ends are open
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// AnalyticsService computes owner-scoped aggregates over transactions
type AnalyticsService struct {
	repo   domain.TransactionRepository
	logger *slog.Logger
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(repo domain.TransactionRepository, logger *slog.Logger) *AnalyticsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsService{repo: repo, logger: logger}
}

func (s *AnalyticsService) load(ctx context.Context, ownerID string, kind domain.Kind, r DateRange) ([]*domain.Transaction, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if r.From != nil && r.To != nil && r.From.After(*r.To) {
		return nil, domain.Validation("startDate must not be after endDate")
	}
	list, _, err := s.repo.List(ctx, domain.TransactionFilter{
		OwnerID: ownerID,
		Kind:    kind,
		From:    r.From,
		To:      r.To,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return list, nil
}

// Balance returns total income, total expense and their difference
func (s *AnalyticsService) Balance(ctx context.Context, ownerID string, r DateRange) (*Balance, error) {
	list, err := s.load(ctx, ownerID, "", r)
	if err != nil {
		return nil, err
	}

	var b Balance
	for _, tx := range list {
		switch tx.Kind {
		case domain.KindIncome:
			b.TotalIncome += tx.Amount
			b.IncomeTransactions++
		case domain.KindExpense:
			b.TotalExpense += tx.Amount
			b.ExpenseTransactions++
		}
	}
	b.TotalIncome = roundCents(b.TotalIncome)
	b.TotalExpense = roundCents(b.TotalExpense)
	b.NetBalance = roundCents(b.TotalIncome - b.TotalExpense)
	b.TotalTransactions = b.IncomeTransactions + b.ExpenseTransactions
	return &b, nil
}

// Total returns the sum and count of one kind
func (s *AnalyticsService) Total(ctx context.Context, ownerID string, kind domain.Kind, r DateRange) (float64, int, error) {
	if !kind.Valid() {
		return 0, 0, domain.Validation("Valid type (income/expense) is required")
	}
	list, err := s.load(ctx, ownerID, kind, r)
	if err != nil {
		return 0, 0, err
	}
	var sum float64
	for _, tx := range list {
		sum += tx.Amount
	}
	return roundCents(sum), len(list), nil
}

// Categories groups one kind by subclass, largest first
func (s *AnalyticsService) Categories(ctx context.Context, ownerID string, kind domain.Kind, r DateRange) ([]CategoryTotal, error) {
	if !kind.Valid() {
		return nil, domain.Validation("Valid type (income/expense) is required")
	}
	list, err := s.load(ctx, ownerID, kind, r)
	if err != nil {
		return nil, err
	}

	bySubclass := make(map[string]*CategoryTotal)
	for _, tx := range list {
		c, ok := bySubclass[tx.Subclass]
		if !ok {
			c = &CategoryTotal{Name: domain.SubclassLabel(tx.Subclass), Subclass: tx.Subclass}
			bySubclass[tx.Subclass] = c
		}
		c.Value += tx.Amount
		c.Count++
	}

	out := make([]CategoryTotal, 0, len(bySubclass))
	for _, c := range bySubclass {
		c.Value = roundCents(c.Value)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Subclass < out[j].Subclass
	})
	return out, nil
}

// Timeline buckets transactions by period in ascending order. kind may be empty.
func (s *AnalyticsService) Timeline(ctx context.Context, ownerID, period string, kind domain.Kind, r DateRange) ([]TimelineBucket, error) {
	if period == "" {
		period = PeriodDaily
	}
	if period != PeriodDaily && period != PeriodWeekly && period != PeriodMonthly {
		return nil, domain.Validation("Valid period (daily/weekly/monthly) is required")
	}
	if kind != "" && !kind.Valid() {
		kind = ""
	}
	list, err := s.load(ctx, ownerID, kind, r)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]*TimelineBucket)
	for _, tx := range list {
		b := bucketFor(period, tx.Date.UTC())
		existing, ok := buckets[b.Period]
		if !ok {
			existing = &b
			buckets[b.Period] = existing
		}
		existing.TotalAmount += tx.Amount
		existing.TransactionCount++
		if tx.Kind == domain.KindIncome {
			existing.IncomeAmount += tx.Amount
		} else {
			existing.ExpenseAmount += tx.Amount
		}
	}

	out := make([]TimelineBucket, 0, len(buckets))
	for _, b := range buckets {
		b.TotalAmount = roundCents(b.TotalAmount)
		b.IncomeAmount = roundCents(b.IncomeAmount)
		b.ExpenseAmount = roundCents(b.ExpenseAmount)
		out = append(out, *b)
	}
	// period labels are zero-padded so they sort chronologically
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func bucketFor(period string, t time.Time) TimelineBucket {
	switch period {
	case PeriodWeekly:
		year, week := t.ISOWeek()
		return TimelineBucket{Period: fmt.Sprintf("%04d-W%02d", year, week), Year: year, Week: week}
	case PeriodMonthly:
		return TimelineBucket{Period: t.Format("2006-01"), Year: t.Year(), Month: int(t.Month())}
	default:
		return TimelineBucket{Period: t.Format("2006-01-02"), Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
