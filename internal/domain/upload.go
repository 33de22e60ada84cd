package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UploadKind distinguishes the two ingestion flows
type UploadKind string

const (
	UploadReceipt   UploadKind = "receipt"
	UploadStatement UploadKind = "statement"
)

// ReceiptExtraction is what the extractor found on a receipt
type ReceiptExtraction struct {
	Merchant       string        `json:"merchant"`
	Date           string        `json:"date"`
	Amount         float64       `json:"amount"`
	Category       string        `json:"category"`
	CategorySource string        `json:"categorySource,omitempty"`
	Confidence     string        `json:"confidence,omitempty"`
	Items          []ReceiptItem `json:"items,omitempty"`
}

// StatementRow is one extracted statement line, already classified for review
type StatementRow struct {
	Ref           string        `json:"id"`
	Date          string        `json:"date"`
	Description   string        `json:"description"`
	Amount        float64       `json:"amount"`
	Kind          Kind          `json:"type"`
	Subclass      string        `json:"subclass"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
	Balance       float64       `json:"balance"`
	Confidence    string        `json:"confidence,omitempty"`
}

// StatementExtraction is what the extractor found on a statement
type StatementExtraction struct {
	Info StatementInfo  `json:"statementInfo"`
	Rows []StatementRow `json:"transactions"`
}

// StagedUpload is an extracted file waiting for the owner to confirm or reject it
type StagedUpload struct {
	ID           string               `json:"id"`
	UserID       string               `json:"userId"`
	Kind         UploadKind           `json:"kind"`
	FilePath     string               `json:"filePath"`
	OriginalName string               `json:"originalName"`
	StoredName   string               `json:"storedName"`
	Size         int64                `json:"size"`
	Receipt      *ReceiptExtraction   `json:"receipt,omitempty"`
	Statement    *StatementExtraction `json:"statement,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	ExpiresAt    time.Time            `json:"expiresAt"`
}

// StagedUploadRepository keeps staged uploads until they expire.
// Get returns an ErrNotFound error for missing, expired or foreign entries.
type StagedUploadRepository interface {
	Save(ctx context.Context, u *StagedUpload) error
	Get(ctx context.Context, ownerID, id string) (*StagedUpload, error)
	Delete(ctx context.Context, ownerID, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]*StagedUpload, error)
}

// RawReceipt is the extractor's receipt output before review
type RawReceipt struct {
	Merchant       string
	Date           string
	AmountPaid     float64
	Total          float64
	Category       string
	CategorySource string
	Items          []ReceiptItem
}

// RawStatementLine is one extracted statement line before classification
type RawStatementLine struct {
	Date        string
	Description string
	Debit       float64
	Credit      float64
	Amount      float64
	Balance     float64
	Category    string
	Confidence  string
}

// RawStatement is the extractor's statement output before review
type RawStatement struct {
	AccountNumber  string
	Period         string
	OpeningBalance float64
	ClosingBalance float64
	Lines          []RawStatementLine
}

// ReviewReceipt turns raw extractor output into the reviewable extraction.
// Unknown categories fall back to the default expense subclass.
func ReviewReceipt(raw RawReceipt, today time.Time) ReceiptExtraction {
	amount := raw.AmountPaid
	if amount == 0 {
		amount = raw.Total
	}
	date := raw.Date
	if date == "" {
		date = today.Format("2006-01-02")
	}
	category := raw.Category
	if !ValidSubclass(KindExpense, category) {
		category = DefaultExpenseSubclass
	}
	source := raw.CategorySource
	if source == "" {
		source = "unknown"
	}
	return ReceiptExtraction{
		Merchant:       raw.Merchant,
		Date:           date,
		Amount:         amount,
		Category:       category,
		CategorySource: source,
		Confidence:     source,
		Items:          raw.Items,
	}
}

// ReviewStatement classifies every extracted line for review
func ReviewStatement(raw RawStatement, today time.Time) StatementExtraction {
	rows := make([]StatementRow, 0, len(raw.Lines))
	for i, line := range raw.Lines {
		rows = append(rows, ClassifyStatementLine(line, i, today))
	}
	account := raw.AccountNumber
	if account == "" {
		account = "Unknown"
	}
	period := raw.Period
	if period == "" {
		period = "Unknown"
	}
	return StatementExtraction{
		Info: StatementInfo{
			AccountNumber:     account,
			Period:            period,
			OpeningBalance:    raw.OpeningBalance,
			ClosingBalance:    raw.ClosingBalance,
			TotalTransactions: len(rows),
		},
		Rows: rows,
	}
}

// ClassifyStatementLine decides kind and subclass from the credit/debit
// columns and description keywords. Credits are income; everything else
// is an expense paid by bank transfer.
func ClassifyStatementLine(line RawStatementLine, index int, today time.Time) StatementRow {
	desc := strings.ToLower(line.Description)
	row := StatementRow{
		Ref:         fmt.Sprintf("tx_%d", index),
		Date:        line.Date,
		Description: line.Description,
		Kind:        KindExpense,
		Subclass:    DefaultExpenseSubclass,
		Balance:     line.Balance,
		Confidence:  line.Confidence,
	}
	if row.Date == "" {
		row.Date = today.Format("2006-01-02")
	}
	if row.Description == "" {
		row.Description = "Unknown Transaction"
	}
	if row.Confidence == "" {
		row.Confidence = "medium"
	}

	switch {
	case line.Debit > 0:
		row.Amount = line.Debit
	case line.Credit > 0:
		row.Amount = line.Credit
	default:
		row.Amount = line.Amount
	}

	switch {
	case line.Credit > 0:
		row.Kind = KindIncome
		row.Subclass = matchKeyword(desc, DefaultIncomeSubclass, incomeKeywords)
	case line.Debit > 0 && ValidSubclass(KindExpense, line.Category):
		row.Subclass = line.Category
	case line.Debit > 0:
		row.Subclass = matchKeyword(desc, DefaultExpenseSubclass, expenseKeywords)
	}
	if row.Kind == KindExpense {
		row.PaymentMethod = PaymentBankTransfer
	}
	return row
}

type keywordRule struct {
	words    []string
	subclass string
}

var incomeKeywords = []keywordRule{
	{[]string{"salary", "payroll"}, "salary"},
	{[]string{"dividend"}, "dividends"},
	{[]string{"interest"}, "interest"},
	{[]string{"bonus"}, "bonus"},
}

var expenseKeywords = []keywordRule{
	{[]string{"grocery", "walmart", "target"}, "groceries"},
	{[]string{"restaurant", "food"}, "food_dining"},
	{[]string{"gas", "fuel"}, "fuel"},
	{[]string{"rent"}, "rent"},
	{[]string{"utility", "electric"}, "utilities"},
}

func matchKeyword(desc, fallback string, rules []keywordRule) string {
	for _, r := range rules {
		for _, w := range r.words {
			if strings.Contains(desc, w) {
				return r.subclass
			}
		}
	}
	return fallback
}
