package domain

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind is the direction of a transaction
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// PaymentMethod is only meaningful for expenses
type PaymentMethod string

const (
	PaymentCash          PaymentMethod = "cash"
	PaymentCreditCard    PaymentMethod = "credit_card"
	PaymentDebitCard     PaymentMethod = "debit_card"
	PaymentBankTransfer  PaymentMethod = "bank_transfer"
	PaymentDigitalWallet PaymentMethod = "digital_wallet"
	PaymentCheck         PaymentMethod = "check"
	PaymentOther         PaymentMethod = "other"
)

var paymentMethods = []PaymentMethod{
	PaymentCash, PaymentCreditCard, PaymentDebitCard, PaymentBankTransfer,
	PaymentDigitalWallet, PaymentCheck, PaymentOther,
}

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	for _, pm := range paymentMethods {
		if pm == m {
			return true
		}
	}
	return false
}

// IncomeSubclasses lists the allowed subclasses for income transactions
var IncomeSubclasses = []string{
	"salary", "freelance", "investment_returns", "rental_income", "business_income",
	"dividends", "interest", "bonus", "commission", "pension", "grants",
	"gifts_received", "insurance_claims", "tax_refunds", "other_income",
}

// ExpenseSubclasses lists the allowed subclasses for expense transactions
var ExpenseSubclasses = []string{
	"food_dining", "groceries", "rent", "mortgage", "utilities", "transportation",
	"fuel", "entertainment", "shopping", "healthcare", "insurance", "education",
	"travel", "gym_fitness", "subscriptions", "phone_internet", "clothing",
	"personal_care", "home_maintenance", "investments", "loans", "taxes",
	"charity_donations", "gifts_given", "business_expenses", "other_expenses",
}

const (
	DefaultIncomeSubclass  = "other_income"
	DefaultExpenseSubclass = "other_expenses"
	maxDescriptionLen      = 500
	minAmount              = 0.01
)

// SubclassesFor returns the allowed subclasses for a kind
func SubclassesFor(k Kind) []string {
	switch k {
	case KindIncome:
		return IncomeSubclasses
	case KindExpense:
		return ExpenseSubclasses
	}
	return nil
}

// ValidSubclass reports whether subclass belongs to kind
func ValidSubclass(k Kind, subclass string) bool {
	for _, s := range SubclassesFor(k) {
		if s == subclass {
			return true
		}
	}
	return false
}

// SubclassLabel turns "food_dining" into "Food Dining"
func SubclassLabel(subclass string) string {
	words := strings.Split(subclass, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ReceiptItem is one line of a scanned receipt
type ReceiptItem struct {
	Name     string  `json:"name" bson:"name"`
	Qty      float64 `json:"qty" bson:"qty"`
	Price    float64 `json:"price" bson:"price"`
	Category string  `json:"category,omitempty" bson:"category,omitempty"`
}

// ReceiptData links a transaction to the receipt it was created from
type ReceiptData struct {
	Merchant         string        `json:"merchant" bson:"merchant"`
	Items            []ReceiptItem `json:"items,omitempty" bson:"items,omitempty"`
	OCRConfidence    string        `json:"ocrConfidence,omitempty" bson:"ocrConfidence,omitempty"`
	ExtractedAt      time.Time     `json:"extractedAt" bson:"extractedAt"`
	OriginalFilename string        `json:"originalFilename" bson:"originalFilename"`
	UploadedFilename string        `json:"uploadedFilename" bson:"uploadedFilename"`
	FileSize         int64         `json:"fileSize" bson:"fileSize"`
	FilePath         string        `json:"filePath" bson:"filePath"`
	ProcessedAt      time.Time     `json:"processedAt" bson:"processedAt"`
}

// StatementInfo is the header of a bank statement
type StatementInfo struct {
	AccountNumber     string  `json:"accountNumber" bson:"accountNumber"`
	Period            string  `json:"period" bson:"period"`
	OpeningBalance    float64 `json:"openingBalance" bson:"openingBalance"`
	ClosingBalance    float64 `json:"closingBalance" bson:"closingBalance"`
	TotalTransactions int     `json:"totalTransactions" bson:"totalTransactions"`
}

// StatementData links a transaction to the statement row it was created from
type StatementData struct {
	StatementInfo    StatementInfo `json:"statementInfo" bson:"statementInfo"`
	Balance          float64       `json:"balance" bson:"balance"`
	OriginalFilename string        `json:"originalFilename" bson:"originalFilename"`
	UploadedFilename string        `json:"uploadedFilename" bson:"uploadedFilename"`
	FileSize         int64         `json:"fileSize" bson:"fileSize"`
	FilePath         string        `json:"filePath" bson:"filePath"`
	ProcessedAt      time.Time     `json:"processedAt" bson:"processedAt"`
	UserReviewed     bool          `json:"userReviewed" bson:"userReviewed"`
	ExtractedAt      time.Time     `json:"extractedAt" bson:"extractedAt"`
	TransactionIndex int           `json:"transactionIndex" bson:"transactionIndex"`
}

// Transaction is a domain record owned by exactly one principal
type Transaction struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	Kind          Kind           `json:"type"`
	Subclass      string         `json:"subclass"`
	SubclassLabel string         `json:"subclassLabel,omitempty"`
	Amount        float64        `json:"amount"`
	Description   string         `json:"description"`
	Date          time.Time      `json:"date"`
	PaymentMethod PaymentMethod  `json:"paymentMethod,omitempty"`
	Receipt       *ReceiptData   `json:"receiptData,omitempty"`
	Statement     *StatementData `json:"statementData,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Draft is the user-supplied part of a new transaction
type Draft struct {
	Kind          Kind
	Subclass      string
	Amount        float64
	Description   string
	Date          time.Time
	PaymentMethod PaymentMethod
}

// Normalize validates the draft and applies defaults. Expenses default to
// the "other" payment method; income must not carry one.
func (d Draft) Normalize() (Draft, error) {
	if !d.Kind.Valid() {
		return d, Validation("Valid transaction type (income/expense) is required")
	}
	if d.Subclass == "" {
		return d, Validation("Transaction subclass is required")
	}
	if !ValidSubclass(d.Kind, d.Subclass) {
		return d, Validation("Invalid " + string(d.Kind) + " subclass. Allowed values: " + strings.Join(SubclassesFor(d.Kind), ", "))
	}
	if d.Amount < minAmount || math.IsNaN(d.Amount) || math.IsInf(d.Amount, 0) {
		return d, Validation("Valid amount greater than 0 is required")
	}
	if !hasTwoDecimals(d.Amount) {
		return d, Validation("Amount can have maximum 2 decimal places")
	}
	d.Amount = math.Round(d.Amount*100) / 100

	d.Description = strings.TrimSpace(d.Description)
	if d.Description == "" {
		return d, Validation("Description is required")
	}
	if utf8.RuneCountInString(d.Description) > maxDescriptionLen {
		return d, Validation("Description cannot exceed 500 characters")
	}
	if d.Date.IsZero() {
		return d, Validation("Transaction date is required")
	}

	switch d.Kind {
	case KindExpense:
		if d.PaymentMethod == "" {
			d.PaymentMethod = PaymentOther
		}
		if !d.PaymentMethod.Valid() {
			return d, Validation("Invalid payment method")
		}
	case KindIncome:
		if d.PaymentMethod != "" {
			return d, Validation("Payment method should not be specified for income transactions")
		}
	}
	return d, nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Kind          *Kind
	Subclass      *string
	Amount        *float64
	Description   *string
	Date          *time.Time
	PaymentMethod *PaymentMethod
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Kind == nil && p.Subclass == nil && p.Amount == nil &&
		p.Description == nil && p.Date == nil && p.PaymentMethod == nil
}

// Apply merges the patch into t and validates the result as a whole.
// t is left untouched when validation fails.
func (p Patch) Apply(t *Transaction) error {
	if p.Empty() {
		return Validation("At least one field must be provided")
	}
	if p.Kind != nil && *p.Kind == KindIncome && p.PaymentMethod != nil && *p.PaymentMethod != "" {
		return Validation("Payment method should not be specified for income transactions")
	}

	d := Draft{
		Kind:          t.Kind,
		Subclass:      t.Subclass,
		Amount:        t.Amount,
		Description:   t.Description,
		Date:          t.Date,
		PaymentMethod: t.PaymentMethod,
	}
	if p.Kind != nil {
		d.Kind = *p.Kind
		if d.Kind == KindIncome {
			d.PaymentMethod = ""
		}
	}
	if p.Subclass != nil {
		d.Subclass = *p.Subclass
	}
	if p.Amount != nil {
		d.Amount = *p.Amount
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Date != nil {
		d.Date = *p.Date
	}
	if p.PaymentMethod != nil {
		d.PaymentMethod = *p.PaymentMethod
	}

	normalized, err := d.Normalize()
	if err != nil {
		return err
	}
	t.Kind = normalized.Kind
	t.Subclass = normalized.Subclass
	t.Amount = normalized.Amount
	t.Description = normalized.Description
	t.Date = normalized.Date
	t.PaymentMethod = normalized.PaymentMethod
	return nil
}

func hasTwoDecimals(v float64) bool {
	cents := v * 100
	return math.Abs(cents-math.Round(cents)) < 1e-6
}

// TransactionFilter scopes a listing. OwnerID is mandatory; Limit 0 means no paging.
type TransactionFilter struct {
	OwnerID       string
	Kind          Kind
	Subclass      string
	PaymentMethod PaymentMethod
	From          *time.Time
	To            *time.Time
	WithReceipt   bool
	WithStatement bool
	SortByCreated bool
	Page          int
	Limit         int
}

// TransactionRepository defines owner-scoped data access for transactions.
// Every method filters by owner; a record owned by someone else behaves as missing.
type TransactionRepository interface {
	Create(ctx context.Context, t *Transaction) error
	CreateMany(ctx context.Context, ts []*Transaction) error
	GetByID(ctx context.Context, ownerID, id string) (*Transaction, error)
	List(ctx context.Context, f TransactionFilter) ([]*Transaction, int64, error)
	Update(ctx context.Context, t *Transaction) error
	Delete(ctx context.Context, ownerID, id string) error
}

var recordIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// ValidRecordID reports whether id has the 24-hex form used for principals and records
func ValidRecordID(id string) bool {
	return recordIDPattern.MatchString(id)
}

// ParseDate accepts RFC3339 timestamps and plain YYYY-MM-DD dates (UTC midnight)
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, Validation("Transaction date is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, Validation("Invalid date format, use YYYY-MM-DD or RFC3339")
}
