// Package ocr runs the external receipt and statement extraction commands
// and decodes their JSON output.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
)

// ErrNotConfigured is returned when no command is set for a document kind
var ErrNotConfigured = errors.New("ocr command not configured")

// CommandExtractor runs one command per document kind with the file path as
// the last argument and parses the JSON object it prints.
type CommandExtractor struct {
	receiptCmd   []string
	statementCmd []string
	timeout      time.Duration
	logger       *slog.Logger
}

// NewCommandExtractor splits the command lines on whitespace
func NewCommandExtractor(receiptCmd, statementCmd string, timeout time.Duration, logger *slog.Logger) *CommandExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CommandExtractor{
		receiptCmd:   strings.Fields(receiptCmd),
		statementCmd: strings.Fields(statementCmd),
		timeout:      timeout,
		logger:       logger,
	}
}

// Receipt extracts a receipt image or PDF
func (e *CommandExtractor) Receipt(ctx context.Context, path string) (*domain.RawReceipt, error) {
	var out receiptOutput
	if err := e.run(ctx, e.receiptCmd, path, &out); err != nil {
		return nil, domain.Upstream("Receipt OCR processing failed", err)
	}
	raw := &domain.RawReceipt{
		Merchant:       strings.TrimSpace(out.Merchant),
		Date:           strings.TrimSpace(out.Date),
		AmountPaid:     float64(out.AmountPaid),
		Total:          float64(out.Total),
		Category:       strings.TrimSpace(out.Category),
		CategorySource: out.CategorySource,
	}
	for _, it := range out.Items {
		raw.Items = append(raw.Items, domain.ReceiptItem{
			Name:     it.Name,
			Qty:      float64(it.Qty),
			Price:    float64(it.Price),
			Category: it.Category,
		})
	}
	return raw, nil
}

// Statement extracts a bank statement PDF
func (e *CommandExtractor) Statement(ctx context.Context, path string) (*domain.RawStatement, error) {
	var out statementOutput
	if err := e.run(ctx, e.statementCmd, path, &out); err != nil {
		return nil, domain.Upstream("Statement OCR processing failed", err)
	}
	raw := &domain.RawStatement{
		AccountNumber:  out.AccountNumber,
		Period:         out.Period,
		OpeningBalance: float64(out.OpeningBalance),
		ClosingBalance: float64(out.ClosingBalance),
	}
	for _, l := range out.Transactions {
		raw.Lines = append(raw.Lines, domain.RawStatementLine{
			Date:        strings.TrimSpace(l.Date),
			Description: strings.TrimSpace(l.Description),
			Debit:       float64(l.Debit),
			Credit:      float64(l.Credit),
			Amount:      float64(l.Amount),
			Balance:     float64(l.Balance),
			Category:    l.Category,
			Confidence:  l.Confidence,
		})
	}
	return raw, nil
}

func (e *CommandExtractor) run(ctx context.Context, argv []string, path string, v any) error {
	if len(argv) == 0 {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := append(append([]string{}, argv[1:]...), path)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("extraction timed out after %s", e.timeout)
	}
	if err != nil {
		e.logger.Error("ocr command failed",
			slog.String("command", argv[0]),
			slog.String("stderr", truncate(stderr.String(), 512)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("extraction command failed: %w", err)
	}
	e.logger.Debug("ocr command finished",
		slog.String("command", argv[0]),
		slog.Duration("duration", time.Since(start)),
	)

	obj, err := jsonObject(stdout.Bytes())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(obj, v); err != nil {
		return fmt.Errorf("failed to parse extraction output: %w", err)
	}
	return nil
}

// jsonObject returns the span between the first '{' and the last '}'.
// Extraction scripts may print progress lines around the result.
func jsonObject(out []byte) ([]byte, error) {
	start := bytes.IndexByte(out, '{')
	end := bytes.LastIndexByte(out, '}')
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in extraction output")
	}
	return out[start : end+1], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// flexFloat accepts JSON numbers as well as strings like "$1,234.50" or ""
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", s)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type receiptOutput struct {
	Merchant       string    `json:"merchant"`
	Date           string    `json:"date"`
	AmountPaid     flexFloat `json:"amount_paid"`
	Total          flexFloat `json:"total"`
	Category       string    `json:"category"`
	CategorySource string    `json:"category_source"`
	Items          []struct {
		Name     string    `json:"name"`
		Qty      flexFloat `json:"qty"`
		Price    flexFloat `json:"price"`
		Category string    `json:"category"`
	} `json:"items"`
}

type statementOutput struct {
	AccountNumber  string    `json:"accountNumber"`
	Period         string    `json:"period"`
	OpeningBalance flexFloat `json:"openingBalance"`
	ClosingBalance flexFloat `json:"closingBalance"`
	Transactions   []struct {
		Date        string    `json:"date"`
		Description string    `json:"description"`
		Debit       flexFloat `json:"debit"`
		Credit      flexFloat `json:"credit"`
		Amount      flexFloat `json:"amount"`
		Balance     flexFloat `json:"balance"`
		Category    string    `json:"category"`
		Confidence  string    `json:"confidence"`
	} `json:"transactions"`
}
