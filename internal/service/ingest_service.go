package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/aryan0dhankhar/expensetracker/internal/security"
	"github.com/google/uuid"
)

// Extractor runs the external OCR step on a staged file
type Extractor interface {
	Receipt(ctx context.Context, path string) (*domain.RawReceipt, error)
	Statement(ctx context.Context, path string) (*domain.RawStatement, error)
}

// IngestConfig holds the upload settings
type IngestConfig struct {
	UploadDir      string
	StagingTTL     time.Duration
	MaxUploadBytes int64
}

// Upload is one file received from a client
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// ReceiptOverrides are the reviewed values a client may correct before confirming
type ReceiptOverrides struct {
	Merchant      *string
	Date          *time.Time
	Amount        *float64
	Description   *string
	Subclass      *string
	PaymentMethod *domain.PaymentMethod
}

// StatementSummary reports the outcome of a confirmed statement
type StatementSummary struct {
	TotalCreated        int     `json:"totalCreated"`
	IncomeTransactions  int     `json:"incomeTransactions"`
	ExpenseTransactions int     `json:"expenseTransactions"`
	TotalAmount         float64 `json:"totalAmount"`
}

var allowedTypes = map[domain.UploadKind][]string{
	domain.UploadReceipt:   {"image/jpeg", "image/png", "application/pdf"},
	domain.UploadStatement: {"application/pdf"},
}

// IngestService stages uploaded receipts and statements, runs extraction,
// and turns confirmed extractions into transactions
type IngestService struct {
	transactions domain.TransactionRepository
	staged       domain.StagedUploadRepository
	extractor    Extractor
	guard        *security.OwnershipGuard
	events       EventBroadcaster
	cfg          IngestConfig
	logger       *slog.Logger
	now          func() time.Time
}

// NewIngestService creates a new ingest service
func NewIngestService(
	transactions domain.TransactionRepository,
	staged domain.StagedUploadRepository,
	extractor Extractor,
	guard *security.OwnershipGuard,
	events EventBroadcaster,
	cfg IngestConfig,
	logger *slog.Logger,
) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = security.NewOwnershipGuard(logger)
	}
	if cfg.StagingTTL <= 0 {
		cfg.StagingTTL = 30 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &IngestService{
		transactions: transactions,
		staged:       staged,
		extractor:    extractor,
		guard:        guard,
		events:       events,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *IngestService) tempDir() string { return filepath.Join(s.cfg.UploadDir, "temp") }

func (s *IngestService) finalDir(kind domain.UploadKind) string {
	if kind == domain.UploadStatement {
		return filepath.Join(s.cfg.UploadDir, "statements")
	}
	return filepath.Join(s.cfg.UploadDir, "receipts")
}

// ProcessReceipt stages a receipt image or PDF and extracts it for review
func (s *IngestService) ProcessReceipt(ctx context.Context, ownerID string, up Upload) (*domain.StagedUpload, error) {
	return s.process(ctx, ownerID, domain.UploadReceipt, up)
}

// ProcessStatement stages a statement PDF and extracts its lines for review
func (s *IngestService) ProcessStatement(ctx context.Context, ownerID string, up Upload) (*domain.StagedUpload, error) {
	return s.process(ctx, ownerID, domain.UploadStatement, up)
}

func (s *IngestService) process(ctx context.Context, ownerID string, kind domain.UploadKind, up Upload) (*domain.StagedUpload, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if up.Body == nil {
		return nil, domain.Validation(fmt.Sprintf("No %s file uploaded", kind))
	}

	id := uuid.NewString()
	path, size, err := s.store(kind, id, up)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	u := &domain.StagedUpload{
		ID:           id,
		UserID:       ownerID,
		Kind:         kind,
		FilePath:     path,
		OriginalName: filepath.Base(up.Filename),
		StoredName:   filepath.Base(path),
		Size:         size,
		CreatedAt:    s.now().UTC(),
		ExpiresAt:    s.now().UTC().Add(s.cfg.StagingTTL),
	}

	switch kind {
	case domain.UploadReceipt:
		raw, xerr := s.extractor.Receipt(ctx, path)
		if xerr == nil {
			ex := domain.ReviewReceipt(*raw, s.now())
			u.Receipt = &ex
		}
		err = xerr
	case domain.UploadStatement:
		raw, xerr := s.extractor.Statement(ctx, path)
		if xerr == nil {
			ex := domain.ReviewStatement(*raw, s.now())
			u.Statement = &ex
		}
		err = xerr
	}
	if err != nil {
		metrics.ObserveOCR(string(kind), "error", time.Since(start))
		s.removeFile(path)
		s.logger.Error("extraction failed",
			slog.String("user_id", ownerID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrUpstream) {
			return nil, err
		}
		return nil, domain.Upstream(fmt.Sprintf("%s OCR processing failed", titleKind(kind)), err)
	}
	metrics.ObserveOCR(string(kind), "success", time.Since(start))

	if err := s.staged.Save(ctx, u); err != nil {
		s.removeFile(path)
		return nil, err
	}
	s.logger.Info("upload staged",
		slog.String("user_id", ownerID),
		slog.String("upload_id", id),
		slog.String("kind", string(kind)),
		slog.Int64("size", size),
	)
	return u, nil
}

// store writes the upload under the temp directory after checking size and type
func (s *IngestService) store(kind domain.UploadKind, id string, up Upload) (string, int64, error) {
	if up.Size > s.cfg.MaxUploadBytes {
		return "", 0, domain.Validation(tooLargeMessage(s.cfg.MaxUploadBytes))
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", 0, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return "", 0, domain.Validation(fmt.Sprintf("No %s file uploaded", kind))
	}

	ctype := http.DetectContentType(head)
	if !typeAllowed(kind, ctype) {
		return "", 0, domain.Validation(fmt.Sprintf("Invalid file type for %s. Allowed types: %s",
			kind, strings.Join(allowedTypes[kind], ", ")))
	}

	if err := os.MkdirAll(s.tempDir(), 0o750); err != nil {
		return "", 0, fmt.Errorf("failed to create upload dir: %w", err)
	}
	path := filepath.Join(s.tempDir(), string(kind)+"-"+id+extensionFor(ctype))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staged file: %w", err)
	}

	// one byte over the limit is enough to detect an oversized body
	limited := io.LimitReader(io.MultiReader(bytes.NewReader(head), up.Body), s.cfg.MaxUploadBytes+1)
	written, copyErr := io.Copy(f, limited)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		s.removeFile(path)
		return "", 0, fmt.Errorf("failed to write staged file: %w", errors.Join(copyErr, closeErr))
	}
	if written > s.cfg.MaxUploadBytes {
		s.removeFile(path)
		return "", 0, domain.Validation(tooLargeMessage(s.cfg.MaxUploadBytes))
	}
	return path, written, nil
}

// ConfirmReceipt creates one expense from the owner's staged receipt
func (s *IngestService) ConfirmReceipt(ctx context.Context, ownerID, uploadID string, ov ReceiptOverrides) (*domain.Transaction, error) {
	u, err := s.loadStaged(ctx, ownerID, uploadID, domain.UploadReceipt)
	if err != nil {
		return nil, err
	}
	ex := u.Receipt

	merchant := ex.Merchant
	if ov.Merchant != nil {
		merchant = strings.TrimSpace(*ov.Merchant)
	}
	if merchant == "" {
		merchant = "Unknown Merchant"
	}

	d := domain.Draft{
		Kind:          domain.KindExpense,
		Subclass:      ex.Category,
		Amount:        roundCents(ex.Amount),
		Description:   "Receipt from " + merchant,
		PaymentMethod: domain.PaymentOther,
	}
	if ov.Subclass != nil {
		d.Subclass = *ov.Subclass
	}
	if ov.Amount != nil {
		d.Amount = *ov.Amount
	}
	if ov.Description != nil && strings.TrimSpace(*ov.Description) != "" {
		d.Description = *ov.Description
	}
	if ov.PaymentMethod != nil && *ov.PaymentMethod != "" {
		d.PaymentMethod = *ov.PaymentMethod
	}
	if ov.Date != nil {
		d.Date = *ov.Date
	} else if d.Date, err = domain.ParseDate(ex.Date); err != nil {
		d.Date = s.now().UTC()
	}

	d, err = d.Normalize()
	if err != nil {
		return nil, err
	}

	finalPath, err := s.promote(u)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tx := &domain.Transaction{
		UserID:        ownerID,
		Kind:          d.Kind,
		Subclass:      d.Subclass,
		Amount:        d.Amount,
		Description:   d.Description,
		Date:          d.Date,
		PaymentMethod: d.PaymentMethod,
		Receipt: &domain.ReceiptData{
			Merchant:         merchant,
			Items:            ex.Items,
			OCRConfidence:    ex.Confidence,
			ExtractedAt:      u.CreatedAt,
			OriginalFilename: u.OriginalName,
			UploadedFilename: filepath.Base(finalPath),
			FileSize:         u.Size,
			FilePath:         finalPath,
			ProcessedAt:      now,
		},
	}
	if err := s.transactions.Create(ctx, tx); err != nil {
		s.unpromote(u, finalPath)
		return nil, err
	}
	s.dropStage(ctx, u)

	s.logger.Info("receipt confirmed",
		slog.String("user_id", ownerID),
		slog.String("upload_id", uploadID),
		slog.String("transaction_id", tx.ID),
	)
	if s.events != nil {
		s.events.Broadcast(ownerID, EventTransactionCreated, tx)
	}
	return tx, nil
}

// ConfirmStatement creates one transaction per reviewed row. When rows is
// nil the staged rows are used as extracted. Any invalid row rejects the
// whole batch and nothing is created.
func (s *IngestService) ConfirmStatement(ctx context.Context, ownerID, uploadID string, rows []domain.StatementRow) ([]*domain.Transaction, StatementSummary, error) {
	u, err := s.loadStaged(ctx, ownerID, uploadID, domain.UploadStatement)
	if err != nil {
		return nil, StatementSummary{}, err
	}
	if rows == nil {
		rows = u.Statement.Rows
	}
	if len(rows) == 0 {
		return nil, StatementSummary{}, domain.Validation("At least one transaction is required")
	}

	drafts := make([]domain.Draft, 0, len(rows))
	var problems []string
	for i, row := range rows {
		d, err := statementDraft(row)
		if err != nil {
			problems = append(problems, fmt.Sprintf("Transaction %d: %s", i+1, domain.Message(err, "invalid")))
			continue
		}
		drafts = append(drafts, d)
	}
	if len(problems) > 0 {
		return nil, StatementSummary{}, domain.ValidationDetails("Transaction validation errors", problems)
	}

	finalPath, err := s.promote(u)
	if err != nil {
		return nil, StatementSummary{}, err
	}

	now := s.now().UTC()
	txs := make([]*domain.Transaction, 0, len(drafts))
	for i, d := range drafts {
		txs = append(txs, &domain.Transaction{
			UserID:        ownerID,
			Kind:          d.Kind,
			Subclass:      d.Subclass,
			Amount:        d.Amount,
			Description:   d.Description,
			Date:          d.Date,
			PaymentMethod: d.PaymentMethod,
			Statement: &domain.StatementData{
				StatementInfo:    u.Statement.Info,
				Balance:          rows[i].Balance,
				OriginalFilename: u.OriginalName,
				UploadedFilename: filepath.Base(finalPath),
				FileSize:         u.Size,
				FilePath:         finalPath,
				ProcessedAt:      now,
				UserReviewed:     true,
				ExtractedAt:      u.CreatedAt,
				TransactionIndex: i,
			},
		})
	}
	if err := s.transactions.CreateMany(ctx, txs); err != nil {
		s.unpromote(u, finalPath)
		return nil, StatementSummary{}, err
	}
	s.dropStage(ctx, u)

	var sum StatementSummary
	for _, tx := range txs {
		sum.TotalCreated++
		if tx.Kind == domain.KindIncome {
			sum.IncomeTransactions++
			sum.TotalAmount += tx.Amount
		} else {
			sum.ExpenseTransactions++
			sum.TotalAmount -= tx.Amount
		}
		if s.events != nil {
			s.events.Broadcast(ownerID, EventTransactionCreated, tx)
		}
	}
	sum.TotalAmount = roundCents(sum.TotalAmount)

	s.logger.Info("statement confirmed",
		slog.String("user_id", ownerID),
		slog.String("upload_id", uploadID),
		slog.Int("created", sum.TotalCreated),
	)
	return txs, sum, nil
}

func statementDraft(row domain.StatementRow) (domain.Draft, error) {
	if !row.Kind.Valid() {
		return domain.Draft{}, domain.Validation("Invalid type")
	}
	if !domain.ValidSubclass(row.Kind, row.Subclass) {
		return domain.Draft{}, domain.Validation("Invalid subclass for " + string(row.Kind))
	}
	if row.Amount <= 0 {
		return domain.Draft{}, domain.Validation("Invalid amount")
	}
	date, err := domain.ParseDate(row.Date)
	if err != nil {
		return domain.Draft{}, err
	}
	d := domain.Draft{
		Kind:          row.Kind,
		Subclass:      row.Subclass,
		Amount:        roundCents(row.Amount),
		Description:   row.Description,
		Date:          date,
		PaymentMethod: row.PaymentMethod,
	}
	if strings.TrimSpace(d.Description) == "" {
		d.Description = "Statement transaction"
	}
	switch d.Kind {
	case domain.KindIncome:
		d.PaymentMethod = ""
	case domain.KindExpense:
		if d.PaymentMethod == "" {
			d.PaymentMethod = domain.PaymentBankTransfer
		}
	}
	return d.Normalize()
}

// Reject discards the owner's staged upload and its file
func (s *IngestService) Reject(ctx context.Context, ownerID, uploadID string, kind domain.UploadKind) error {
	u, err := s.loadStaged(ctx, ownerID, uploadID, kind)
	if err != nil {
		return err
	}
	s.removeFile(u.FilePath)
	if err := s.staged.Delete(ctx, ownerID, uploadID); err != nil {
		return err
	}
	s.logger.Info("upload rejected",
		slog.String("user_id", ownerID),
		slog.String("upload_id", uploadID),
		slog.String("kind", string(kind)),
	)
	return nil
}

// History lists the owner's transactions created from receipts or statements, newest first
func (s *IngestService) History(ctx context.Context, ownerID string, kind domain.UploadKind, page, limit int) ([]*domain.Transaction, Pagination, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, Pagination{}, err
	}
	page, limit, err := NormalizePage(page, limit)
	if err != nil {
		return nil, Pagination{}, err
	}
	list, total, err := s.transactions.List(ctx, domain.TransactionFilter{
		OwnerID:       ownerID,
		WithReceipt:   kind == domain.UploadReceipt,
		WithStatement: kind == domain.UploadStatement,
		SortByCreated: true,
		Page:          page,
		Limit:         limit,
	})
	if err != nil {
		return nil, Pagination{}, err
	}
	return list, NewPagination(page, limit, total), nil
}

// SweepExpired removes staged uploads and files whose review window has passed
func (s *IngestService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.staged.ListExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, u := range expired {
		s.removeFile(u.FilePath)
		if err := s.staged.Delete(ctx, u.UserID, u.ID); err != nil {
			s.logger.Error("failed to delete expired upload",
				slog.String("upload_id", u.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *IngestService) loadStaged(ctx context.Context, ownerID, uploadID string, kind domain.UploadKind) (*domain.StagedUpload, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(uploadID) == "" {
		return nil, domain.Validation("uploadId is required")
	}
	u, err := s.staged.Get(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(ownerID, security.Resource{Type: security.ResourceStagedUpload, ID: uploadID, OwnerID: u.UserID}); err != nil {
		return nil, err
	}
	if u.Kind != kind || (kind == domain.UploadReceipt && u.Receipt == nil) || (kind == domain.UploadStatement && u.Statement == nil) {
		return nil, domain.NotFound("Processing record not found")
	}
	return u, nil
}

// promote moves the staged file into the permanent directory for its kind
func (s *IngestService) promote(u *domain.StagedUpload) (string, error) {
	dir := s.finalDir(u.Kind)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create %s dir: %w", u.Kind, err)
	}
	dst := filepath.Join(dir, filepath.Base(u.FilePath))
	if err := os.Rename(u.FilePath, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.NotFound(fmt.Sprintf("Temp file not found. Please upload the %s again.", u.Kind))
		}
		return "", fmt.Errorf("failed to move file to permanent location: %w", err)
	}
	return dst, nil
}

// unpromote moves a promoted file back to its staging path so the upload
// can be confirmed again or rejected after a failed store write.
func (s *IngestService) unpromote(u *domain.StagedUpload, promoted string) {
	if err := os.Rename(promoted, u.FilePath); err != nil {
		s.logger.Error("failed to return file to staging",
			slog.String("upload_id", u.ID),
			slog.String("path", promoted),
			slog.String("error", err.Error()),
		)
	}
}

func (s *IngestService) dropStage(ctx context.Context, u *domain.StagedUpload) {
	if err := s.staged.Delete(ctx, u.UserID, u.ID); err != nil {
		s.logger.Warn("failed to delete staged upload",
			slog.String("upload_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *IngestService) removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove staged file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func typeAllowed(kind domain.UploadKind, ctype string) bool {
	ctype, _, _ = strings.Cut(ctype, ";")
	for _, t := range allowedTypes[kind] {
		if t == ctype {
			return true
		}
	}
	return false
}

func extensionFor(ctype string) string {
	switch {
	case strings.HasPrefix(ctype, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(ctype, "image/png"):
		return ".png"
	case strings.HasPrefix(ctype, "application/pdf"):
		return ".pdf"
	}
	return ""
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("File size too large. Maximum size is %dMB.", limit>>20)
}

func titleKind(kind domain.UploadKind) string {
	if kind == domain.UploadStatement {
		return "Statement"
	}
	return "Receipt"
}
