package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	pdfHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
)

type fakeExtractor struct {
	receipt   *domain.RawReceipt
	statement *domain.RawStatement
	err       error
	calls     int
}

func (f *fakeExtractor) Receipt(_ context.Context, path string) (*domain.RawReceipt, error) {
	f.calls++
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return f.receipt, f.err
}

func (f *fakeExtractor) Statement(_ context.Context, path string) (*domain.RawStatement, error) {
	f.calls++
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return f.statement, f.err
}

type ingestFixture struct {
	svc    *IngestService
	repo   *memTxRepo
	staged *repository.MemoryStagedUploadRepository
	ext    *fakeExtractor
	events *recordingEvents
	dir    string
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		repo:   newMemTxRepo(),
		staged: repository.NewMemoryStagedUploadRepository(nil),
		ext: &fakeExtractor{
			receipt: &domain.RawReceipt{Merchant: "Corner Shop", Date: "2024-03-02", Total: 18.4, Category: "groceries", CategorySource: "keyword"},
			statement: &domain.RawStatement{
				AccountNumber: "****1234",
				Period:        "March 2024",
				Lines: []domain.RawStatementLine{
					{Date: "2024-03-01", Description: "ACME PAYROLL", Credit: 2500},
					{Date: "2024-03-03", Description: "WALMART #12", Debit: 64.2},
				},
			},
		},
		events: &recordingEvents{},
		dir:    t.TempDir(),
	}
	f.svc = NewIngestService(f.repo, f.staged, f.ext, nil, f.events, IngestConfig{
		UploadDir:      f.dir,
		StagingTTL:     time.Minute,
		MaxUploadBytes: 1024,
	}, nil)
	return f
}

func upload(name string, header []byte) Upload {
	body := append(append([]byte{}, header...), bytes.Repeat([]byte{0}, 64)...)
	return Upload{Filename: name, Size: int64(len(body)), Body: bytes.NewReader(body)}
}

func TestProcessAndConfirmReceipt(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	staged, err := f.svc.ProcessReceipt(ctx, ownerA, upload("shop.png", pngHeader))
	require.NoError(t, err)
	assert.Equal(t, 18.4, staged.Receipt.Amount)
	assert.Equal(t, "groceries", staged.Receipt.Category)
	assert.FileExists(t, staged.FilePath)
	assert.Equal(t, filepath.Join(f.dir, "temp"), filepath.Dir(staged.FilePath))

	tx, err := f.svc.ConfirmReceipt(ctx, ownerA, staged.ID, ReceiptOverrides{})
	require.NoError(t, err)
	assert.Equal(t, domain.KindExpense, tx.Kind)
	assert.Equal(t, "Receipt from Corner Shop", tx.Description)
	assert.Equal(t, domain.PaymentOther, tx.PaymentMethod)
	assert.Equal(t, day("2024-03-02"), tx.Date)
	require.NotNil(t, tx.Receipt)
	assert.Equal(t, "shop.png", tx.Receipt.OriginalFilename)
	assert.Equal(t, filepath.Join(f.dir, "receipts"), filepath.Dir(tx.Receipt.FilePath))
	assert.FileExists(t, tx.Receipt.FilePath)
	assert.NoFileExists(t, staged.FilePath)
	assert.Equal(t, 1, f.events.count())

	_, err = f.svc.ConfirmReceipt(ctx, ownerA, staged.ID, ReceiptOverrides{})
	assert.True(t, errors.Is(err, domain.ErrNotFound), "staged upload must be consumed")
}

func TestConfirmReceiptOverrides(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	staged, err := f.svc.ProcessReceipt(ctx, ownerA, upload("shop.png", pngHeader))
	require.NoError(t, err)

	amount := 20.0
	sub := "food_dining"
	pm := domain.PaymentCreditCard
	tx, err := f.svc.ConfirmReceipt(ctx, ownerA, staged.ID, ReceiptOverrides{Amount: &amount, Subclass: &sub, PaymentMethod: &pm})
	require.NoError(t, err)
	assert.Equal(t, 20.0, tx.Amount)
	assert.Equal(t, "food_dining", tx.Subclass)
	assert.Equal(t, domain.PaymentCreditCard, tx.PaymentMethod)

	bad := "salary"
	staged, err = f.svc.ProcessReceipt(ctx, ownerA, upload("shop.png", pngHeader))
	require.NoError(t, err)
	_, err = f.svc.ConfirmReceipt(ctx, ownerA, staged.ID, ReceiptOverrides{Subclass: &bad})
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.FileExists(t, staged.FilePath, "failed confirm keeps the staged file")
}

func TestStagedUploadIsOwnerScoped(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	staged, err := f.svc.ProcessReceipt(ctx, ownerA, upload("shop.png", pngHeader))
	require.NoError(t, err)

	_, err = f.svc.ConfirmReceipt(ctx, ownerB, staged.ID, ReceiptOverrides{})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, "Processing record not found", domain.Message(err, ""))

	err = f.svc.Reject(ctx, ownerB, staged.ID, domain.UploadReceipt)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.FileExists(t, staged.FilePath)

	require.NoError(t, f.svc.Reject(ctx, ownerA, staged.ID, domain.UploadReceipt))
	assert.NoFileExists(t, staged.FilePath)
}

func TestProcessRejectsBadUploads(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	_, err := f.svc.ProcessStatement(ctx, ownerA, upload("scan.png", pngHeader))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(domain.Message(err, ""), "Invalid file type for statement"))

	_, err = f.svc.ProcessReceipt(ctx, ownerA, upload("notes.txt", []byte("hello there")))
	assert.True(t, errors.Is(err, domain.ErrValidation))

	big := Upload{Filename: "big.pdf", Size: 4096, Body: bytes.NewReader(pdfHeader)}
	_, err = f.svc.ProcessStatement(ctx, ownerA, big)
	assert.Equal(t, "File size too large. Maximum size is 0MB.", domain.Message(err, ""))

	lying := Upload{Filename: "big.pdf", Size: 10, Body: bytes.NewReader(append(append([]byte{}, pdfHeader...), make([]byte, 2048)...))}
	_, err = f.svc.ProcessStatement(ctx, ownerA, lying)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = f.svc.ProcessReceipt(ctx, ownerA, Upload{Filename: "x"})
	assert.Equal(t, "No receipt file uploaded", domain.Message(err, ""))

	_, err = f.svc.ProcessReceipt(ctx, "", upload("shop.png", pngHeader))
	assert.True(t, errors.Is(err, domain.ErrAuthentication))

	assert.Zero(t, f.ext.calls)
	entries, _ := os.ReadDir(filepath.Join(f.dir, "temp"))
	assert.Empty(t, entries, "rejected uploads leave no files behind")
}

func TestExtractionFailureRemovesFile(t *testing.T) {
	f := newIngestFixture(t)
	f.ext.err = errors.New("tesseract exited 1")

	_, err := f.svc.ProcessReceipt(context.Background(), ownerA, upload("shop.png", pngHeader))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))

	entries, _ := os.ReadDir(filepath.Join(f.dir, "temp"))
	assert.Empty(t, entries)
}

func TestProcessAndConfirmStatement(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	staged, err := f.svc.ProcessStatement(ctx, ownerA, upload("march.pdf", pdfHeader))
	require.NoError(t, err)
	require.Len(t, staged.Statement.Rows, 2)
	assert.Equal(t, domain.KindIncome, staged.Statement.Rows[0].Kind)
	assert.Equal(t, "salary", staged.Statement.Rows[0].Subclass)
	assert.Equal(t, "groceries", staged.Statement.Rows[1].Subclass)
	assert.Equal(t, 2, staged.Statement.Info.TotalTransactions)

	txs, sum, err := f.svc.ConfirmStatement(ctx, ownerA, staged.ID, nil)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, StatementSummary{TotalCreated: 2, IncomeTransactions: 1, ExpenseTransactions: 1, TotalAmount: 2435.8}, sum)
	assert.Empty(t, txs[0].PaymentMethod)
	assert.Equal(t, domain.PaymentBankTransfer, txs[1].PaymentMethod)
	assert.Equal(t, 1, txs[1].Statement.TransactionIndex)
	assert.True(t, txs[1].Statement.UserReviewed)
	assert.Equal(t, 2, f.events.count())

	history, page, err := f.svc.History(ctx, ownerA, domain.UploadStatement, 1, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.EqualValues(t, 2, page.TotalCount)

	receipts, _, err := f.svc.History(ctx, ownerA, domain.UploadReceipt, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func TestConfirmStatementIsAllOrNothing(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	staged, err := f.svc.ProcessStatement(ctx, ownerA, upload("march.pdf", pdfHeader))
	require.NoError(t, err)

	rows := append([]domain.StatementRow{}, staged.Statement.Rows...)
	rows[0].Subclass = "groceries"
	rows[1].Amount = 0
	_, _, err = f.svc.ConfirmStatement(ctx, ownerA, staged.ID, rows)
	require.Error(t, err)
	assert.Equal(t, "Transaction validation errors", domain.Message(err, ""))
	assert.Equal(t, []string{
		"Transaction 1: Invalid subclass for income",
		"Transaction 2: Invalid amount",
	}, domain.Details(err))
	assert.Zero(t, f.repo.callCount(), "no transaction may be created")
	assert.FileExists(t, staged.FilePath)

	_, _, err = f.svc.ConfirmStatement(ctx, ownerA, staged.ID, []domain.StatementRow{})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestReceiptUploadCannotConfirmAsStatement(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	staged, err := f.svc.ProcessReceipt(ctx, ownerA, upload("shop.pdf", pdfHeader))
	require.NoError(t, err)

	_, _, err = f.svc.ConfirmStatement(ctx, ownerA, staged.ID, nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSweepExpired(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	staged, err := f.svc.ProcessReceipt(ctx, ownerA, upload("shop.png", pngHeader))
	require.NoError(t, err)

	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, staged.FilePath)

	_, err = f.staged.Get(ctx, ownerA, staged.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestConfirmReceiptRetriesAfterStoreFailure(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	staged, err := f.svc.ProcessReceipt(ctx, ownerA, upload("shop.png", pngHeader))
	require.NoError(t, err)

	f.repo.failNext = errors.New("mongo: connection reset")
	_, err = f.svc.ConfirmReceipt(ctx, ownerA, staged.ID, ReceiptOverrides{})
	require.Error(t, err)
	assert.FileExists(t, staged.FilePath, "file goes back to staging")
	entries, _ := os.ReadDir(filepath.Join(f.dir, "receipts"))
	assert.Empty(t, entries)

	tx, err := f.svc.ConfirmReceipt(ctx, ownerA, staged.ID, ReceiptOverrides{})
	require.NoError(t, err)
	assert.FileExists(t, tx.Receipt.FilePath)
	assert.NoFileExists(t, staged.FilePath)
}

func TestConfirmStatementStoreFailureKeepsUploadRejectable(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	staged, err := f.svc.ProcessStatement(ctx, ownerA, upload("march.pdf", pdfHeader))
	require.NoError(t, err)

	f.repo.failNext = errors.New("mongo: connection reset")
	_, _, err = f.svc.ConfirmStatement(ctx, ownerA, staged.ID, nil)
	require.Error(t, err)
	assert.FileExists(t, staged.FilePath)

	require.NoError(t, f.svc.Reject(ctx, ownerA, staged.ID, domain.UploadStatement))
	assert.NoFileExists(t, staged.FilePath)
	entries, _ := os.ReadDir(filepath.Join(f.dir, "statements"))
	assert.Empty(t, entries)
}
