package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/service"
)

const multipartMemory = 1 << 20

// IngestHandler serves the receipt and statement upload flows
type IngestHandler struct {
	svc      *service.IngestService
	maxBytes int64
	logger   *slog.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(svc *service.IngestService, maxBytes int64, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &IngestHandler{svc: svc, maxBytes: maxBytes, logger: logger}
}

// ConfirmReceiptRequest selects a staged receipt and optionally corrects the extraction
type ConfirmReceiptRequest struct {
	UploadID      string                `json:"uploadId"`
	Merchant      *string               `json:"merchant"`
	Date          *string               `json:"date"`
	Amount        *float64              `json:"amount"`
	Description   *string               `json:"description"`
	Subclass      *string               `json:"subclass"`
	PaymentMethod *domain.PaymentMethod `json:"paymentMethod"`
}

// ConfirmStatementRequest selects a staged statement; Transactions replaces the extracted rows when present
type ConfirmStatementRequest struct {
	UploadID     string                `json:"uploadId"`
	Transactions []domain.StatementRow `json:"transactions"`
}

// RejectRequest selects a staged upload to discard
type RejectRequest struct {
	UploadID string `json:"uploadId"`
}

// Routes mounts the receipt and statement endpoints
func (h *IngestHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+APIPrefix+"/receipts/process-ocr", h.ProcessReceipt)
	mux.HandleFunc("POST "+APIPrefix+"/receipts/confirm-transaction", h.ConfirmReceipt)
	mux.HandleFunc("POST "+APIPrefix+"/receipts/reject-processing", h.reject(domain.UploadReceipt))
	mux.HandleFunc("GET "+APIPrefix+"/receipts/history", h.history(domain.UploadReceipt))

	mux.HandleFunc("POST "+APIPrefix+"/statements/process-ocr", h.ProcessStatement)
	mux.HandleFunc("POST "+APIPrefix+"/statements/process-statement", h.ProcessStatement)
	mux.HandleFunc("POST "+APIPrefix+"/statements/confirm-transactions", h.ConfirmStatement)
	mux.HandleFunc("POST "+APIPrefix+"/statements/reject-processing", h.reject(domain.UploadStatement))
	mux.HandleFunc("GET "+APIPrefix+"/statements/history", h.history(domain.UploadStatement))
}

// ProcessReceipt handles POST /receipts/process-ocr
func (h *IngestHandler) ProcessReceipt(w http.ResponseWriter, r *http.Request) {
	up, cleanup, err := h.formFile(w, r, domain.UploadReceipt)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer cleanup()

	staged, err := h.svc.ProcessReceipt(r.Context(), identity(r).UserID, up)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	opts, _ := service.SubclassOptions(domain.KindExpense)
	writeSuccess(w, http.StatusOK, "Receipt processed successfully. Please review the extracted data.", map[string]any{
		"uploadId":            staged.ID,
		"extractedData":       staged.Receipt,
		"availableSubclasses": opts[string(domain.KindExpense)],
		"originalName":        staged.OriginalName,
		"expiresAt":           formatDate(staged.ExpiresAt),
	})
}

// ProcessStatement handles POST /statements/process-ocr
func (h *IngestHandler) ProcessStatement(w http.ResponseWriter, r *http.Request) {
	up, cleanup, err := h.formFile(w, r, domain.UploadStatement)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer cleanup()

	staged, err := h.svc.ProcessStatement(r.Context(), identity(r).UserID, up)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	opts, _ := service.SubclassOptions("")
	writeSuccess(w, http.StatusOK, "Statement processed successfully. Please review the extracted transactions.", map[string]any{
		"uploadId":            staged.ID,
		"extractedData":       staged.Statement,
		"availableSubclasses": opts,
		"originalName":        staged.OriginalName,
		"expiresAt":           formatDate(staged.ExpiresAt),
	})
}

// ConfirmReceipt handles POST /receipts/confirm-transaction
func (h *IngestHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	var req ConfirmReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	ov := service.ReceiptOverrides{
		Merchant:      req.Merchant,
		Amount:        req.Amount,
		Description:   req.Description,
		Subclass:      req.Subclass,
		PaymentMethod: req.PaymentMethod,
	}
	if req.Date != nil && *req.Date != "" {
		date, err := domain.ParseDate(*req.Date)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		ov.Date = &date
	}

	tx, err := h.svc.ConfirmReceipt(r.Context(), identity(r).UserID, req.UploadID, ov)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Transaction created successfully from receipt data", map[string]any{
		"transaction": tx,
		"receiptFile": tx.Receipt.UploadedFilename,
	})
}

// ConfirmStatement handles POST /statements/confirm-transactions
func (h *IngestHandler) ConfirmStatement(w http.ResponseWriter, r *http.Request) {
	var req ConfirmStatementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	txs, summary, err := h.svc.ConfirmStatement(r.Context(), identity(r).UserID, req.UploadID, req.Transactions)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, fmt.Sprintf("Successfully created %d transactions from statement", len(txs)), map[string]any{
		"transactions": txs,
		"summary":      summary,
	})
}

func (h *IngestHandler) reject(kind domain.UploadKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RejectRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		if err := h.svc.Reject(r.Context(), identity(r).UserID, req.UploadID, kind); err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		msg := "Receipt processing rejected successfully. Temp file has been removed."
		if kind == domain.UploadStatement {
			msg = "Statement processing rejected successfully. Temp file has been removed."
		}
		writeSuccess(w, http.StatusOK, msg, nil)
	}
}

func (h *IngestHandler) history(kind domain.UploadKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, limit, err := pageParams(r)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		list, p, err := h.svc.History(r.Context(), identity(r).UserID, kind, page, limit)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		if list == nil {
			list = []*domain.Transaction{}
		}
		msg := "Receipt history retrieved successfully"
		if kind == domain.UploadStatement {
			msg = "Statement history retrieved successfully"
		}
		writePage(w, msg, list, p)
	}
}

// formFile extracts the upload from the multipart field named after kind
func (h *IngestHandler) formFile(w http.ResponseWriter, r *http.Request, kind domain.UploadKind) (service.Upload, func(), error) {
	noop := func() {}
	// the multipart envelope adds a little on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return service.Upload{}, noop, domain.Validation(fmt.Sprintf("File size too large. Maximum size is %dMB.", h.maxBytes>>20))
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return service.Upload{}, noop, domain.Validation(fmt.Sprintf("No %s file uploaded", kind))
		}
		return service.Upload{}, noop, domain.Validation("Invalid multipart body")
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	file, header, err := r.FormFile(string(kind))
	if err != nil {
		cleanup()
		if errors.Is(err, http.ErrMissingFile) {
			return service.Upload{}, noop, domain.Validation(fmt.Sprintf("No %s file uploaded", kind))
		}
		return service.Upload{}, noop, domain.Validation("Invalid multipart body")
	}
	return service.Upload{Filename: header.Filename, Size: header.Size, Body: file}, func() {
		closeFile(file)
		cleanup()
	}, nil
}

func closeFile(f multipart.File) {
	_ = f.Close()
}
