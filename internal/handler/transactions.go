package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
	"github.com/aryan0dhankhar/expensetracker/internal/security/middleware"
	"github.com/aryan0dhankhar/expensetracker/internal/service"
)

// APIPrefix is where the expense service mounts its routes
const APIPrefix = "/api/v1/expense-tracker"

// TransactionHandler serves owner-scoped transaction CRUD
type TransactionHandler struct {
	svc    *service.TransactionService
	logger *slog.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(svc *service.TransactionService, logger *slog.Logger) *TransactionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionHandler{svc: svc, logger: logger}
}

// TransactionRequest is the body of a create or update. Update treats nil fields as unchanged.
type TransactionRequest struct {
	Type          *domain.Kind          `json:"type"`
	Subclass      *string               `json:"subclass"`
	Amount        *float64              `json:"amount"`
	Description   *string               `json:"description"`
	Date          *string               `json:"date"`
	PaymentMethod *domain.PaymentMethod `json:"paymentMethod"`
}

func (req TransactionRequest) draft() (domain.Draft, error) {
	var d domain.Draft
	if req.Type != nil {
		d.Kind = *req.Type
	}
	if req.Subclass != nil {
		d.Subclass = *req.Subclass
	}
	if req.Amount != nil {
		d.Amount = *req.Amount
	}
	if req.Description != nil {
		d.Description = *req.Description
	}
	if req.PaymentMethod != nil {
		d.PaymentMethod = *req.PaymentMethod
	}
	if req.Date == nil {
		return d, domain.Validation("Transaction date is required")
	}
	date, err := domain.ParseDate(*req.Date)
	if err != nil {
		return d, err
	}
	d.Date = date
	return d, nil
}

func (req TransactionRequest) patch() (domain.Patch, error) {
	p := domain.Patch{
		Kind:          req.Type,
		Subclass:      req.Subclass,
		Amount:        req.Amount,
		Description:   req.Description,
		PaymentMethod: req.PaymentMethod,
	}
	if req.Date != nil {
		date, err := domain.ParseDate(*req.Date)
		if err != nil {
			return p, err
		}
		p.Date = &date
	}
	return p, nil
}

// Routes mounts the transaction endpoints
func (h *TransactionHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+APIPrefix+"/transactions", h.Create)
	mux.HandleFunc("GET "+APIPrefix+"/transactions", h.List)
	mux.HandleFunc("GET "+APIPrefix+"/transactions/subclasses", h.Subclasses)
	mux.HandleFunc("GET "+APIPrefix+"/transactions/{id}", h.Get)
	mux.HandleFunc("PUT "+APIPrefix+"/transactions/{id}", h.Update)
	mux.HandleFunc("DELETE "+APIPrefix+"/transactions/{id}", h.Delete)
}

// identity returns the caller set by RequireIdentity
func identity(r *http.Request) auth.Identity {
	id, _ := middleware.IdentityFromContext(r.Context())
	return id
}

// Create handles POST /transactions
func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	d, err := req.draft()
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	tx, err := h.svc.Create(r.Context(), identity(r), d)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Transaction created successfully", tx)
}

// List handles GET /transactions
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	dr, err := dateRange(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	list, p, err := h.svc.List(r.Context(), identity(r).UserID, service.ListQuery{
		Kind:          domain.Kind(q.Get("type")),
		Subclass:      q.Get("subclass"),
		PaymentMethod: domain.PaymentMethod(q.Get("paymentMethod")),
		From:          dr.From,
		To:            dr.To,
		Page:          page,
		Limit:         limit,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []*domain.Transaction{}
	}
	writePage(w, "Transactions retrieved successfully", list, p)
}

// Get handles GET /transactions/{id}
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.Get(r.Context(), identity(r).UserID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Transaction retrieved successfully", tx)
}

// Update handles PUT /transactions/{id}
func (h *TransactionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	p, err := req.patch()
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	tx, err := h.svc.Update(r.Context(), identity(r).UserID, r.PathValue("id"), p)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Transaction updated successfully", tx)
}

// Delete handles DELETE /transactions/{id}
func (h *TransactionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.Delete(r.Context(), identity(r).UserID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Transaction deleted successfully", tx)
}

// Subclasses handles GET /transactions/subclasses and GET /analytics/subclasses
func (h *TransactionHandler) Subclasses(w http.ResponseWriter, r *http.Request) {
	opts, err := service.SubclassOptions(domain.Kind(r.URL.Query().Get("type")))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Subclass options retrieved successfully", opts)
}

func formatDate(t time.Time) string { return t.UTC().Format(time.RFC3339) }
