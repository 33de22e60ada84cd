package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/service"
)

// AnalyticsHandler serves owner-scoped aggregates
type AnalyticsHandler struct {
	svc    *service.AnalyticsService
	logger *slog.Logger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(svc *service.AnalyticsService, logger *slog.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsHandler{svc: svc, logger: logger}
}

// Routes mounts the analytics endpoints. subclasses is shared with the transaction handler.
func (h *AnalyticsHandler) Routes(mux *http.ServeMux, subclasses http.HandlerFunc) {
	mux.HandleFunc("GET "+APIPrefix+"/analytics/balance", h.Balance)
	mux.HandleFunc("GET "+APIPrefix+"/analytics/income", h.Income)
	mux.HandleFunc("GET "+APIPrefix+"/analytics/expenses", h.Expenses)
	mux.HandleFunc("GET "+APIPrefix+"/analytics/category", h.Category)
	mux.HandleFunc("GET "+APIPrefix+"/analytics/timeline", h.Timeline)
	if subclasses != nil {
		mux.HandleFunc("GET "+APIPrefix+"/analytics/subclasses", subclasses)
	}
}

// Balance handles GET /analytics/balance
func (h *AnalyticsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	dr, err := dateRange(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	b, err := h.svc.Balance(r.Context(), identity(r).UserID, dr)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Balance overview retrieved successfully", map[string]any{"balance": b})
}

// Income handles GET /analytics/income
func (h *AnalyticsHandler) Income(w http.ResponseWriter, r *http.Request) {
	h.total(w, r, domain.KindIncome)
}

// Expenses handles GET /analytics/expenses
func (h *AnalyticsHandler) Expenses(w http.ResponseWriter, r *http.Request) {
	h.total(w, r, domain.KindExpense)
}

func (h *AnalyticsHandler) total(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	dr, err := dateRange(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	sum, n, err := h.svc.Total(r.Context(), identity(r).UserID, kind, dr)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if kind == domain.KindIncome {
		writeSuccess(w, http.StatusOK, "Total income retrieved successfully",
			map[string]any{"totalIncome": sum, "incomeTransactions": n})
		return
	}
	writeSuccess(w, http.StatusOK, "Total expenses retrieved successfully",
		map[string]any{"totalExpense": sum, "expenseTransactions": n})
}

// Category handles GET /analytics/category?type=
func (h *AnalyticsHandler) Category(w http.ResponseWriter, r *http.Request) {
	dr, err := dateRange(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	kind := domain.Kind(r.URL.Query().Get("type"))
	cats, err := h.svc.Categories(r.Context(), identity(r).UserID, kind, dr)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("%s category analytics retrieved successfully", kind),
		map[string]any{"categories": cats})
}

// Timeline handles GET /analytics/timeline?period=&type=
func (h *AnalyticsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	dr, err := dateRange(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	period := q.Get("period")
	if period == "" {
		period = service.PeriodDaily
	}
	tl, err := h.svc.Timeline(r.Context(), identity(r).UserID, period, domain.Kind(q.Get("type")), dr)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Timeline analytics (%s) retrieved successfully", period),
		map[string]any{"timeline": tl, "period": period})
}
