package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/expensetracker/internal/service"
)

const internalErrorMessage = "Internal server error"

// Envelope is the response body of the expense service
type Envelope struct {
	Success    bool                `json:"success"`
	Message    string              `json:"message,omitempty"`
	Data       any                 `json:"data,omitempty"`
	Pagination *service.Pagination `json:"pagination,omitempty"`
	Errors     []string            `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func writePage(w http.ResponseWriter, message string, data any, p service.Pagination) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data, Pagination: &p})
}

// writeServiceError maps a domain error to a status and the {success:false} body.
// Errors outside the taxonomy are logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, message := http.StatusInternalServerError, internalErrorMessage
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, message = http.StatusBadRequest, domain.Message(err, "Validation error")
	case errors.Is(err, domain.ErrAuthentication):
		status, message = http.StatusUnauthorized, domain.Message(err, "Authentication required")
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, domain.Message(err, "Resource not found")
	case errors.Is(err, domain.ErrConflict):
		status, message = http.StatusConflict, domain.Message(err, "Conflict")
	case errors.Is(err, domain.ErrUpstream):
		message = domain.Message(err, internalErrorMessage)
	}
	if status >= 500 {
		log.Error("request failed",
			slog.String("request_id", logger.RequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, Envelope{Success: false, Message: message, Errors: domain.Details(err)})
}

// decodeJSON reads a JSON body into v
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Validation("Request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.Validation("Request body too large")
		}
		return domain.Validation("Invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key, invalidMessage string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n == 0 {
		return 0, domain.Validation(invalidMessage)
	}
	return n, nil
}

func pageParams(r *http.Request) (int, int, error) {
	page, err := queryInt(r, "page", "Page number must be greater than 0")
	if err != nil {
		return 0, 0, err
	}
	limit, err := queryInt(r, "limit", "Limit must be between 1 and 100")
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

// dateRange reads startDate/endDate. A date-only endDate covers the whole day.
func dateRange(r *http.Request) (service.DateRange, error) {
	var dr service.DateRange
	if raw := r.URL.Query().Get("startDate"); raw != "" {
		from, err := domain.ParseDate(raw)
		if err != nil {
			return dr, domain.Validation("Invalid startDate, use YYYY-MM-DD or RFC3339")
		}
		dr.From = &from
	}
	if raw := r.URL.Query().Get("endDate"); raw != "" {
		to, err := domain.ParseDate(raw)
		if err != nil {
			return dr, domain.Validation("Invalid endDate, use YYYY-MM-DD or RFC3339")
		}
		if len(strings.TrimSpace(raw)) == len("2006-01-02") {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		dr.To = &to
	}
	if dr.From != nil && dr.To != nil && dr.From.After(*dr.To) {
		return dr, domain.Validation("startDate must not be after endDate")
	}
	return dr, nil
}
