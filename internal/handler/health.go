package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// HealthHandler handles health check endpoints
type HealthHandler struct {
	service string
	checks  map[string]CheckFunc
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler. checks maps a dependency name to its probe.
func NewHealthHandler(serviceName string, checks map[string]CheckFunc, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if checks == nil {
		checks = map[string]CheckFunc{}
	}
	return &HealthHandler{
		service: serviceName,
		checks:  checks,
		logger:  logger,
	}
}

// HealthResponse represents the liveness response
type HealthResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Success bool              `json:"success"`
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
}

// Routes mounts /health and /ready
func (h *HealthHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
}

// Health handles GET /health - liveness only
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Success:   true,
		Message:   h.service + " is running",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - 200 only if every dependency answers
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			checks[name] = "error: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !healthy {
		status, code = "not_ready", http.StatusServiceUnavailable
		h.logger.Warn("readiness check failed",
			slog.String("service", h.service),
			slog.Any("checks", checks),
		)
	}
	writeJSON(w, code, ReadinessResponse{Success: healthy, Status: status, Checks: checks})
}
