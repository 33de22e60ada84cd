package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/expensetracker/internal/security/audit"
	"github.com/aryan0dhankhar/expensetracker/internal/security/middleware"
	"github.com/aryan0dhankhar/expensetracker/internal/security/ratelimit"
	"github.com/aryan0dhankhar/expensetracker/internal/service"
)

const (
	strictAuthLimit  = 10
	strictAuthWindow = time.Minute
)

// AuthHandler serves register, login, verify and me
type AuthHandler struct {
	authService *service.AuthService
	limiter     *ratelimit.Limiter
	audit       *audit.Logger
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler. limiter may be nil to disable the strict limit.
func NewAuthHandler(authService *service.AuthService, limiter *ratelimit.Limiter, auditLog *audit.Logger, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if auditLog == nil {
		auditLog = audit.NewLogger(logger)
	}
	return &AuthHandler{
		authService: authService,
		limiter:     limiter,
		audit:       auditLog,
		logger:      logger,
	}
}

// RegisterRequest represents registration request
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents login request
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ErrorResponse is the auth service error body
type ErrorResponse struct {
	Msg string `json:"msg"`
}

// UserResponse carries the id under three names for client compatibility
type UserResponse struct {
	ID      string            `json:"id"`
	MongoID string            `json:"_id"`
	UserID  string            `json:"userId"`
	Name    domain.PersonName `json:"name"`
	Email   string            `json:"email"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

func newUserResponse(p *domain.Principal) UserResponse {
	return UserResponse{ID: p.ID, MongoID: p.ID, UserID: p.ID, Name: p.Name, Email: p.Email}
}

// Routes mounts the auth endpoints under /api/v1/auth; /verify is also served at the root
func (h *AuthHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/register", h.Register)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("GET /api/v1/auth/verify", h.Verify)
	mux.HandleFunc("GET /verify", h.Verify)
	mux.HandleFunc("GET /api/v1/auth/me", h.Me)
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode register request",
			slog.String("error", err.Error()),
		)
		writeAuthError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.authService.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.audit.LogAuth(r.Context(), "register", req.Email, "denied", domain.Message(err, "error"))
		h.writeError(w, r, err)
		return
	}

	h.audit.LogAuth(r.Context(), "register", result.Principal.ID, "success", "")
	writeJSON(w, http.StatusCreated, AuthResponse{User: newUserResponse(result.Principal), Token: result.Token})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req AuthLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode login request",
			slog.String("error", err.Error()),
		)
		writeAuthError(w, http.StatusBadRequest, "Please provide email and password")
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.audit.LogAuth(r.Context(), "login", req.Email, "denied", domain.Message(err, "error"))
		h.writeError(w, r, err)
		return
	}

	h.audit.LogAuth(r.Context(), "login", result.Principal.ID, "success", "")
	writeJSON(w, http.StatusOK, AuthResponse{User: newUserResponse(result.Principal), Token: result.Token})
}

// Verify handles GET /verify. The identity is echoed in the forwarding headers
// so a proxy can copy them onto the upstream request.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := h.authService.Verify(r.Header.Get("Authorization"))
	if err != nil {
		h.audit.LogDenied(r.Context(), "", "verify: "+domain.Message(err, "invalid token"))
		h.writeError(w, r, err)
		return
	}

	id.SetHeaders(w.Header())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": map[string]string{
			"id":     id.UserID,
			"_id":    id.UserID,
			"userId": id.UserID,
			"name":   id.Name,
			"email":  id.Email,
		},
	})
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := h.authService.Verify(r.Header.Get("Authorization"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.authService.Principal(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": newUserResponse(p)})
}

func (h *AuthHandler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	if h.limiter.AllowStrict(middleware.ClientIP(r), strictAuthLimit, strictAuthWindow) {
		return true
	}
	writeAuthError(w, http.StatusTooManyRequests, "Too many attempts, please try again later")
	return false
}

func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConflict):
		writeAuthError(w, http.StatusBadRequest, domain.Message(err, "Invalid request"))
	case errors.Is(err, domain.ErrAuthentication):
		writeAuthError(w, http.StatusUnauthorized, domain.Message(err, "Authentication invalid"))
	case errors.Is(err, domain.ErrNotFound):
		writeAuthError(w, http.StatusNotFound, domain.Message(err, "Not found"))
	default:
		h.logger.Error("auth request failed",
			slog.String("request_id", logger.RequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeAuthError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Msg: msg})
}
