package middleware

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/expensetracker/internal/security/audit"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
	"github.com/aryan0dhankhar/expensetracker/internal/security/ratelimit"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"

	MissingIdentityMessage = "Authentication required. User ID not found in request headers."
)

type identityContextKey struct{}

// RequestID reuses an incoming X-Request-ID or mints one, and logs each completed request
func RequestID(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(HeaderRequestID)
			if reqID == "" || len(reqID) > 64 {
				reqID = uuid.NewString()
			}
			r.Header.Set(HeaderRequestID, reqID)
			w.Header().Set(HeaderRequestID, reqID)

			ctx := logger.WithRequestID(r.Context(), reqID)
			ww := NewStatusRecorder(w)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			log.Info("request completed",
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration_ms", time.Since(start)),
			)
		})
	}
}

// CORS honours the configured origins; "*" allows any origin
func CORS(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if OriginAllowed(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else if len(allowed) > 0 && allowed[0] != "*" {
				w.Header().Set("Access-Control-Allow-Origin", allowed[0])
			}
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, X-Request-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed reports whether origin is in the allow list
func OriginAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// RequireIdentity admits only requests carrying a forwarded identity. The
// user id must be a record id; when signer is set the assertion header must
// match the forwarded headers. Rejections stop before any handler runs.
func RequireIdentity(signer *auth.AssertionSigner, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromHeaders(r.Header)
			if !ok || !domain.ValidRecordID(id.UserID) {
				log.Warn("request without valid identity",
					slog.String("request_id", logger.RequestID(r.Context())),
					slog.String("path", r.URL.Path),
				)
				WriteError(w, http.StatusUnauthorized, MissingIdentityMessage)
				return
			}
			if signer != nil {
				if err := signer.Verify(r.Header.Get(auth.HeaderAssertion), id); err != nil {
					log.Warn("identity assertion rejected",
						slog.String("request_id", logger.RequestID(r.Context())),
						slog.String("user_id", id.UserID),
						slog.String("error", err.Error()),
					)
					WriteError(w, http.StatusUnauthorized, "Authentication required")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity stores the caller's identity in ctx
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity stored by RequireIdentity
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(auth.Identity)
	return id, ok
}

// RateLimit limits requests per ClientIP. Use it only behind a proxy that
// rewrites X-Forwarded-For.
func RateLimit(policy ratelimit.Policy, log *slog.Logger) func(http.Handler) http.Handler {
	return RateLimitBy(policy, ClientIP, log)
}

// RateLimitBy limits requests per key(r). A failing limiter store lets the
// request through.
func RateLimitBy(policy ratelimit.Policy, key func(*http.Request) string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbe(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			allowed, err := policy.Allow(r.Context(), key(r))
			if err != nil {
				log.Error("rate limiter unavailable", slog.String("error", err.Error()))
				allowed = true
			}
			if !allowed {
				WriteError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Audit records every state-changing request with its outcome
func Audit(auditLog *audit.Logger, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			ww := NewStatusRecorder(w)
			next.ServeHTTP(ww, r)

			userID := r.Header.Get(auth.HeaderUserID)
			if id, ok := IdentityFromContext(r.Context()); ok {
				userID = id.UserID
			}
			status := "success"
			if ww.Status() >= 400 {
				status = "failed"
			}
			auditLog.LogAction(r.Context(), userID, strings.ToLower(r.Method), resource, r.PathValue("id"), status, r.URL.Path)
		})
	}
}

// ClientIP prefers the first X-Forwarded-For hop, then the connection
// address. The header is caller-controlled at the edge; there use PeerIP.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return PeerIP(r)
}

// PeerIP returns the host of the connection's remote address
func PeerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isProbe(path string) bool {
	return path == "/health" || path == "/ready" || path == "/metrics"
}

// WriteError writes the {success:false, message} body used by the gateway and the expense service
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}

// StatusRecorder captures the response status for logging and auditing
type StatusRecorder struct {
	http.ResponseWriter
	status int
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *StatusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *StatusRecorder) Status() int { return s.status }

// Hijack lets websocket upgrades pass through
func (s *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *StatusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
