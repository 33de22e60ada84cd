package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/tracing"
	"github.com/aryan0dhankhar/expensetracker/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/expensetracker/internal/security/audit"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
	"github.com/aryan0dhankhar/expensetracker/internal/security/middleware"
)

const rejectedMessage = "Authentication required"

// Route sends every path under Prefix to Target. Public routes skip verification.
type Route struct {
	Prefix string
	Target string
	Public bool
}

// DefaultRoutes is the gateway's route table
func DefaultRoutes(authServiceURL, expenseServiceURL string) []Route {
	return []Route{
		{Prefix: "/api/v1/auth/", Target: authServiceURL, Public: true},
		{Prefix: "/api/v1/expense-tracker/", Target: expenseServiceURL},
	}
}

type route struct {
	Route
	proxy *httputil.ReverseProxy
}

// Gateway is the single trust boundary: it verifies each protected request
// exactly once and forwards the identity as trusted headers.
type Gateway struct {
	routes   []route
	verifier Verifier
	signer   *auth.AssertionSigner
	timeout  time.Duration
	audit    *audit.Logger
	logger   *slog.Logger
}

// Options configures a Gateway. Signer and Audit may be nil.
type Options struct {
	Routes        []Route
	Verifier      Verifier
	Signer        *auth.AssertionSigner
	VerifyTimeout time.Duration
	Audit         *audit.Logger
	Logger        *slog.Logger
}

// New builds the gateway and one reverse proxy per route
func New(opts Options) (*Gateway, error) {
	if opts.Verifier == nil {
		return nil, errors.New("gateway: verifier is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewLogger(opts.Logger)
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 2 * time.Second
	}

	g := &Gateway{
		verifier: opts.Verifier,
		signer:   opts.Signer,
		timeout:  opts.VerifyTimeout,
		audit:    opts.Audit,
		logger:   opts.Logger,
	}
	for _, rt := range opts.Routes {
		target, err := url.Parse(rt.Target)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("gateway: invalid target %q for %s", rt.Target, rt.Prefix)
		}
		g.routes = append(g.routes, route{Route: rt, proxy: g.newProxy(target)})
	}
	// longest prefix wins
	sort.Slice(g.routes, func(i, j int) bool { return len(g.routes[i].Prefix) > len(g.routes[j].Prefix) })
	return g, nil
}

func (g *Gateway) newProxy(target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: tracing.Transport(nil),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.logger.Error("upstream request failed",
				slog.String("request_id", logger.RequestID(r.Context())),
				slog.String("upstream", target.Host),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			middleware.WriteError(w, http.StatusBadGateway, "Service temporarily unavailable")
		},
	}
}

func (g *Gateway) match(path string) (*route, bool) {
	for i := range g.routes {
		rt := &g.routes[i]
		if strings.HasPrefix(path, rt.Prefix) || path == strings.TrimSuffix(rt.Prefix, "/") {
			return rt, true
		}
	}
	return nil, false
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, ok := g.match(r.URL.Path)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Route not found")
		return
	}

	// clients never get to choose their own identity
	auth.StripHeaders(r.Header)

	if rt.Public {
		rt.proxy.ServeHTTP(w, r)
		return
	}

	id, err := g.verify(r)
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, rejectedMessage)
		return
	}

	id.SetHeaders(r.Header)
	if g.signer != nil {
		assertion, err := g.signer.Sign(id)
		if err != nil {
			g.logger.Error("failed to sign identity assertion",
				slog.String("request_id", logger.RequestID(r.Context())),
				slog.String("error", err.Error()),
			)
			middleware.WriteError(w, http.StatusUnauthorized, rejectedMessage)
			return
		}
		r.Header.Set(auth.HeaderAssertion, assertion)
	}
	rt.proxy.ServeHTTP(w, r)
}

// verify makes the one verification call for r under the configured timeout
func (g *Gateway) verify(r *http.Request) (auth.Identity, error) {
	ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
	defer cancel()

	start := time.Now()
	id, err := g.verifier.Verify(ctx, r.Header.Get("Authorization"))
	outcome := "authorized"
	switch {
	case err == nil:
	case errors.Is(err, ErrRejected):
		outcome = "rejected"
	case errors.Is(err, circuitbreaker.ErrOpen):
		outcome = "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	metrics.ObserveVerification(outcome, time.Since(start))

	if err != nil {
		if outcome != "rejected" {
			g.logger.Warn("token verification failed",
				slog.String("request_id", logger.RequestID(r.Context())),
				slog.String("outcome", outcome),
				slog.String("error", err.Error()),
			)
		}
		g.audit.LogDenied(r.Context(), "", "gateway: "+outcome)
		return auth.Identity{}, err
	}
	return id, nil
}
