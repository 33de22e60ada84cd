package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/gateway"
	"github.com/aryan0dhankhar/expensetracker/internal/handler"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/tracing"
	"github.com/aryan0dhankhar/expensetracker/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/expensetracker/internal/security/audit"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
	"github.com/aryan0dhankhar/expensetracker/internal/security/middleware"
	"github.com/aryan0dhankhar/expensetracker/internal/security/ratelimit"
	"github.com/aryan0dhankhar/expensetracker/internal/server"
	"github.com/aryan0dhankhar/expensetracker/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "api-gateway"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(8080)
	if err != nil {
		return err
	}
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With(slog.String("service", serviceName))
	log.Info("starting gateway",
		slog.String("environment", cfg.Environment),
		slog.String("verify_mode", cfg.Gateway.VerifyMode),
		slog.String("auth_service", cfg.Gateway.AuthServiceURL),
		slog.String("expense_service", cfg.Gateway.ExpenseServiceURL),
	)

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, log, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	checks := map[string]handler.CheckFunc{}
	cleanups := []func(context.Context) error{}

	// Token verification: remote asks the auth service, local checks the
	// signature with the shared secret.
	var verifier gateway.Verifier
	switch cfg.Gateway.VerifyMode {
	case "local":
		secret, err := cfg.TokenSecret()
		if err != nil {
			return err
		}
		verifier = gateway.NewLocalVerifier(auth.NewTokenManager(secret, cfg.Auth.JWTIssuer, cfg.Auth.JWTLifetime))
	default:
		breaker := circuitbreaker.NewCircuitBreaker(5, 2, 30*time.Second)
		verifier = gateway.NewRemoteVerifier(cfg.Gateway.AuthServiceURL, breaker, log)
	}

	// Rate limiting is shared across replicas when Redis is configured
	var policy ratelimit.Policy
	if cfg.RedisURL != "" {
		rc, err := redis.Connect(ctx, cfg.RedisURL, log)
		if err != nil {
			return err
		}
		policy = ratelimit.NewRedisLimiter(rc, "gateway:ratelimit", cfg.Gateway.RateLimitMax, cfg.Gateway.RateLimitWindow)
		checks["redis"] = rc.Ping
		cleanups = append(cleanups, func(context.Context) error { return rc.Close() })
	} else {
		limiter := ratelimit.NewLimiter(cfg.Gateway.RateLimitMax, cfg.Gateway.RateLimitWindow)
		policy = limiter
		cleanups = append(cleanups, func(context.Context) error { limiter.Stop(); return nil })
	}

	gw, err := gateway.New(gateway.Options{
		Routes:        gateway.DefaultRoutes(cfg.Gateway.AuthServiceURL, cfg.Gateway.ExpenseServiceURL),
		Verifier:      verifier,
		Signer:        auth.NewAssertionSigner(cfg.Gateway.AssertionSecret, time.Minute),
		VerifyTimeout: cfg.Gateway.VerifyTimeout,
		Audit:         audit.NewLogger(log),
		Logger:        log,
	})
	if err != nil {
		return err
	}
	if cfg.Gateway.AssertionSecret == "" {
		log.Warn("IDENTITY_ASSERTION_SECRET not set: downstream services trust forwarded headers unsigned")
	}

	mux := http.NewServeMux()
	handler.NewHealthHandler(serviceName, checks, log).Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", gw)

	root := server.Chain(mux,
		middleware.RequestID(log),
		middleware.CORS(cfg.CORSAllowedOrigins),
		metrics.HTTPMetricsMiddleware,
		middleware.RateLimitBy(policy, middleware.PeerIP, log),
	)

	log.Info("gateway configured",
		slog.Int("port", cfg.ServerPort),
		slog.Int("rate_limit", cfg.Gateway.RateLimitMax),
		slog.Duration("rate_limit_window", cfg.Gateway.RateLimitWindow),
	)

	cleanups = append(cleanups, shutdownTracing)
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return server.Run(server.New(cfg.ServerPort, tracing.Handler(root, serviceName)), log, timeout, cleanups...)
}
