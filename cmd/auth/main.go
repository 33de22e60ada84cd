package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/handler"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/mongo"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/tracing"
	"github.com/aryan0dhankhar/expensetracker/internal/repository"
	"github.com/aryan0dhankhar/expensetracker/internal/security/audit"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
	"github.com/aryan0dhankhar/expensetracker/internal/security/middleware"
	"github.com/aryan0dhankhar/expensetracker/internal/security/ratelimit"
	"github.com/aryan0dhankhar/expensetracker/internal/server"
	"github.com/aryan0dhankhar/expensetracker/internal/service"
	"github.com/aryan0dhankhar/expensetracker/pkg/config"
	"github.com/aryan0dhankhar/expensetracker/pkg/database"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "auth-service"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration and logging
	cfg, err := config.Load(3001)
	if err != nil {
		return err
	}
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With(slog.String("service", serviceName))
	log.Info("starting auth service",
		slog.String("environment", cfg.Environment),
		slog.String("user_store", cfg.Auth.UserStore),
	)

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, log, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	secret, err := cfg.TokenSecret()
	if err != nil {
		return err
	}

	// 2. Credential store
	checks := map[string]handler.CheckFunc{}
	var cleanups []func(context.Context) error
	var principals domain.PrincipalRepository

	switch cfg.Auth.UserStore {
	case "postgres":
		pool, err := database.NewConnectionPool(ctx, cfg.Postgres, log)
		if err != nil {
			return err
		}
		repo := repository.NewPostgresPrincipalRepository(pool.GetDB(), log)
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate users table: %w", err)
		}
		principals = repo
		checks["postgres"] = pool.Health
		cleanups = append(cleanups, func(context.Context) error { return pool.Close() })
	default:
		client, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, log)
		if err != nil {
			return err
		}
		repo := repository.NewMongoPrincipalRepository(client.Collection("users"), log)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure user indexes: %w", err)
		}
		principals = repo
		checks["mongodb"] = client.Ping
		cleanups = append(cleanups, client.Close)
	}

	// 3. Services and handlers
	tokens := auth.NewTokenManager(secret, cfg.Auth.JWTIssuer, cfg.Auth.JWTLifetime)
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost, cfg.Auth.HashWorkers)
	authService := service.NewAuthService(principals, tokens, hasher, log)

	limiter := ratelimit.NewLimiter(cfg.Gateway.RateLimitMax, cfg.Gateway.RateLimitWindow)
	auditLog := audit.NewLogger(log)
	authHandler := handler.NewAuthHandler(authService, limiter, auditLog, log)
	healthHandler := handler.NewHealthHandler(serviceName, checks, log)

	// 4. Routes
	mux := http.NewServeMux()
	authHandler.Routes(mux)
	healthHandler.Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	root := server.Chain(mux,
		middleware.RequestID(log),
		middleware.CORS(cfg.CORSAllowedOrigins),
		metrics.HTTPMetricsMiddleware,
		middleware.RateLimit(limiter, log),
		middleware.SanitizeInputs(log),
		middleware.MaxBodySize(1<<20),
		middleware.ValidateContentType(log),
	)

	log.Info("auth service configured",
		slog.Int("port", cfg.ServerPort),
		slog.Duration("token_lifetime", cfg.Auth.JWTLifetime),
		slog.Int("rate_limit", cfg.Gateway.RateLimitMax),
	)

	cleanups = append(cleanups,
		func(context.Context) error { limiter.Stop(); return nil },
		shutdownTracing,
	)
	srv := server.New(cfg.ServerPort, tracing.Handler(root, serviceName))
	return server.Run(srv, log, shutdownTimeout(cfg), cleanups...)
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.ShutdownTimeout > 0 {
		return cfg.ShutdownTimeout
	}
	return 10 * time.Second
}
