package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/featureflags"
	"github.com/aryan0dhankhar/expensetracker/internal/handler"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/mongo"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/expensetracker/internal/live"
	"github.com/aryan0dhankhar/expensetracker/internal/notify"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/tracing"
	"github.com/aryan0dhankhar/expensetracker/internal/ocr"
	"github.com/aryan0dhankhar/expensetracker/internal/reliability/retry"
	"github.com/aryan0dhankhar/expensetracker/internal/repository"
	"github.com/aryan0dhankhar/expensetracker/internal/security"
	"github.com/aryan0dhankhar/expensetracker/internal/security/audit"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
	"github.com/aryan0dhankhar/expensetracker/internal/security/middleware"
	"github.com/aryan0dhankhar/expensetracker/internal/server"
	"github.com/aryan0dhankhar/expensetracker/internal/service"
	"github.com/aryan0dhankhar/expensetracker/internal/worker"
	"github.com/aryan0dhankhar/expensetracker/pkg/cache"
	"github.com/aryan0dhankhar/expensetracker/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "expense-service"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration and logging
	cfg, err := config.Load(3002)
	if err != nil {
		return err
	}
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With(slog.String("service", serviceName))
	log.Info("starting expense service", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, log, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// 2. Stores
	mc, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, log)
	if err != nil {
		return err
	}
	txRepo := repository.NewMongoTransactionRepository(mc.Collection("transactions"), log)
	if err := txRepo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure transaction indexes: %w", err)
	}

	checks := map[string]handler.CheckFunc{"mongodb": mc.Ping}
	cleanups := []func(context.Context) error{}

	var staged domain.StagedUploadRepository
	if cfg.RedisURL != "" {
		rc, err := redis.Connect(ctx, cfg.RedisURL, log)
		if err != nil {
			return err
		}
		staged = repository.NewRedisStagedUploadRepository(rc, log)
		checks["redis"] = rc.Ping
		cleanups = append(cleanups, func(context.Context) error { return rc.Close() })
	} else {
		log.Warn("REDIS_URL not set: staged uploads are kept in memory")
		staged = repository.NewMemoryStagedUploadRepository(cache.New())
	}

	// 3. Side channels: live feed and optional email notifications
	hub := live.NewHub(cfg.CORSAllowedOrigins, log)

	for name, on := range featureflags.States(os.LookupEnv) {
		log.Info("feature flag", slog.String("flag", name), slog.Bool("enabled", on))
	}
	var notifier service.NotificationPublisher
	if featureflags.Enabled(featureflags.NotifyOnTransaction) {
		if len(cfg.Kafka.Brokers) == 0 {
			log.Warn("notify_on_transaction enabled but KAFKA_BROKERS is empty; notifications disabled")
		} else {
			publisher := notify.NewPublisher(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), retry.DefaultConfig(), log)
			notifier = publisher
			cleanups = append(cleanups, func(context.Context) error { return publisher.Close() })
			log.Info("transaction notifications enabled", slog.String("topic", cfg.Kafka.Topic))
		}
	}

	// 4. Services
	guard := security.NewOwnershipGuard(log)
	extractor := ocr.NewCommandExtractor(cfg.Expense.OCRReceiptCommand, cfg.Expense.OCRStatementCommand, cfg.Expense.OCRTimeout, log)

	txService := service.NewTransactionService(txRepo, guard, notifier, hub, log)
	analyticsService := service.NewAnalyticsService(txRepo, log)
	ingestService := service.NewIngestService(txRepo, staged, extractor, guard, hub, service.IngestConfig{
		UploadDir:      cfg.Expense.UploadDir,
		StagingTTL:     cfg.Expense.StagingTTL,
		MaxUploadBytes: cfg.Expense.MaxUploadBytes,
	}, log)

	// 5. Handlers. Everything under the API prefix requires a forwarded identity.
	txHandler := handler.NewTransactionHandler(txService, log)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsService, log)
	ingestHandler := handler.NewIngestHandler(ingestService, cfg.Expense.MaxUploadBytes, log)

	api := http.NewServeMux()
	txHandler.Routes(api)
	analyticsHandler.Routes(api, txHandler.Subclasses)
	ingestHandler.Routes(api)
	hub.Routes(api, handler.APIPrefix)

	signer := auth.NewAssertionSigner(cfg.Expense.AssertionSecret, time.Minute)
	if signer == nil {
		log.Warn("IDENTITY_ASSERTION_SECRET not set: forwarded identity headers are trusted unsigned")
	}

	mux := http.NewServeMux()
	handler.NewHealthHandler(serviceName, checks, log).Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	protected := server.Chain(api,
		middleware.RequireIdentity(signer, log),
		middleware.Audit(audit.NewLogger(log), "transaction"),
		metrics.HTTPMetricsMiddleware,
	)
	mux.Handle(handler.APIPrefix+"/", protected)

	root := server.Chain(mux,
		middleware.RequestID(log),
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.SanitizeInputs(log),
		middleware.MaxBodySize(cfg.Expense.MaxUploadBytes+1<<20),
		middleware.ValidateContentType(log, "/process-ocr", "/process-statement"),
	)

	// 6. Background sweep of expired staged uploads
	cleanupWorker := worker.NewCleanupWorker(
		ingestService,
		filepath.Join(cfg.Expense.UploadDir, "temp"),
		2*cfg.Expense.StagingTTL,
		log,
		cfg.Expense.CleanupInterval,
	)
	go cleanupWorker.Start(ctx)

	log.Info("expense service configured",
		slog.Int("port", cfg.ServerPort),
		slog.String("upload_dir", cfg.Expense.UploadDir),
		slog.Duration("staging_ttl", cfg.Expense.StagingTTL),
		slog.Bool("signed_identity", signer != nil),
	)

	cleanups = append(cleanups,
		func(context.Context) error { cancel(); return nil },
		mc.Close,
		shutdownTracing,
	)
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return server.Run(server.New(cfg.ServerPort, tracing.Handler(root, serviceName)), log, timeout, cleanups...)
}
