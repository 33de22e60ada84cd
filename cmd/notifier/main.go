package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/handler"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/expensetracker/internal/notify"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/tracing"
	"github.com/aryan0dhankhar/expensetracker/internal/security/middleware"
	"github.com/aryan0dhankhar/expensetracker/internal/server"
	"github.com/aryan0dhankhar/expensetracker/pkg/cache"
	"github.com/aryan0dhankhar/expensetracker/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "notification-service"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(3003)
	if err != nil {
		return err
	}
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With(slog.String("service", serviceName))

	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if cfg.Notifier.EmailUser == "" {
		log.Warn("EMAIL_USER not set: deliveries will fail and be dropped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, log, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	checks := map[string]handler.CheckFunc{}
	cleanups := []func(context.Context) error{}

	// Redelivery markers survive restarts only when Redis is configured
	var dedup notify.Dedup
	if cfg.RedisURL != "" {
		rc, err := redis.Connect(ctx, cfg.RedisURL, log)
		if err != nil {
			return err
		}
		dedup = notify.NewRedisDedup(rc, cfg.Notifier.DedupTTL)
		checks["redis"] = rc.Ping
		cleanups = append(cleanups, func(context.Context) error { return rc.Close() })
	} else {
		dedup = notify.NewMemoryDedup(cache.New(), cfg.Notifier.DedupTTL)
	}

	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.Notifier.EmailHost,
		Port:     cfg.Notifier.EmailPort,
		User:     cfg.Notifier.EmailUser,
		Password: cfg.Notifier.EmailPass,
		FromName: cfg.Notifier.FromName,
		Timeout:  cfg.Notifier.SendTimeout,
	})
	reader := notify.NewKafkaReader(cfg.Kafka.Brokers, cfg.Notifier.GroupID, cfg.Kafka.Topic)
	relay := notify.NewRelay(reader, mailer, dedup, cfg.Notifier.Subject, log)

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		log.Info("notification relay consuming",
			slog.String("topic", cfg.Kafka.Topic),
			slog.String("group_id", cfg.Notifier.GroupID),
			slog.String("from", mailer.From()),
		)
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped", slog.String("error", err.Error()))
		}
	}()

	mux := http.NewServeMux()
	handler.NewHealthHandler(serviceName, checks, log).Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	root := server.Chain(mux, middleware.RequestID(log))

	cleanups = append([]func(context.Context) error{
		func(ctx context.Context) error {
			cancel()
			select {
			case <-relayDone:
			case <-ctx.Done():
				return ctx.Err()
			}
			return relay.Close()
		},
	}, cleanups...)
	cleanups = append(cleanups, shutdownTracing)

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return server.Run(server.New(cfg.ServerPort, root), log, timeout, cleanups...)
}
