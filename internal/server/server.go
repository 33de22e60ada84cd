package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

// Chain applies mws so the first one listed runs first
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// New returns an http.Server with the timeouts every service uses
func New(port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Run serves until SIGINT or SIGTERM, then shuts down within timeout and
// runs each cleanup in order.
func Run(srv *http.Server, log *slog.Logger, timeout time.Duration, cleanups ...func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("server error", slog.String("error", serveErr.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}
	for _, c := range cleanups {
		if err := c(shutdownCtx); err != nil {
			log.Warn("cleanup failed", slog.String("error", err.Error()))
		}
	}
	log.Info("server stopped")
	return serveErr
}
