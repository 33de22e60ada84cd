package worker

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/aryan0dhankhar/expensetracker/internal/reliability/retry"
)

// Sweeper removes staged uploads whose review window has passed
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// CleanupWorker periodically sweeps expired staged uploads, then removes
// temp files that no staged record points to any more.
type CleanupWorker struct {
	sweeper   Sweeper
	tempDir   string
	orphanAge time.Duration
	logger    *slog.Logger
	interval  time.Duration
	retry     *retry.Config
	now       func() time.Time
}

// NewCleanupWorker creates a new cleanup worker. Files in tempDir older than
// orphanAge are removed even when no record references them.
func NewCleanupWorker(sweeper Sweeper, tempDir string, orphanAge time.Duration, logger *slog.Logger, interval time.Duration) *CleanupWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CleanupWorker{
		sweeper:   sweeper,
		tempDir:   tempDir,
		orphanAge: orphanAge,
		logger:    logger,
		interval:  interval,
		retry: &retry.Config{
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2,
		},
		now: time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled
func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("cleanup worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep and returns how many uploads and orphan files were removed
func (w *CleanupWorker) RunOnce(ctx context.Context) int {
	removed, err := retry.Do[int](ctx, w.retry, w.logger, "staged upload sweep", w.sweeper.SweepExpired)
	if err != nil {
		w.logger.Error("staged upload sweep failed", slog.String("error", err.Error()))
		metrics.ObserveCleanup("error")
	} else if removed > 0 {
		w.logger.Info("expired staged uploads removed", slog.Int("count", removed))
		metrics.ObserveCleanup("success")
	}

	orphans := w.removeOrphans()
	if orphans > 0 {
		w.logger.Info("orphaned temp files removed", slog.Int("count", orphans))
		metrics.ObserveCleanup("orphan")
	}
	return removed + orphans
}

// removeOrphans deletes temp files older than orphanAge. Anything that old has
// outlived every staged record, so nothing can still confirm it.
func (w *CleanupWorker) removeOrphans() int {
	if w.tempDir == "" || w.orphanAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(w.tempDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("failed to read temp dir", slog.String("dir", w.tempDir), slog.String("error", err.Error()))
		}
		return 0
	}

	cutoff := w.now().Add(-w.orphanAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(w.tempDir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("failed to remove orphaned temp file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed
}
