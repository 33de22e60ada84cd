package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/reliability/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSweeper struct {
	calls    atomic.Int32
	failures int32
	removed  int
}

func (s *stubSweeper) SweepExpired(context.Context) (int, error) {
	n := s.calls.Add(1)
	if n <= s.failures {
		return 0, errors.New("redis unavailable")
	}
	return s.removed, nil
}

func newTestWorker(s Sweeper, dir string) *CleanupWorker {
	w := NewCleanupWorker(s, dir, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)
	w.retry = &retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	return w
}

func TestRunOnceRetriesSweep(t *testing.T) {
	s := &stubSweeper{failures: 2, removed: 4}
	w := newTestWorker(s, "")

	assert.Equal(t, 4, w.RunOnce(context.Background()))
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestRunOnceGivesUp(t *testing.T) {
	s := &stubSweeper{failures: 10}
	w := newTestWorker(s, "")

	assert.Zero(t, w.RunOnce(context.Background()))
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestRemovesOnlyOldOrphans(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "receipt-old.png")
	fresh := filepath.Join(dir, "receipt-fresh.png")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o750))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	w := newTestWorker(&stubSweeper{}, dir)
	assert.Equal(t, 1, w.RunOnce(context.Background()))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestMissingTempDirIsFine(t *testing.T) {
	w := newTestWorker(&stubSweeper{}, filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Zero(t, w.RunOnce(context.Background()))
}

func TestStartStopsOnCancel(t *testing.T) {
	s := &stubSweeper{}
	w := newTestWorker(s, "")
	w.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
