package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() *Config {
	return &Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(), nil, "flaky", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d err=%v", got, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_GivesUp(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	_, err := Do(context.Background(), fastConfig(), nil, "down", func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad input")
	calls := 0
	_, err := Do(context.Background(), fastConfig(), nil, "permanent", func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) || calls != 1 {
		t.Fatalf("expected one call returning sentinel, got %d calls err=%v", calls, err)
	}
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	cfg := &Config{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffMultiplier: 1}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, cfg, nil, "slow", func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestCalculateBackoffCapped(t *testing.T) {
	cfg := &Config{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, BackoffMultiplier: 2}
	if got := calculateBackoff(0, cfg); got != time.Second {
		t.Fatalf("attempt 0: got %v", got)
	}
	if got := calculateBackoff(5, cfg); got != 3*time.Second {
		t.Fatalf("attempt 5 should be capped, got %v", got)
	}
}

func TestCalculateBackoffJitterStaysInRange(t *testing.T) {
	cfg := &Config{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		got := calculateBackoff(1, cfg)
		if got <= time.Second || got > 2*time.Second {
			t.Fatalf("jittered backoff %v outside (1s, 2s]", got)
		}
	}
}
