package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Policy decides whether one more request for key fits in the current window
type Policy interface {
	Allow(ctx context.Context, key string) (bool, error)
}

const (
	janitorInterval = 5 * time.Minute
	idleAfter       = 15 * time.Minute
	strictPrefix    = "strict:"
)

// Limiter is an in-process sliding-window limiter. Each key keeps the
// timestamps of its admitted requests inside the window.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time

	stop context.CancelFunc
}

func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		limit:  maxRequests,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
		stop:   cancel,
	}
	go l.janitor(ctx)
	return l
}

// Allow records a request for key. An empty key is never limited.
func (l *Limiter) Allow(_ context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	return l.admit(key, l.limit, l.window), nil
}

// AllowStrict applies a tighter limit, in a key space of its own, for
// credential endpoints.
func (l *Limiter) AllowStrict(identifier string, maxReqs int, window time.Duration) bool {
	return l.admit(strictPrefix+identifier, maxReqs, window)
}

func (l *Limiter) admit(key string, limit int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := prune(l.hits[key], now.Add(-window))
	if len(kept) >= limit {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

// prune drops timestamps at or before cutoff; hits are kept in ascending order
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (l *Limiter) janitor(ctx context.Context) {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.evictIdle()
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idleAfter)
	for key, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}

// Stop ends the background eviction. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stop()
}
