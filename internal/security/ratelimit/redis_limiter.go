package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/redis"
)

// RedisLimiter is a fixed-window limiter shared by every gateway replica
type RedisLimiter struct {
	client  *redis.Client
	prefix  string
	maxReqs int
	window  time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string, maxRequests int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, maxReqs: maxRequests, window: window}
}

// Allow counts the request for key in the current window
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	count, _, err := l.client.IncrWindow(ctx, fmt.Sprintf("%s:%s", l.prefix, key), l.window)
	if err != nil {
		return false, err
	}
	return count <= int64(l.maxReqs), nil
}
