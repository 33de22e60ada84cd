package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/reliability/retry"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key does not exist
var ErrNotFound = errors.New("redis: key not found")

// Client is the narrow Redis surface used by the rate limiter, the staged
// upload store and the relay dedup markers.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// Connect parses a redis:// URL and pings the server, retrying with backoff
// while Redis is still starting.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	c := Wrap(redis.NewClient(opts), logger)

	_, err = retry.Do(ctx, retry.DefaultConfig(), c.logger, "redis connect", func(ctx context.Context) (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, c.Ping(pingCtx)
	})
	if err != nil {
		_ = c.rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	c.logger.Info("redis connected", slog.String("addr", opts.Addr), slog.Int("db", opts.DB))
	return c, nil
}

// Wrap adapts an existing go-redis client
func Wrap(rdb *redis.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{rdb: rdb, logger: logger}
}

// Set stores value; a zero ttl keeps the key forever
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX stores value only when key is absent and reports whether it did
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Get returns the string value, or ErrNotFound
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

// Delete removes a key
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// IncrWindow increments a counter and starts its expiry on the first hit.
// It returns the counter value and the time left in the window.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if n == 1 {
		if err := c.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		return n, window, nil
	}
	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		// counter lost its expiry; restart the window
		if err := c.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = window
	}
	return n, ttl, nil
}

// Scan collects keys matching pattern with SCAN cursors rather than KEYS
func (c *Client) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if cursor = next; cursor == 0 {
			return keys, nil
		}
	}
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
