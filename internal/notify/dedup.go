package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisinfra "github.com/aryan0dhankhar/expensetracker/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/expensetracker/pkg/cache"
)

// Dedup remembers delivered messages so a redelivery is not sent twice
type Dedup interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

// deliveryKey identifies one message on the log
func deliveryKey(topic string, partition int, offset int64) string {
	return fmt.Sprintf("notify:delivered:%s:%d:%d", topic, partition, offset)
}

// RedisDedup keeps delivery markers in Redis so they survive a relay restart
type RedisDedup struct {
	client *redisinfra.Client
	ttl    time.Duration
}

func NewRedisDedup(client *redisinfra.Client, ttl time.Duration) *RedisDedup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDedup{client: client, ttl: ttl}
}

func (d *RedisDedup) Seen(ctx context.Context, key string) (bool, error) {
	_, err := d.client.Get(ctx, key)
	if errors.Is(err, redisinfra.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *RedisDedup) Remember(ctx context.Context, key string) error {
	return d.client.Set(ctx, key, "1", d.ttl)
}

// MemoryDedup is the in-process fallback when no Redis is configured
type MemoryDedup struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewMemoryDedup(c *cache.Cache, ttl time.Duration) *MemoryDedup {
	if c == nil {
		c = cache.New()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryDedup{cache: c, ttl: ttl}
}

func (d *MemoryDedup) Seen(_ context.Context, key string) (bool, error) {
	_, ok := d.cache.Get(key)
	return ok, nil
}

func (d *MemoryDedup) Remember(_ context.Context, key string) error {
	d.cache.Set(key, true, d.ttl)
	return nil
}
