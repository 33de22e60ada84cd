package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/expensetracker/pkg/cache"
)

const stagedKeyPrefix = "staged:"

const uploadNotFound = "Processing record not found"

const sweepGrace = time.Hour

func stagedKey(ownerID, id string) string {
	return stagedKeyPrefix + ownerID + ":" + id
}

// RedisStagedUploadRepository keeps OCR results awaiting confirmation in Redis.
// The key embeds the owner, so a lookup under another owner cannot match.
type RedisStagedUploadRepository struct {
	redis  *redis.Client
	logger *slog.Logger
}

// NewRedisStagedUploadRepository creates a new staged upload repository
func NewRedisStagedUploadRepository(redisClient *redis.Client, logger *slog.Logger) *RedisStagedUploadRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStagedUploadRepository{redis: redisClient, logger: logger}
}

// Save stores an upload with a TTL derived from its expiry
func (r *RedisStagedUploadRepository) Save(ctx context.Context, u *domain.StagedUpload) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal staged upload: %w", err)
	}

	// the key outlives the expiry by a grace period so the sweeper can remove the file
	ttl := time.Until(u.ExpiresAt) + sweepGrace
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := r.redis.Set(ctx, stagedKey(u.UserID, u.ID), string(data), ttl); err != nil {
		return fmt.Errorf("failed to store staged upload: %w", err)
	}

	r.logger.Debug("staged upload saved",
		slog.String("upload_id", u.ID),
		slog.String("kind", string(u.Kind)),
	)
	return nil
}

// Get returns the owner's staged upload
func (r *RedisStagedUploadRepository) Get(ctx context.Context, ownerID, id string) (*domain.StagedUpload, error) {
	data, err := r.redis.Get(ctx, stagedKey(ownerID, id))
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, domain.NotFound(uploadNotFound)
		}
		return nil, fmt.Errorf("failed to get staged upload: %w", err)
	}

	var u domain.StagedUpload
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staged upload: %w", err)
	}
	if time.Now().After(u.ExpiresAt) {
		return nil, domain.NotFound(uploadNotFound)
	}
	return &u, nil
}

// Delete removes the owner's staged upload
func (r *RedisStagedUploadRepository) Delete(ctx context.Context, ownerID, id string) error {
	if err := r.redis.Delete(ctx, stagedKey(ownerID, id)); err != nil {
		return fmt.Errorf("failed to delete staged upload: %w", err)
	}
	return nil
}

// ListExpired returns uploads past their expiry that are still within the grace period
func (r *RedisStagedUploadRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.StagedUpload, error) {
	keys, err := r.redis.Scan(ctx, stagedKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan staged uploads: %w", err)
	}

	var expired []*domain.StagedUpload
	for _, key := range keys {
		data, err := r.redis.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, redis.ErrNotFound) {
				r.logger.Error("failed to read staged upload", slog.String("key", key), slog.String("error", err.Error()))
			}
			continue
		}
		var u domain.StagedUpload
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			r.logger.Warn("dropping corrupt staged upload", slog.String("key", key))
			_ = r.redis.Delete(ctx, key)
			continue
		}
		if !now.Before(u.ExpiresAt) {
			expired = append(expired, &u)
		}
	}
	return expired, nil
}

// MemoryStagedUploadRepository is the single-process fallback used when no
// Redis is configured.
type MemoryStagedUploadRepository struct {
	cache *cache.Cache
}

// NewMemoryStagedUploadRepository creates an in-memory staged upload store
func NewMemoryStagedUploadRepository(c *cache.Cache) *MemoryStagedUploadRepository {
	if c == nil {
		c = cache.New()
	}
	return &MemoryStagedUploadRepository{cache: c}
}

// Save stores a copy of the upload
func (r *MemoryStagedUploadRepository) Save(_ context.Context, u *domain.StagedUpload) error {
	cp := *u
	r.cache.Set(stagedKey(u.UserID, u.ID), &cp, time.Until(u.ExpiresAt)+sweepGrace)
	return nil
}

// Get returns the owner's staged upload
func (r *MemoryStagedUploadRepository) Get(_ context.Context, ownerID, id string) (*domain.StagedUpload, error) {
	v, ok := r.cache.Get(stagedKey(ownerID, id))
	if !ok {
		return nil, domain.NotFound(uploadNotFound)
	}
	u := *(v.(*domain.StagedUpload))
	if time.Now().After(u.ExpiresAt) {
		return nil, domain.NotFound(uploadNotFound)
	}
	return &u, nil
}

// Delete removes the owner's staged upload
func (r *MemoryStagedUploadRepository) Delete(_ context.Context, ownerID, id string) error {
	r.cache.Delete(stagedKey(ownerID, id))
	return nil
}

// ListExpired returns uploads past their expiry
func (r *MemoryStagedUploadRepository) ListExpired(_ context.Context, now time.Time) ([]*domain.StagedUpload, error) {
	var expired []*domain.StagedUpload
	for key, v := range r.cache.Snapshot(stagedKeyPrefix) {
		u, ok := v.(*domain.StagedUpload)
		if !ok || !strings.HasPrefix(key, stagedKeyPrefix) {
			continue
		}
		if !now.Before(u.ExpiresAt) {
			cp := *u
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}
