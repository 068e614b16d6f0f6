package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-dialog/shrike/internal/domain"
)

// New creates a cache based on configuration.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		slog.Info("using in-memory LRU cache", "max_size", cfg.LocalMaxSize)
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			redisCache, err := NewRedisCache(cfg)
			if err != nil {
				return nil, err
			}
			slog.Info("using two-phase cache", "local_max_size", cfg.LocalMaxSize)
			return NewTwoPhaseCache(NewLRUCache(cfg.LocalMaxSize), redisCache, cfg.LocalTTL), nil
		}
		return NewRedisCache(cfg)

	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache checks a local LRU first, falling back to Redis on miss.
// Writes go to both layers; the local layer keeps a shorter TTL so Redis
// stays authoritative across instances.
type TwoPhaseCache struct {
	local    *LRUCache
	remote   *RedisCache
	localTTL time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with local and remote layers.
func NewTwoPhaseCache(local *LRUCache, remote *RedisCache, localTTL time.Duration) *TwoPhaseCache {
	if localTTL <= 0 {
		localTTL = 30 * time.Second
	}
	return &TwoPhaseCache{
		local:    local,
		remote:   remote,
		localTTL: localTTL,
	}
}

// Get checks local first, then remote, backfilling local on a remote hit.
func (t *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := t.local.Get(ctx, key)
	if err == nil && data != nil {
		return data, nil
	}

	data, err = t.remote.Get(ctx, key)
	if err != nil || data == nil {
		return data, err
	}

	if err := t.local.Set(ctx, key, data, t.localTTL); err != nil {
		slog.Debug("two-phase local backfill failed", "key", key, "error", err)
	}
	return data, nil
}

// Set writes to both layers.
func (t *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	localTTL := t.localTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	if err := t.local.Set(ctx, key, value, localTTL); err != nil {
		slog.Debug("two-phase local set failed", "key", key, "error", err)
	}
	return t.remote.Set(ctx, key, value, ttl)
}

// Delete removes from both layers.
func (t *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := t.local.Delete(ctx, key); err != nil {
		slog.Debug("two-phase local delete failed", "key", key, "error", err)
	}
	return t.remote.Delete(ctx, key)
}

// GetDecision retrieves a cached decision, local layer first.
func (t *TwoPhaseCache) GetDecision(ctx context.Context, snapshotVersion int64, textHash string) (*domain.Decision, error) {
	d, err := t.local.GetDecision(ctx, snapshotVersion, textHash)
	if err == nil && d != nil {
		return d, nil
	}

	d, err = t.remote.GetDecision(ctx, snapshotVersion, textHash)
	if err != nil || d == nil {
		return d, err
	}

	if err := t.local.SetDecision(ctx, snapshotVersion, textHash, d, t.localTTL); err != nil {
		slog.Debug("two-phase decision backfill failed", "error", err)
	}
	return d, nil
}

// SetDecision caches a decision in both layers.
func (t *TwoPhaseCache) SetDecision(ctx context.Context, snapshotVersion int64, textHash string, d *domain.Decision, ttl time.Duration) error {
	localTTL := t.localTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	if err := t.local.SetDecision(ctx, snapshotVersion, textHash, d, localTTL); err != nil {
		slog.Debug("two-phase local decision set failed", "error", err)
	}
	return t.remote.SetDecision(ctx, snapshotVersion, textHash, d, ttl)
}

// IncrementCounter delegates to the remote layer so counters stay
// consistent across instances.
func (t *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return t.remote.IncrementCounter(ctx, key, window)
}

// GetCounter reads the shared remote counter.
func (t *TwoPhaseCache) GetCounter(ctx context.Context, key string) (int64, error) {
	return t.remote.GetCounter(ctx, key)
}

// Ping checks the remote layer; the local layer cannot fail.
func (t *TwoPhaseCache) Ping(ctx context.Context) error {
	return t.remote.Ping(ctx)
}

// Close closes both layers.
func (t *TwoPhaseCache) Close() error {
	if err := t.local.Close(); err != nil {
		slog.Debug("two-phase local close failed", "error", err)
	}
	return t.remote.Close()
}
