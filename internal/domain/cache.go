package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Classification is a pure function of (snapshot, text), so decisions may
// be cached keyed by snapshot version plus text hash without staleness.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetDecision retrieves a cached decision for a snapshot/text pair.
	GetDecision(ctx context.Context, snapshotVersion int64, textHash string) (*Decision, error)

	// SetDecision caches a decision for a snapshot/text pair.
	SetDecision(ctx context.Context, snapshotVersion int64, textHash string, d *Decision, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for per-rule hit counters and telemetry drop counts.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// GetCounter reads a counter without incrementing. Returns 0 for
	// unknown or expired counters.
	GetCounter(ctx context.Context, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis

	// DecisionTTL bounds how long cached decisions live.
	DecisionTTL time.Duration
}
