package domain

import (
	"context"
	"time"
)

// VelocityStore is the atomic counter capability behind velocity rules.
// IncrementWithExpiry increments key and, only on the 0 -> 1 transition,
// sets its expiry to window. It returns the post-increment count.
type VelocityStore interface {
	IncrementWithExpiry(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)
}

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	VelocityStore

	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetCheckResult retrieves a cached check result.
	// Returns nil, nil if the check is not cached.
	GetCheckResult(ctx context.Context, tenantID string, checkID string) (*CheckResult, error)

	// SetCheckResult caches a check result under its ID.
	SetCheckResult(ctx context.Context, tenantID string, result *CheckResult, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" mapstructure:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTTL" mapstructure:"localTTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" mapstructure:"redisAddr"`
	RedisPassword string `json:"-" mapstructure:"redisPassword"`
	RedisDB       int    `json:"redisDB" mapstructure:"redisDB"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" mapstructure:"enableTwoPhase"` // If true, check local first, then Redis
}
