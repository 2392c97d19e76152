package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRuleSet returns the cached active rule definitions of a rule type.
	// Returns nil, nil on a miss.
	GetRuleSet(ctx context.Context, tenantID string, ruleType string) ([]*RuleDefinition, error)

	// SetRuleSet caches the active rule definitions of a rule type.
	SetRuleSet(ctx context.Context, tenantID string, ruleType string, rules []*RuleDefinition, ttl time.Duration) error

	// InvalidateRuleSet drops every cached rule set of the tenant.
	InvalidateRuleSet(ctx context.Context, tenantID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `mapstructure:"localmaxsize"`
	LocalTTL     time.Duration `mapstructure:"localttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `mapstructure:"redisaddr"`
	RedisPassword string `mapstructure:"redispassword"`
	RedisDB       int    `mapstructure:"redisdb"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enabletwophase"` // If true, check local first, then Redis

	// RuleSetTTL bounds how long a tenant's active rules are served from cache.
	RuleSetTTL time.Duration `mapstructure:"rulesetttl"`
}
