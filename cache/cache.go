package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey    = errors.New("cache: key is invalid")
	ErrKeyTooLong    = errors.New("cache: key exceeds max length")
	ErrOversizedItem = errors.New("cache: item exceeds max size")
	ErrClosed        = errors.New("cache: store is closed")
	ErrInvalidConfig = errors.New("cache: invalid config")
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultMaxSizeBytes    int64 = 50 << 20
	DefaultMaxEntries            = 1000
	DefaultCleanupInterval       = 5 * time.Minute
	DefaultTTL                   = time.Hour
	DefaultNamespace             = "boltcache"
)

// Config holds the budgets and lifecycle settings of a Store.
type Config struct {
	// MaxSizeBytes bounds the sum of encoded entry sizes.
	// Default: 50 MiB
	MaxSizeBytes int64

	// MaxEntries bounds the number of entries.
	// Default: 1000
	MaxEntries int

	// EnablePersistence mirrors entries into the durable backing and reads
	// through it on memory misses.
	EnablePersistence bool

	// CleanupInterval is the period of the background expiry sweep.
	// Zero selects the default; a negative value disables the sweep.
	// Default: 5 minutes
	CleanupInterval time.Duration

	// DefaultTTL applies when Set is given no TTL.
	// Default: 1 hour
	DefaultTTL time.Duration

	// MaxTTL clamps per-entry TTLs when positive.
	MaxTTL time.Duration

	// Namespace names this cache in metrics and durable keys.
	// Default: "boltcache"
	Namespace string
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxSizeBytes == 0 {
		c.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
}

// Validate reports invalid budgets.
func (c Config) Validate() error {
	if c.MaxSizeBytes <= 0 {
		return fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidConfig, c.MaxSizeBytes)
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("%w: max entries must be positive, got %d", ErrInvalidConfig, c.MaxEntries)
	}
	if c.DefaultTTL < 0 || c.MaxTTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative", ErrInvalidConfig)
	}
	return nil
}

// SetOptions are the per-entry settings of Set.
type SetOptions struct {
	// TTL is the lifetime of the entry. Zero selects the store default.
	TTL time.Duration

	// Tags label the entry for ClearByTags.
	Tags []string
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
