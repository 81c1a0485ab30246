package request

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for request execution.
var (
	ErrClosed          = errors.New("request: executor is closed")
	ErrInvalidResource = errors.New("request: resource is required")
	ErrInvalidConfig   = errors.New("request: invalid config")
	ErrInvalidCacheKey = errors.New("request: invalid cache key")
)

// Tag marks every entry the executor writes, so ClearRequestCache can
// drop them together.
const Tag = "request"

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultMaxConcurrent = 6
	DefaultRetries       = 3
	DefaultTimeout       = 10 * time.Second
	DefaultCacheTTL      = 5 * time.Minute
	DefaultBackoffBase   = time.Second
	DefaultMaxBackoff    = 30 * time.Second
	DefaultKeyPrefix     = "request"
)

// NoRetries as Config.DefaultRetries runs each operation once unless a call
// sets WithRetries. Zero selects DefaultRetries.
const NoRetries = -1

// Config configures an Executor.
type Config struct {
	// MaxConcurrent bounds operations running at once across all keys.
	// Default: 6
	MaxConcurrent int

	// DefaultRetries is the number of retries after the first attempt when
	// a call does not set WithRetries. Use NoRetries for none.
	// Default: 3
	DefaultRetries int

	// DefaultTimeout bounds each attempt when a call does not set
	// WithTimeout.
	// Default: 10 seconds
	DefaultTimeout time.Duration

	// DefaultCacheTTL is the lifetime of stored results when a call does
	// not set WithCacheTTL.
	// Default: 5 minutes
	DefaultCacheTTL time.Duration

	// BackoffBase is the wait before the first retry. Each later wait
	// doubles.
	// Default: 1 second
	BackoffBase time.Duration

	// MaxBackoff caps the wait between attempts.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// KeyPrefix prefixes derived cache keys.
	// Default: "request"
	KeyPrefix string

	// RateLimit caps operation starts per second. Zero disables.
	RateLimit float64

	// RateBurst is the burst allowed above RateLimit.
	// Default: 1 when RateLimit is set
	RateBurst int

	// BreakerFailures opens a circuit after this many consecutive failed
	// operations. Zero disables the breaker.
	BreakerFailures int

	// BreakerReset is how long an open circuit rejects calls.
	// Default: 30 seconds when BreakerFailures is set
	BreakerReset time.Duration
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.DefaultRetries == 0 {
		c.DefaultRetries = DefaultRetries
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.DefaultCacheTTL == 0 {
		c.DefaultCacheTTL = DefaultCacheTTL
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = 1
	}
	if c.BreakerFailures > 0 && c.BreakerReset == 0 {
		c.BreakerReset = 30 * time.Second
	}
}

// retries is the effective default retry count.
func (c Config) retries() int {
	return max(c.DefaultRetries, 0)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max concurrent must be positive, got %d", c.MaxConcurrent))
	}
	if c.DefaultRetries < NoRetries {
		errs = append(errs, fmt.Errorf("default retries must be NoRetries or at least 0, got %d", c.DefaultRetries))
	}
	if c.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("default timeout must be positive, got %v", c.DefaultTimeout))
	}
	if c.DefaultCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("default cache ttl must be positive, got %v", c.DefaultCacheTTL))
	}
	if c.BackoffBase <= 0 {
		errs = append(errs, fmt.Errorf("backoff base must be positive, got %v", c.BackoffBase))
	}
	if c.MaxBackoff < c.BackoffBase {
		errs = append(errs, fmt.Errorf("max backoff %v is below backoff base %v", c.MaxBackoff, c.BackoffBase))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit))
	}
	if c.BreakerFailures < 0 {
		errs = append(errs, fmt.Errorf("breaker failures must not be negative, got %d", c.BreakerFailures))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
