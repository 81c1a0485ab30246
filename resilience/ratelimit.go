package resilience

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures a token bucket.
type RateLimiterConfig struct {
	// Rate is the refill rate in operations per second.
	// Default: 100
	Rate float64

	// Burst is the bucket size.
	// Default: 10
	Burst int

	// WaitOnLimit makes Execute wait for a token instead of failing.
	WaitOnLimit bool

	// MaxWait caps how long Execute and Wait may wait for a token.
	// Default: 1s
	MaxWait time.Duration
}

// RateLimiter admits operations at a steady rate with bursts.
type RateLimiter struct {
	config  RateLimiterConfig
	limiter *rate.Limiter
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.MaxWait <= 0 {
		config.MaxWait = time.Second
	}
	return &RateLimiter{config: config, limiter: rate.NewLimiter(rate.Limit(config.Rate), config.Burst)}
}

// Allow takes a token if one is available now.
func (rl *RateLimiter) Allow() bool { return rl.limiter.Allow() }

// Tokens returns the tokens currently in the bucket.
func (rl *RateLimiter) Tokens() float64 { return rl.limiter.Tokens() }

// Config returns the effective configuration.
func (rl *RateLimiter) Config() RateLimiterConfig { return rl.config }

// Wait blocks for a token. A token further away than MaxWait fails at once
// with ErrRateLimitExceeded instead of waiting out the cap; one further away
// than ctx's own deadline fails with context.DeadlineExceeded.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	capped, cancel := context.WithTimeout(ctx, rl.config.MaxWait)
	defer cancel()

	err := rl.limiter.Wait(capped)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case callerBound(ctx, capped):
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	default:
		return fmt.Errorf("%w: %v", ErrRateLimitExceeded, err)
	}
}

// callerBound reports whether ctx's deadline, not the MaxWait cap, limits
// capped.
func callerBound(ctx, capped context.Context) bool {
	parent, ok := ctx.Deadline()
	if !ok {
		return false
	}
	limit, _ := capped.Deadline()
	return !parent.After(limit)
}

// Execute runs op once a token is granted.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if rl.config.WaitOnLimit {
		if err := rl.Wait(ctx); err != nil {
			return err
		}
	} else if !rl.Allow() {
		return ErrRateLimitExceeded
	}
	return op(ctx)
}
