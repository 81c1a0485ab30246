package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for one run of the operation.
	// Default: 10 seconds
	Timeout time.Duration

	// Clock derives the deadline.
	// Default: wall clock
	Clock clock.Clock
}

// Timeout bounds single runs of an operation.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	return &Timeout{config: config}
}

// Execute runs op with the configured timeout.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	return t.ExecuteWithin(ctx, t.config.Timeout, op)
}

// ExecuteWithin runs op bounded by d. When d elapses first, op's context is
// cancelled and ErrTimeout is returned without waiting for op to notice.
// Cancellation of ctx itself is returned as ctx.Err().
func (t *Timeout) ExecuteWithin(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	if d <= 0 {
		d = t.config.Timeout
	}
	attemptCtx, cancel := t.config.Clock.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %v: %w", ErrTimeout, d, err)
		}
		return err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w after %v", ErrTimeout, d)
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

// ExecuteWithTimeout is a convenience function to run an operation with timeout.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	return NewTimeout(TimeoutConfig{Timeout: timeout}).Execute(ctx, op)
}
