package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the delay each retry.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases delay linearly.
	BackoffLinear
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

// RetryState is a phase of a retried operation.
//
//	Idle -> Attempting -> Succeeded
//	             |
//	             +-> Backoff -> Attempting -> ...
//	             |
//	             +-> Failed
type RetryState int

const (
	RetryIdle RetryState = iota
	RetryAttempting
	RetryBackoff
	RetrySucceeded
	RetryFailed
)

func (s RetryState) String() string {
	switch s {
	case RetryIdle:
		return "idle"
	case RetryAttempting:
		return "attempting"
	case RetryBackoff:
		return "backoff"
	case RetrySucceeded:
		return "succeeded"
	case RetryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 1s
	InitialDelay time.Duration

	// MaxDelay caps the maximum delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter adds up to 25% to each delay.
	Jitter bool

	// RetryIf determines if an error should trigger a retry.
	// Default: all non-nil errors trigger retry.
	RetryIf func(err error) bool

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, err error, delay time.Duration)

	// OnStateChange observes every state transition. Backoff is entered
	// only once the wait timer exists, so advancing a mock clock from the
	// hook is safe.
	OnStateChange func(from, to RetryState)

	// Clock drives the backoff waits.
	// Default: wall clock
	Clock clock.Clock
}

// Retry runs operations under a retry state machine with backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Retry{config: config}
}

// Execute runs op up to MaxAttempts times.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	return r.ExecuteAttempts(ctx, r.config.MaxAttempts, op)
}

// ExecuteAttempts runs op up to attempts times, overriding MaxAttempts.
//
// When every attempt fails the result is an *ExhaustedError. An error
// rejected by RetryIf is returned as is. Cancellation of ctx during a backoff
// wait returns ctx.Err().
func (r *Retry) ExecuteAttempts(ctx context.Context, attempts int, op func(context.Context) error) error {
	if attempts <= 0 {
		attempts = r.config.MaxAttempts
	}

	m := retryMachine{state: RetryIdle, onChange: r.config.OnStateChange}
	var lastErr error

	for attempt := 1; ; attempt++ {
		m.to(RetryAttempting)
		err := op(ctx)
		if err == nil {
			m.to(RetrySucceeded)
			return nil
		}
		lastErr = err

		if !r.config.RetryIf(err) {
			m.to(RetryFailed)
			return err
		}
		if attempt >= attempts {
			m.to(RetryFailed)
			return &ExhaustedError{Attempts: attempt, Last: lastErr}
		}

		delay := r.Delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := r.config.Clock.Timer(delay)
		m.to(RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.to(RetryFailed)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (r *Retry) Delay(attempt int) time.Duration {
	var delay time.Duration

	switch r.config.Strategy {
	case BackoffConstant:
		delay = r.config.InitialDelay

	case BackoffLinear:
		delay = r.config.InitialDelay * time.Duration(attempt)

	case BackoffExponential:
		multiplier := math.Pow(r.config.Multiplier, float64(attempt-1))
		delay = time.Duration(float64(r.config.InitialDelay) * multiplier)
	}

	if delay > r.config.MaxDelay || delay < 0 {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}

	return delay
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

type retryMachine struct {
	state    RetryState
	onChange func(from, to RetryState)
}

func (m *retryMachine) to(next RetryState) {
	prev := m.state
	m.state = next
	if m.onChange != nil {
		m.onChange(prev, next)
	}
}
