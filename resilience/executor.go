package resilience

import (
	"context"
	"time"
)

// Plan overrides per call what the executor's retry and timeout were
// configured with. Zero fields keep the configured values.
type Plan struct {
	// Attempts is the total number of runs including the first.
	Attempts int

	// AttemptTimeout bounds each run separately.
	AttemptTimeout time.Duration
}

// Op is an operation run under the executor's policies.
type Op = func(context.Context) error

// layer wraps an operation for one call.
type layer func(plan Plan, next Op) Op

// Executor runs operations through a fixed stack of policies. From the
// outside in: rate limiter, gate, circuit breaker, retry, per-attempt
// timeout. The gate slot is held across retries and every attempt gets a
// fresh timeout.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	gate           *Gate
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an executor. With no options it runs operations as is.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker fails calls fast while cb is open.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.circuitBreaker = cb }
}

// WithRetry reruns failed attempts.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

// WithRateLimiter admits calls through rl.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.rateLimiter = rl }
}

// WithGate bounds the executor's concurrency.
func WithGate(g *Gate) ExecutorOption {
	return func(e *Executor) { e.gate = g }
}

// WithTimeoutConfig bounds each attempt with t.
func WithTimeoutConfig(t *Timeout) ExecutorOption {
	return func(e *Executor) { e.timeout = t }
}

// WithTimeout bounds each attempt by d.
func WithTimeout(d time.Duration) ExecutorOption {
	return WithTimeoutConfig(NewTimeout(TimeoutConfig{Timeout: d}))
}

// Gate returns the executor's gate, or nil.
func (e *Executor) Gate() *Gate { return e.gate }

// Execute runs op under the configured policies.
func (e *Executor) Execute(ctx context.Context, op Op) error {
	return e.ExecutePlan(ctx, Plan{}, op)
}

// ExecutePlan is Execute with per-call overrides.
func (e *Executor) ExecutePlan(ctx context.Context, plan Plan, op Op) error {
	layers := e.layers()
	for i := len(layers) - 1; i >= 0; i-- {
		op = layers[i](plan, op)
	}
	return op(ctx)
}

// layers lists the active policies, outermost first.
func (e *Executor) layers() []layer {
	var out []layer
	if rl := e.rateLimiter; rl != nil {
		out = append(out, func(_ Plan, next Op) Op {
			return func(ctx context.Context) error { return rl.Execute(ctx, next) }
		})
	}
	if g := e.gate; g != nil {
		out = append(out, func(_ Plan, next Op) Op {
			return func(ctx context.Context) error { return g.Execute(ctx, next) }
		})
	}
	if cb := e.circuitBreaker; cb != nil {
		out = append(out, func(_ Plan, next Op) Op {
			return func(ctx context.Context) error { return cb.Execute(ctx, next) }
		})
	}
	if r := e.retry; r != nil {
		out = append(out, func(plan Plan, next Op) Op {
			return func(ctx context.Context) error { return r.ExecuteAttempts(ctx, plan.Attempts, next) }
		})
	}
	out = append(out, func(plan Plan, next Op) Op {
		t := e.timeout
		switch {
		case t != nil:
		case plan.AttemptTimeout > 0:
			t = NewTimeout(TimeoutConfig{Timeout: plan.AttemptTimeout})
		default:
			return next
		}
		return func(ctx context.Context) error { return t.ExecuteWithin(ctx, plan.AttemptTimeout, next) }
	})
	return out
}
