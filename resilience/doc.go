// Package resilience provides the failure handling used around upstream
// requests.
//
// # Patterns
//
//   - Retry: a small state machine (idle, attempting, backoff, succeeded,
//     failed) with exponential, linear or constant backoff driven by an
//     injectable clock.
//
//   - Timeout: bounds a single attempt and abandons it when the budget runs
//     out.
//
//   - Gate: bounds concurrent operations. Excess callers queue in arrival
//     order.
//
//   - Circuit Breaker: stops calling a failing dependency after consecutive
//     failures, backed by sony/gobreaker.
//
//   - Rate Limiter: a token bucket backed by golang.org/x/time/rate.
//
// # Usage
//
//	executor := resilience.NewExecutor(
//	    resilience.WithGate(resilience.NewGate(resilience.GateConfig{MaxConcurrent: 6})),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        InitialDelay: time.Second,
//	    })),
//	    resilience.WithTimeout(10*time.Second),
//	)
//
//	err := executor.ExecutePlan(ctx, resilience.Plan{Attempts: 3}, func(ctx context.Context) error {
//	    return callUpstream(ctx)
//	})
//
// A run whose attempts all fail returns an [*ExhaustedError], which matches
// both [ErrRetriesExhausted] and the last attempt's error under errors.Is.
package resilience
