package request

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/you112ef/boltcache/cache"
	"github.com/you112ef/boltcache/observe"
	"github.com/you112ef/boltcache/resilience"
)

// Executor turns a Fetcher into a cached, deduplicated, concurrency-bounded
// and retried call.
//
// For one cache key at most one operation is in flight at a time, and every
// caller waiting on it observes the same settled result. Failed results are
// never cached.
type Executor[T any] struct {
	store   *cache.Store[T]
	fetcher Fetcher[T]
	cfg     Config
	keyer   cache.Keyer
	clock   clock.Clock
	logger  observe.Logger
	tracer  observe.Tracer
	metrics observe.RequestMetrics
	gate    *resilience.Gate
	pipe    *resilience.Executor

	group singleflight.Group

	mu      sync.Mutex
	closed  bool
	flights sync.WaitGroup
	// base is the parent of every flight context; Close cancels it.
	base   context.Context
	cancel context.CancelFunc

	inFlight     atomic.Int64
	executions   atomic.Int64
	deduplicated atomic.Int64
	cacheHits    atomic.Int64
	failures     atomic.Int64
}

// Stats is a snapshot of executor counters.
type Stats struct {
	InFlight     int64 `json:"in_flight"`
	Executions   int64 `json:"executions"`
	Deduplicated int64 `json:"deduplicated"`
	CacheHits    int64 `json:"cache_hits"`
	Failures     int64 `json:"failures"`
	Active       int   `json:"active"`
	Queued       int   `json:"queued"`
}

// New creates an Executor storing results in store.
func New[T any](store *cache.Store[T], fetcher Fetcher[T], cfg Config, opts ...Option) (*Executor[T], error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidConfig)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		clock:  clock.New(),
		logger: observe.NopLogger(),
		tracer: observe.NopTracer(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.keyer == nil {
		o.keyer = cache.NewDefaultKeyer(cfg.KeyPrefix)
	}
	switch {
	case o.metrics != nil:
	case o.meter != nil:
		m, err := observe.NewRequestMetrics(o.meter)
		if err != nil {
			return nil, fmt.Errorf("request: create metrics: %w", err)
		}
		o.metrics = m
	default:
		o.metrics = observe.NopRequestMetrics()
	}

	e := &Executor[T]{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		keyer:   o.keyer,
		clock:   o.clock,
		logger:  o.logger.With(observe.F("component", "request")),
		tracer:  o.tracer,
		metrics: o.metrics,
		gate:    resilience.NewGate(resilience.GateConfig{MaxConcurrent: cfg.MaxConcurrent}),
	}
	e.base, e.cancel = context.WithCancel(context.Background())

	pipeline := []resilience.ExecutorOption{
		resilience.WithGate(e.gate),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:   cfg.retries() + 1,
			InitialDelay:  cfg.BackoffBase,
			MaxDelay:      cfg.MaxBackoff,
			Multiplier:    2,
			Strategy:      resilience.BackoffExponential,
			RetryIf:       retryable,
			OnStateChange: o.onRetryChange,
			Clock:         o.clock,
		})),
		resilience.WithTimeoutConfig(resilience.NewTimeout(resilience.TimeoutConfig{
			Timeout: cfg.DefaultTimeout,
			Clock:   o.clock,
		})),
	}
	if cfg.RateLimit > 0 {
		pipeline = append(pipeline, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        cfg.RateLimit,
			Burst:       cfg.RateBurst,
			WaitOnLimit: true,
			MaxWait:     cfg.DefaultTimeout,
		})))
	}
	if cfg.BreakerFailures > 0 {
		logger := e.logger
		pipeline = append(pipeline, resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "request",
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerReset,
			IsFailure:    retryable,
			OnStateChange: func(from, to resilience.State) {
				logger.Warn(context.Background(), "circuit state changed",
					observe.F("from", from.String()), observe.F("to", to.String()))
			},
		})))
	}
	e.pipe = resilience.NewExecutor(pipeline...)

	return e, nil
}

// retryable reports whether err is worth another attempt. Cancellation of
// the flight itself is not.
func retryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Config returns the effective configuration.
func (e *Executor[T]) Config() Config { return e.cfg }

// Store returns the store results are written to.
func (e *Executor[T]) Store() *cache.Store[T] { return e.store }

// Request returns the value for resource, serving it from the cache when a
// live entry exists, joining an identical in-flight call when one exists,
// and otherwise running the fetcher.
//
// ctx bounds only this caller's wait. The shared operation keeps its
// context values but not its cancellation, so one impatient caller cannot
// fail the others; it stops when Close is called.
func (e *Executor[T]) Request(ctx context.Context, resource string, opts ...CallOption) (T, error) {
	var zero T
	if resource == "" {
		return zero, ErrInvalidResource
	}
	start := e.clock.Now()

	co := e.resolve(opts)
	key, err := e.cacheKey(resource, co)
	if err != nil {
		return zero, err
	}
	if err := cache.ValidateKey(key); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrInvalidCacheKey, err)
	}

	ctx, span := e.tracer.StartSpan(ctx, observe.RequestMeta{Resource: resource, CacheKey: key, Tags: co.tags})

	if v, ok := e.store.Get(ctx, key); ok {
		e.cacheHits.Inc()
		e.finish(ctx, span, observe.OutcomeCacheHit, start, nil)
		return v, nil
	}

	leader, cached := false, false
	ch := e.group.DoChan(key, func() (any, error) {
		leader = true
		v, hit, err := e.run(ctx, key, resource, co)
		cached = hit
		return v, err
	})

	select {
	case <-ctx.Done():
		err := ctx.Err()
		e.finish(ctx, span, observe.OutcomeFailed, start, err)
		return zero, err
	case res := <-ch:
		outcome := observe.OutcomeExecuted
		switch {
		case !leader:
			e.deduplicated.Inc()
			outcome = observe.OutcomeShared
		case cached:
			outcome = observe.OutcomeCacheHit
		}
		if res.Err != nil {
			e.finish(ctx, span, observe.OutcomeFailed, start, res.Err)
			return zero, res.Err
		}
		e.finish(ctx, span, outcome, start, nil)
		return res.Val.(T), nil
	}
}

// run executes one flight. Its result is shared by every caller waiting on
// key. hit reports that a flight which finished just before this one had
// already stored the value.
func (e *Executor[T]) run(ctx context.Context, key, resource string, co callOptions) (_ any, hit bool, _ error) {
	if v, ok := e.store.Get(ctx, key); ok {
		e.cacheHits.Inc()
		return v, true, nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, false, ErrClosed
	}
	e.flights.Add(1)
	e.mu.Unlock()
	defer e.flights.Done()

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(e.base, cancel)
	defer stop()

	e.inFlight.Inc()
	defer e.inFlight.Dec()
	e.executions.Inc()

	logger := e.logger.With(observe.F("key", key), observe.F("resource", resource))
	plan := resilience.Plan{Attempts: co.retries + 1, AttemptTimeout: co.timeout}

	var (
		mu      sync.Mutex
		value   T
		attempt atomic.Int64
	)
	err := e.pipe.ExecutePlan(ctx, plan, func(ctx context.Context) error {
		n := int(attempt.Inc())
		v, err := e.fetcher.Fetch(ctx, resource)
		if err == nil && ctx.Err() != nil {
			// Attempt already abandoned; its late result is ignored.
			err = ctx.Err()
		}
		e.metrics.RecordAttempt(ctx, n, err)
		if err != nil {
			logger.Warn(ctx, "request attempt failed", observe.F("attempt", n), observe.Err(err))
			return err
		}
		mu.Lock()
		value = v
		mu.Unlock()
		return nil
	})
	if err != nil {
		e.failures.Inc()
		logger.Error(ctx, "request failed", observe.F("attempts", attempt.Load()), observe.Err(err))
		return nil, false, err
	}

	mu.Lock()
	v := value
	mu.Unlock()

	tags := append([]string{Tag}, co.tags...)
	if err := e.store.SetE(ctx, key, v, cache.SetOptions{TTL: co.ttl, Tags: tags}); err != nil {
		logger.Warn(ctx, "request result not cached", observe.Err(err))
	}
	return v, false, nil
}

func (e *Executor[T]) finish(ctx context.Context, span trace.Span, outcome string, start time.Time, err error) {
	e.metrics.RecordRequest(ctx, outcome, e.clock.Since(start))
	e.tracer.EndSpan(span, outcome, err)
}

// resolve applies call options over the configured defaults.
func (e *Executor[T]) resolve(opts []CallOption) callOptions {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	if !co.retriesSet {
		co.retries = e.cfg.retries()
	}
	if co.ttl <= 0 {
		co.ttl = e.cfg.DefaultCacheTTL
	}
	if co.timeout <= 0 {
		co.timeout = e.cfg.DefaultTimeout
	}
	return co
}

// keyInput is hashed into derived keys. Effective values are used so that
// spelling out a default yields the same key as omitting it.
type keyInput struct {
	Input   any   `json:"input,omitempty"`
	TTL     int64 `json:"ttl_ms"`
	Retries int   `json:"retries"`
	Timeout int64 `json:"timeout_ms"`
}

func (e *Executor[T]) cacheKey(resource string, co callOptions) (string, error) {
	if co.cacheKey != "" {
		return co.cacheKey, nil
	}
	return e.keyer.Key(resource, keyInput{
		Input:   co.input,
		TTL:     co.ttl.Milliseconds(),
		Retries: co.retries,
		Timeout: co.timeout.Milliseconds(),
	})
}

// ClearRequestCache removes every entry the executor stored and returns how
// many were removed.
func (e *Executor[T]) ClearRequestCache(ctx context.Context) int {
	return e.store.ClearByTags(ctx, Tag)
}

// Stats returns a snapshot of the executor counters.
func (e *Executor[T]) Stats() Stats {
	gm := e.gate.Metrics()
	return Stats{
		InFlight:     e.inFlight.Load(),
		Executions:   e.executions.Load(),
		Deduplicated: e.deduplicated.Load(),
		CacheHits:    e.cacheHits.Load(),
		Failures:     e.failures.Load(),
		Active:       gm.Active,
		Queued:       gm.Waiting,
	}
}

// Close cancels in-flight operations and waits for them to settle. Later
// requests fail with ErrClosed unless served from the cache. The store is
// not closed.
func (e *Executor[T]) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.flights.Wait()
	return nil
}
