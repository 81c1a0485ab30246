package request

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/metric"

	"github.com/you112ef/boltcache/cache"
	"github.com/you112ef/boltcache/observe"
	"github.com/you112ef/boltcache/resilience"
)

// Option configures an Executor.
type Option func(*options)

type options struct {
	keyer         cache.Keyer
	clock         clock.Clock
	logger        observe.Logger
	tracer        observe.Tracer
	metrics       observe.RequestMetrics
	meter         metric.Meter
	onRetryChange func(from, to resilience.RetryState)
}

// WithKeyer replaces the key derivation used when a call gives no cache key.
func WithKeyer(k cache.Keyer) Option {
	return func(o *options) { o.keyer = k }
}

// WithClock sets the clock driving backoff waits and attempt deadlines.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracer sets the tracer; each Request opens one span.
func WithTracer(t observe.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.RequestMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMeter builds OpenTelemetry request metrics on meter. Ignored when
// WithMetrics is given.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithRetryStateHook observes every retry state transition of every
// operation the executor runs.
func WithRetryStateHook(fn func(from, to resilience.RetryState)) Option {
	return func(o *options) { o.onRetryChange = fn }
}

// CallOption adjusts a single Request.
type CallOption func(*callOptions)

type callOptions struct {
	cacheKey   string
	ttl        time.Duration
	retries    int
	retriesSet bool
	timeout    time.Duration
	tags       []string
	input      any
}

// WithCacheKey stores and deduplicates the call under key instead of a
// derived one.
func WithCacheKey(key string) CallOption {
	return func(o *callOptions) { o.cacheKey = key }
}

// WithCacheTTL sets the lifetime of the stored result.
func WithCacheTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) { o.ttl = ttl }
}

// WithRetries sets how many times a failed attempt is retried. Zero runs
// the operation once.
func WithRetries(n int) CallOption {
	return func(o *callOptions) {
		if n < 0 {
			n = 0
		}
		o.retries = n
		o.retriesSet = true
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithTags adds tags to the stored result next to Tag.
func WithTags(tags ...string) CallOption {
	return func(o *callOptions) { o.tags = append(o.tags, tags...) }
}

// WithKeyInput makes v part of the derived cache key, so calls for one
// resource with different inputs are cached apart.
func WithKeyInput(v any) CallOption {
	return func(o *callOptions) { o.input = v }
}
