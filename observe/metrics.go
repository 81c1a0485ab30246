package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Removal reasons reported to CacheMetrics.
const (
	ReasonCapacity = "capacity"
	ReasonExpired  = "expired"
	ReasonTag      = "tag"
	ReasonDeleted  = "deleted"
	ReasonCleared  = "cleared"
)

// Request outcomes reported to RequestMetrics.
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeShared   = "shared"
	OutcomeExecuted = "executed"
	OutcomeFailed   = "failed"
)

// CacheMetrics records cache store activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type CacheMetrics interface {
	Hit(ctx context.Context)
	Miss(ctx context.Context)
	Set(ctx context.Context, sizeBytes int64)
	Removed(ctx context.Context, reason string, n int)
	Oversized(ctx context.Context)
	PersistenceFailure(ctx context.Context, op string)
}

// RequestMetrics records request executor activity.
type RequestMetrics interface {
	RecordRequest(ctx context.Context, outcome string, duration time.Duration)
	RecordAttempt(ctx context.Context, attempt int, err error)
}

// SizeFunc reports the current entry count and byte size of a cache.
type SizeFunc func() (items int64, sizeBytes int64)

type cacheMetrics struct {
	attrs       metric.MeasurementOption
	hits        metric.Int64Counter
	misses      metric.Int64Counter
	sets        metric.Int64Counter
	setBytes    metric.Int64Histogram
	removed     metric.Int64Counter
	oversized   metric.Int64Counter
	persistErrs metric.Int64Counter
	cacheAttr   attribute.KeyValue
}

// NewCacheMetrics creates OpenTelemetry-backed cache metrics for the named
// cache. If size is non-nil, item and byte gauges are observed through it.
func NewCacheMetrics(meter metric.Meter, cacheName string, size SizeFunc) (CacheMetrics, error) {
	m := &cacheMetrics{cacheAttr: attribute.String("cache.name", cacheName)}
	m.attrs = metric.WithAttributes(m.cacheAttr)

	var err error
	if m.hits, err = meter.Int64Counter("cache.hits",
		metric.WithDescription("Cache lookups served from the store"),
		metric.WithUnit("{lookup}")); err != nil {
		return nil, err
	}
	if m.misses, err = meter.Int64Counter("cache.misses",
		metric.WithDescription("Cache lookups that found nothing live"),
		metric.WithUnit("{lookup}")); err != nil {
		return nil, err
	}
	if m.sets, err = meter.Int64Counter("cache.sets",
		metric.WithDescription("Entries written to the cache"),
		metric.WithUnit("{entry}")); err != nil {
		return nil, err
	}
	if m.setBytes, err = meter.Int64Histogram("cache.entry.size",
		metric.WithDescription("Encoded size of written entries"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.removed, err = meter.Int64Counter("cache.removals",
		metric.WithDescription("Entries removed by eviction, expiry or tag invalidation"),
		metric.WithUnit("{entry}")); err != nil {
		return nil, err
	}
	if m.oversized, err = meter.Int64Counter("cache.oversized",
		metric.WithDescription("Writes refused because the value exceeds the byte budget"),
		metric.WithUnit("{entry}")); err != nil {
		return nil, err
	}
	if m.persistErrs, err = meter.Int64Counter("cache.persistence.errors",
		metric.WithDescription("Swallowed durable store failures"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}

	if size != nil {
		items, err := meter.Int64ObservableGauge("cache.items",
			metric.WithDescription("Entries currently held in memory"),
			metric.WithUnit("{entry}"))
		if err != nil {
			return nil, err
		}
		bytes, err := meter.Int64ObservableGauge("cache.size",
			metric.WithDescription("Bytes currently held in memory"),
			metric.WithUnit("By"))
		if err != nil {
			return nil, err
		}
		_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			n, b := size()
			o.ObserveInt64(items, n, m.attrs)
			o.ObserveInt64(bytes, b, m.attrs)
			return nil
		}, items, bytes)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *cacheMetrics) Hit(ctx context.Context)  { m.hits.Add(ctx, 1, m.attrs) }
func (m *cacheMetrics) Miss(ctx context.Context) { m.misses.Add(ctx, 1, m.attrs) }

func (m *cacheMetrics) Set(ctx context.Context, sizeBytes int64) {
	m.sets.Add(ctx, 1, m.attrs)
	m.setBytes.Record(ctx, sizeBytes, m.attrs)
}

func (m *cacheMetrics) Removed(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.removed.Add(ctx, int64(n), metric.WithAttributes(m.cacheAttr, attribute.String("reason", reason)))
}

func (m *cacheMetrics) Oversized(ctx context.Context) { m.oversized.Add(ctx, 1, m.attrs) }

func (m *cacheMetrics) PersistenceFailure(ctx context.Context, op string) {
	m.persistErrs.Add(ctx, 1, metric.WithAttributes(m.cacheAttr, attribute.String("op", op)))
}

type requestMetrics struct {
	requests metric.Int64Counter
	attempts metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRequestMetrics creates OpenTelemetry-backed request executor metrics.
func NewRequestMetrics(meter metric.Meter) (RequestMetrics, error) {
	requests, err := meter.Int64Counter("request.total",
		metric.WithDescription("Requests by outcome"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	attempts, err := meter.Int64Counter("request.attempts",
		metric.WithDescription("Underlying operation attempts"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("request.attempt.errors",
		metric.WithDescription("Failed operation attempts"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("request.duration_ms",
		metric.WithDescription("Request latency as seen by callers"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &requestMetrics{
		requests: requests,
		attempts: attempts,
		failures: failures,
		duration: duration,
	}, nil
}

func (m *requestMetrics) RecordRequest(ctx context.Context, outcome string, duration time.Duration) {
	opt := metric.WithAttributes(attribute.String("outcome", outcome))
	m.requests.Add(ctx, 1, opt)
	m.duration.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *requestMetrics) RecordAttempt(ctx context.Context, attempt int, err error) {
	m.attempts.Add(ctx, 1)
	if err != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
	}
}

// NopCacheMetrics returns cache metrics that record nothing.
func NopCacheMetrics() CacheMetrics { return nopCacheMetrics{} }

// NopRequestMetrics returns request metrics that record nothing.
func NopRequestMetrics() RequestMetrics { return nopRequestMetrics{} }

type nopCacheMetrics struct{}

func (nopCacheMetrics) Hit(context.Context)                        {}
func (nopCacheMetrics) Miss(context.Context)                       {}
func (nopCacheMetrics) Set(context.Context, int64)                 {}
func (nopCacheMetrics) Removed(context.Context, string, int)       {}
func (nopCacheMetrics) Oversized(context.Context)                  {}
func (nopCacheMetrics) PersistenceFailure(context.Context, string) {}

type nopRequestMetrics struct{}

func (nopRequestMetrics) RecordRequest(context.Context, string, time.Duration) {}
func (nopRequestMetrics) RecordAttempt(context.Context, int, error)            {}
