package observe

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Middleware instruments admin HTTP handlers with a server span, request
// metrics and one access log line per request.
//
// Contract:
//   - Concurrency: handlers returned by Wrap are safe for concurrent use.
//   - Context: the span is attached to the request context.
//   - Errors: instrumentation never alters the response.
type Middleware struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
	logger   Logger
}

// NewMiddleware creates a Middleware from its parts.
func NewMiddleware(tp trace.TracerProvider, meter metric.Meter, logger Logger) (*Middleware, error) {
	requests, err := meter.Int64Counter("http.server.requests",
		metric.WithDescription("Admin API requests by route and status"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("http.server.duration_ms",
		metric.WithDescription("Admin API handler latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:   tp.Tracer("boltcache/http"),
		requests: requests,
		duration: duration,
		logger:   logger,
	}, nil
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	return NewMiddleware(obs.TracerProvider(), obs.Meter(), obs.Logger())
}

// Wrap instruments next, reporting it under route (the path template, so
// cache keys in URLs do not explode metric cardinality).
func (m *Middleware) Wrap(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := m.tracer.Start(r.Context(), r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
			))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		elapsed := time.Since(start)

		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}

		opt := metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("method", r.Method),
			attribute.Int("status", rec.status),
		)
		m.requests.Add(ctx, 1, opt)
		m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, opt)

		fields := []Field{
			F("method", r.Method),
			F("route", route),
			F("status", rec.status),
			F("duration_ms", float64(elapsed.Microseconds())/1000),
		}
		switch {
		case rec.status >= http.StatusInternalServerError:
			m.logger.Error(ctx, "http request failed", fields...)
		case rec.status >= http.StatusBadRequest:
			m.logger.Warn(ctx, "http request rejected", fields...)
		default:
			m.logger.Debug(ctx, "http request", fields...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
