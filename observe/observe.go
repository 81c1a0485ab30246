package observe

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/you112ef/boltcache/observe/exporters"
)

// Observer hands out the process's telemetry primitives. It is safe for
// concurrent use; Shutdown flushes every provider and joins their errors.
type Observer interface {
	// Tracer traces upstream requests.
	Tracer() Tracer

	// TracerProvider backs Tracer and serves spans that are not requests,
	// such as HTTP handlers.
	TracerProvider() trace.TracerProvider

	Meter() metric.Meter
	Logger() Logger
	Shutdown(ctx context.Context) error
}

type observer struct {
	provider trace.TracerProvider
	tracer   Tracer
	meter    metric.Meter
	logger   Logger

	// shutdown hooks of the SDK providers actually started.
	closers []func(context.Context) error
}

// NewObserver validates cfg and starts the enabled signals. Disabled
// signals get no-op implementations. Enabled providers are also installed
// as the otel globals.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	obs := Nop().(*observer)

	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		otel.SetTracerProvider(tp)
		obs.provider = tp
		obs.tracer = NewTracer(tp.Tracer(cfg.ServiceName))
		obs.closers = append(obs.closers, wrapShutdown("tracer", tp.Shutdown))
	}

	if cfg.Metrics.Enabled {
		mp, err := newMeterProvider(ctx, cfg, res)
		if err != nil {
			_ = obs.Shutdown(ctx)
			return nil, fmt.Errorf("failed to setup metrics: %w", err)
		}
		otel.SetMeterProvider(mp)
		obs.meter = mp.Meter(cfg.ServiceName)
		obs.closers = append(obs.closers, wrapShutdown("meter", mp.Shutdown))
	}

	if cfg.Logging.Enabled {
		obs.logger = NewLoggerWithWriter(cfg.Logging.Level, cfg.Output).
			With(F("service", cfg.ServiceName))
	}

	return obs, nil
}

func wrapShutdown(what string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("%s shutdown: %w", what, err)
		}
		return nil
	}
}

func sampler(pct float64) sdktrace.Sampler {
	switch {
	case pct >= 1:
		return sdktrace.AlwaysSample()
	case pct <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(pct)
	}
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := exporters.NewTracingExporter(ctx, exporters.Options{
		Name:   cfg.Tracing.Exporter,
		Writer: cfg.Output,
	})
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.Tracing.SamplePct))),
		sdktrace.WithBatcher(exp),
	), nil
}

func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader, err := exporters.NewMetricsReader(ctx, exporters.Options{
		Name:       cfg.Metrics.Exporter,
		Writer:     cfg.Output,
		Registerer: cfg.Registerer,
	})
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}

func (o *observer) Tracer() Tracer                       { return o.tracer }
func (o *observer) TracerProvider() trace.TracerProvider { return o.provider }
func (o *observer) Meter() metric.Meter                  { return o.meter }
func (o *observer) Logger() Logger                       { return o.logger }

func (o *observer) Shutdown(ctx context.Context) error {
	errs := make([]error, 0, len(o.closers))
	for _, c := range o.closers {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}

// Nop returns an Observer whose signals all go nowhere.
func Nop() Observer {
	return &observer{
		provider: tracenoop.NewTracerProvider(),
		tracer:   NopTracer(),
		meter:    metricnoop.NewMeterProvider().Meter("noop"),
		logger:   NopLogger(),
	}
}
