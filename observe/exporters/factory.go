// Package exporters builds OpenTelemetry span exporters and metric readers
// from a configured name.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names. The empty name means None.
const (
	OTLP       = "otlp"
	Prometheus = "prometheus"
	Stdout     = "stdout"
	None       = "none"
)

// ErrUnknown is returned for a name with no registered constructor.
var ErrUnknown = errors.New("unknown exporter")

// Options configures the exporter being built.
type Options struct {
	Name string

	// Writer receives stdout exporter output.
	// Default: os.Stdout
	Writer io.Writer

	// Registerer receives the prometheus collector.
	// Default: prometheus.DefaultRegisterer
	Registerer promclient.Registerer
}

func (o Options) writer() io.Writer {
	if o.Writer == nil {
		return os.Stdout
	}
	return o.Writer
}

type (
	traceFactory  func(context.Context, Options) (sdktrace.SpanExporter, error)
	metricFactory func(context.Context, Options) (sdkmetric.Reader, error)
)

var traceFactories = map[string]traceFactory{
	OTLP: func(ctx context.Context, _ Options) (sdktrace.SpanExporter, error) {
		if err := requireEndpoint("TRACES"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	},
	Stdout: func(_ context.Context, o Options) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(o.writer()))
	},
	None: func(context.Context, Options) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	},
}

var metricFactories = map[string]metricFactory{
	OTLP: func(ctx context.Context, _ Options) (sdkmetric.Reader, error) {
		if err := requireEndpoint("METRICS"); err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	Prometheus: func(_ context.Context, o Options) (sdkmetric.Reader, error) {
		var popts []prometheus.Option
		if o.Registerer != nil {
			popts = append(popts, prometheus.WithRegisterer(o.Registerer))
		}
		return prometheus.New(popts...)
	},
	Stdout: func(_ context.Context, o Options) (sdkmetric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer()))
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	None: func(context.Context, Options) (sdkmetric.Reader, error) {
		return sdkmetric.NewManualReader(), nil
	},
}

// requireEndpoint fails early when no OTLP endpoint is set, since the grpc
// exporters would otherwise dial localhost silently.
func requireEndpoint(signal string) error {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv("OTEL_EXPORTER_OTLP_"+signal+"_ENDPOINT") != "" {
		return nil
	}
	return fmt.Errorf("OTLP endpoint not configured: set OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_%s_ENDPOINT", signal)
}

func canonical(name string) string {
	if name == "" {
		return None
	}
	return name
}

// TracingNames lists the accepted tracing exporter names.
func TracingNames() []string { return sortedKeys(traceFactories) }

// MetricsNames lists the accepted metrics exporter names.
func MetricsNames() []string { return sortedKeys(metricFactories) }

// SupportsTracing reports whether name selects a tracing exporter.
func SupportsTracing(name string) bool {
	_, ok := traceFactories[canonical(name)]
	return ok
}

// SupportsMetrics reports whether name selects a metrics reader.
func SupportsMetrics(name string) bool {
	_, ok := metricFactories[canonical(name)]
	return ok
}

// NewTracingExporter creates the span exporter called opts.Name.
func NewTracingExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	f, ok := traceFactories[canonical(opts.Name)]
	if !ok {
		return nil, fmt.Errorf("tracing: %w: %q", ErrUnknown, opts.Name)
	}
	exp, err := f(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter %s: %w", canonical(opts.Name), err)
	}
	return exp, nil
}

// NewMetricsReader creates the metric reader called opts.Name. The
// prometheus reader registers with opts.Registerer, so a promhttp handler
// over the matching gatherer serves its output.
func NewMetricsReader(ctx context.Context, opts Options) (sdkmetric.Reader, error) {
	f, ok := metricFactories[canonical(opts.Name)]
	if !ok {
		return nil, fmt.Errorf("metrics: %w: %q", ErrUnknown, opts.Name)
	}
	r, err := f(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("metrics exporter %s: %w", canonical(opts.Name), err)
	}
	return r, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
