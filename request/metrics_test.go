package request

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/you112ef/boltcache/observe"
)

func outcomes(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("outcome")); ok {
					out[m.Name+"/"+v.AsString()] += dp.Value
					continue
				}
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestExecutor_MetricsAndSpans(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(ctx) }()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(ctx) }()

	h := newHarness(t, Config{}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		return "v", nil
	}), WithMeter(mp.Meter("test")), WithTracer(observe.NewTracer(tp.Tracer("test"))))

	_, err := h.exec.Request(ctx, "/a")
	require.NoError(t, err)
	_, err = h.exec.Request(ctx, "/a")
	require.NoError(t, err)

	got := outcomes(t, reader)
	assert.Equal(t, int64(1), got["request.total/"+observe.OutcomeExecuted])
	assert.Equal(t, int64(1), got["request.total/"+observe.OutcomeCacheHit])
	assert.Equal(t, int64(1), got["request.attempts"])

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "boltcache.request", spans[0].Name())
}
