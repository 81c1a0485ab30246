package observe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumBy totals an int64 counter, grouped by one attribute (empty key sums all).
func sumBy(t *testing.T, rm metricdata.ResourceMetrics, name string, key attribute.Key) map[string]int64 {
	t.Helper()
	found := findMetric(rm, name)
	if found == nil {
		t.Fatalf("%s metric not found", name)
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] for %s, got %T", name, found.Data)
	}
	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		k := ""
		if v, ok := dp.Attributes.Value(key); ok {
			k = v.Emit()
		}
		out[k] += dp.Value
	}
	return out
}

func gauge(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	found := findMetric(rm, name)
	if found == nil {
		t.Fatalf("%s metric not found", name)
	}
	g, ok := found.Data.(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) != 1 {
		t.Fatalf("unexpected gauge data for %s: %#v", name, found.Data)
	}
	return g.DataPoints[0].Value
}

// TestCacheMetrics_Counters verifies each cache counter records.
func TestCacheMetrics_Counters(t *testing.T) {
	reader, mp := newTestMeter()
	m, err := NewCacheMetrics(mp.Meter("test"), "pages", nil)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	ctx := context.Background()
	m.Hit(ctx)
	m.Hit(ctx)
	m.Miss(ctx)
	m.Set(ctx, 128)
	m.Oversized(ctx)
	m.PersistenceFailure(ctx, "put")

	rm := collect(t, reader)
	cases := map[string]int64{
		"cache.hits":               2,
		"cache.misses":             1,
		"cache.sets":               1,
		"cache.oversized":          1,
		"cache.persistence.errors": 1,
	}
	for name, want := range cases {
		if got := sumBy(t, rm, name, "cache.name")["pages"]; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
	if got := sumBy(t, rm, "cache.persistence.errors", "op")["put"]; got != 1 {
		t.Errorf("persistence errors for op=put = %d, want 1", got)
	}
}

// TestCacheMetrics_RemovalsByReason verifies reasons label removals and
// non-positive counts are ignored.
func TestCacheMetrics_RemovalsByReason(t *testing.T) {
	reader, mp := newTestMeter()
	m, err := NewCacheMetrics(mp.Meter("test"), "pages", nil)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	ctx := context.Background()
	m.Removed(ctx, ReasonCapacity, 3)
	m.Removed(ctx, ReasonExpired, 2)
	m.Removed(ctx, ReasonTag, 0)

	got := sumBy(t, collect(t, reader), "cache.removals", "reason")
	if got[ReasonCapacity] != 3 || got[ReasonExpired] != 2 {
		t.Errorf("removals = %v", got)
	}
	if _, ok := got[ReasonTag]; ok {
		t.Error("zero-count removal should not be recorded")
	}
}

// TestCacheMetrics_SizeGauges verifies the size callback feeds the gauges.
func TestCacheMetrics_SizeGauges(t *testing.T) {
	reader, mp := newTestMeter()
	items, size := int64(4), int64(2048)
	_, err := NewCacheMetrics(mp.Meter("test"), "pages", func() (int64, int64) { return items, size })
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	rm := collect(t, reader)
	if got := gauge(t, rm, "cache.items"); got != 4 {
		t.Errorf("cache.items = %d, want 4", got)
	}
	if got := gauge(t, rm, "cache.size"); got != 2048 {
		t.Errorf("cache.size = %d, want 2048", got)
	}

	items = 1
	if got := gauge(t, collect(t, reader), "cache.items"); got != 1 {
		t.Errorf("cache.items after change = %d, want 1", got)
	}
}

// TestRequestMetrics_Outcomes verifies outcome labels and the histogram.
func TestRequestMetrics_Outcomes(t *testing.T) {
	reader, mp := newTestMeter()
	m, err := NewRequestMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	ctx := context.Background()
	m.RecordRequest(ctx, OutcomeExecuted, 120*time.Millisecond)
	m.RecordRequest(ctx, OutcomeShared, 120*time.Millisecond)
	m.RecordRequest(ctx, OutcomeCacheHit, time.Millisecond)

	rm := collect(t, reader)
	got := sumBy(t, rm, "request.total", "outcome")
	if got[OutcomeExecuted] != 1 || got[OutcomeShared] != 1 || got[OutcomeCacheHit] != 1 {
		t.Errorf("request.total = %v", got)
	}

	found := findMetric(rm, "request.duration_ms")
	if found == nil {
		t.Fatal("request.duration_ms metric not found")
	}
	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", found.Data)
	}
	var count uint64
	var total float64
	for _, dp := range hist.DataPoints {
		count += dp.Count
		total += dp.Sum
	}
	if count != 3 || total != 241 {
		t.Errorf("histogram count=%d sum=%v, want 3 and 241", count, total)
	}
}

// TestRequestMetrics_Attempts verifies only failed attempts count as errors.
func TestRequestMetrics_Attempts(t *testing.T) {
	reader, mp := newTestMeter()
	m, err := NewRequestMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	ctx := context.Background()
	m.RecordAttempt(ctx, 1, errors.New("boom"))
	m.RecordAttempt(ctx, 2, errors.New("boom"))
	m.RecordAttempt(ctx, 3, nil)

	rm := collect(t, reader)
	if got := sumBy(t, rm, "request.attempts", "")[""]; got != 3 {
		t.Errorf("request.attempts = %d, want 3", got)
	}
	errs := sumBy(t, rm, "request.attempt.errors", "attempt")
	if errs["1"] != 1 || errs["2"] != 1 || errs["3"] != 0 {
		t.Errorf("request.attempt.errors = %v", errs)
	}
}

// TestMetrics_ConcurrentRecording verifies concurrent use is safe and exact.
func TestMetrics_ConcurrentRecording(t *testing.T) {
	reader, mp := newTestMeter()
	m, err := NewCacheMetrics(mp.Meter("test"), "pages", nil)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	const goroutines, perG = 10, 100
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Hit(context.Background())
			}
		}()
	}
	wg.Wait()

	if got := sumBy(t, collect(t, reader), "cache.hits", "")[""]; got != goroutines*perG {
		t.Errorf("cache.hits = %d, want %d", got, goroutines*perG)
	}
}

// TestNopMetrics verifies the no-op forms accept every call.
func TestNopMetrics(t *testing.T) {
	ctx := context.Background()
	c := NopCacheMetrics()
	c.Hit(ctx)
	c.Miss(ctx)
	c.Set(ctx, 1)
	c.Removed(ctx, ReasonCleared, 1)
	c.Oversized(ctx)
	c.PersistenceFailure(ctx, "get")

	r := NopRequestMetrics()
	r.RecordRequest(ctx, OutcomeFailed, time.Second)
	r.RecordAttempt(ctx, 1, errors.New("x"))
}
