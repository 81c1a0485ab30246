package observe

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestMiddleware(t *testing.T, buf *bytes.Buffer) (*Middleware, *tracetest.SpanRecorder, func() map[string]int64) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader, mp := newTestMeter()

	mw, err := NewMiddleware(tp, mp.Meter("test"), NewLoggerWithWriter("debug", buf))
	if err != nil {
		t.Fatalf("NewMiddleware: %v", err)
	}
	byStatus := func() map[string]int64 {
		return sumBy(t, collect(t, reader), "http.server.requests", "status")
	}
	return mw, recorder, byStatus
}

// TestMiddleware_SuccessPath verifies span, metrics and log on success.
func TestMiddleware_SuccessPath(t *testing.T) {
	var buf bytes.Buffer
	mw, recorder, byStatus := newTestMiddleware(t, &buf)

	var sawSpan bool
	h := mw.Wrap("/api/v1/cache/{key}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSpan = trace.SpanFromContext(r.Context()).SpanContext().IsValid()
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/users:42", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("response altered: %d %q", rec.Code, rec.Body.String())
	}
	if !sawSpan {
		t.Error("handler context should carry the span")
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "GET /api/v1/cache/{key}" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].SpanKind() != trace.SpanKindServer {
		t.Errorf("span kind = %v", spans[0].SpanKind())
	}

	if got := byStatus()["200"]; got != 1 {
		t.Errorf("requests with status 200 = %d, want 1", got)
	}
	if strings.Contains(buf.String(), "users:42") {
		t.Error("log should carry the route template, not the raw path")
	}
	if !strings.Contains(buf.String(), `"route":"/api/v1/cache/{key}"`) {
		t.Errorf("log lacks route: %s", buf.String())
	}
}

// TestMiddleware_ErrorPath verifies 5xx marks the span and logs at error.
func TestMiddleware_ErrorPath(t *testing.T) {
	var buf bytes.Buffer
	mw, recorder, byStatus := newTestMiddleware(t, &buf)

	h := mw.Wrap("/api/v1/fetch", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/fetch", nil))

	if got := recorder.Ended()[0].Status().Code; got != codes.Error {
		t.Errorf("span status = %v, want Error", got)
	}
	if got := byStatus()["502"]; got != 1 {
		t.Errorf("requests with status 502 = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("expected an error log line: %s", buf.String())
	}
}

// TestMiddleware_ClientError verifies 4xx logs at warn without failing the span.
func TestMiddleware_ClientError(t *testing.T) {
	var buf bytes.Buffer
	mw, recorder, _ := newTestMiddleware(t, &buf)

	h := mw.Wrap("/api/v1/cache/{key}", http.NotFoundHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/cache/x", nil))

	if got := recorder.Ended()[0].Status().Code; got == codes.Error {
		t.Error("4xx should not mark the span as failed")
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("expected a warn log line: %s", buf.String())
	}
}

// TestMiddlewareFromObserver verifies construction over a no-op observer.
func TestMiddlewareFromObserver(t *testing.T) {
	mw, err := MiddlewareFromObserver(Nop())
	if err != nil {
		t.Fatalf("MiddlewareFromObserver: %v", err)
	}

	called := false
	h := mw.Wrap("/x", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil).WithContext(context.Background()))
	if !called {
		t.Error("wrapped handler not called")
	}
}
