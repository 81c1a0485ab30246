package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cristalhq/hedgedhttp"

	"github.com/you112ef/boltcache/cache"
)

// Fetcher performs the underlying operation for a resource.
//
// Contract:
//   - Concurrency: must be safe for concurrent use across resources.
//   - Context: must honor cancellation; an attempt that outlives its deadline
//     is abandoned, not awaited.
type Fetcher[T any] interface {
	Fetch(ctx context.Context, resource string) (T, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T any] func(ctx context.Context, resource string) (T, error)

// Fetch calls f.
func (f FetcherFunc[T]) Fetch(ctx context.Context, resource string) (T, error) {
	return f(ctx, resource)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request: GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("request: GET %s: %d %s: %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 512

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	// BaseURL is prepended to every resource.
	BaseURL string

	// Header is sent with every request.
	Header http.Header

	// Transport is the underlying round tripper.
	// Default: http.DefaultTransport
	Transport http.RoundTripper

	// HedgeAfter sends another copy of a request still unanswered after
	// this long. Zero disables hedging.
	HedgeAfter time.Duration

	// HedgeUpTo caps the copies sent per request, the original included.
	// Default: 2 when HedgeAfter is set
	HedgeUpTo int
}

// HTTPFetcher GETs BaseURL+resource and decodes the body with a codec.
type HTTPFetcher[T any] struct {
	base   string
	header http.Header
	client *http.Client
	codec  cache.Codec[T]
	stats  *hedgedhttp.Stats
}

// NewHTTPFetcher creates an HTTPFetcher. A nil codec decodes JSON.
func NewHTTPFetcher[T any](cfg HTTPConfig, codec cache.Codec[T]) (*HTTPFetcher[T], error) {
	if cfg.BaseURL != "" {
		if _, err := url.Parse(cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("request: invalid base url: %w", err)
		}
	}
	if codec == nil {
		codec = cache.JSONCodec[T]{}
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	f := &HTTPFetcher[T]{
		base:   strings.TrimSuffix(cfg.BaseURL, "/"),
		header: cfg.Header.Clone(),
		codec:  codec,
	}

	// hedge if desired (0 means disabled)
	if cfg.HedgeAfter > 0 {
		upTo := cfg.HedgeUpTo
		if upTo <= 0 {
			upTo = 2
		}
		var err error
		transport, f.stats, err = hedgedhttp.NewRoundTripperAndStats(cfg.HedgeAfter, upTo, transport)
		if err != nil {
			return nil, fmt.Errorf("request: hedged transport: %w", err)
		}
	}

	f.client = &http.Client{Transport: transport}
	return f, nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher[T]) Fetch(ctx context.Context, resource string) (T, error) {
	var zero T
	target := f.base + resource
	if f.base != "" && !strings.HasPrefix(resource, "/") {
		target = f.base + "/" + resource
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return zero, fmt.Errorf("request: build GET %s: %w", target, err)
	}
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return zero, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return zero, &StatusError{URL: target, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("request: read body of %s: %w", target, err)
	}
	return f.codec.Decode(body)
}

// HedgedRequests returns how many extra copies hedging has sent.
func (f *HTTPFetcher[T]) HedgedRequests() uint64 {
	if f.stats == nil {
		return 0
	}
	snap := f.stats.Snapshot()
	if snap.ActualRoundTrips < snap.RequestedRoundTrips {
		return 0
	}
	return snap.ActualRoundTrips - snap.RequestedRoundTrips
}

var _ Fetcher[[]byte] = (*HTTPFetcher[[]byte])(nil)
