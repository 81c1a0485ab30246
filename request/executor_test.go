package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/you112ef/boltcache/cache"
	"github.com/you112ef/boltcache/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("github.com/cristalhq/hedgedhttp.runInPool.func1"),
	)
}

type harness struct {
	exec    *Executor[string]
	store   *cache.Store[string]
	clock   *clock.Mock
	backoff chan struct{}
}

func newHarness(t *testing.T, cfg Config, fetcher Fetcher[string], opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewMock(),
		backoff: make(chan struct{}, 16),
	}

	store, err := cache.New[string](cache.Config{CleanupInterval: -1}, cache.StringCodec{}, cache.WithClock(h.clock))
	require.NoError(t, err)
	h.store = store

	hook := WithRetryStateHook(func(_, to resilience.RetryState) {
		if to == resilience.RetryBackoff {
			h.backoff <- struct{}{}
		}
	})
	exec, err := New[string](store, fetcher, cfg, append([]Option{WithClock(h.clock), hook}, opts...)...)
	require.NoError(t, err)
	h.exec = exec

	t.Cleanup(func() {
		_ = exec.Close()
		_ = store.Close()
	})
	return h
}

// advanceBackoff waits for the next backoff and moves the clock past it.
func (h *harness) advanceBackoff(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-h.backoff:
	case <-time.After(5 * time.Second):
		t.Fatal("no retry backoff started")
	}
	h.clock.Add(d)
}

type result struct {
	val string
	err error
}

func (h *harness) async(ctx context.Context, resource string, opts ...CallOption) <-chan result {
	ch := make(chan result, 1)
	go func() {
		v, err := h.exec.Request(ctx, resource, opts...)
		ch <- result{v, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("request did not settle")
		return result{}
	}
}

// gatedFetcher blocks every fetch until released and counts calls.
type gatedFetcher struct {
	calls   atomic.Int64
	started chan string
	release chan struct{}
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{started: make(chan string, 64), release: make(chan struct{})}
}

func (f *gatedFetcher) Fetch(ctx context.Context, resource string) (string, error) {
	f.calls.Inc()
	f.started <- resource
	select {
	case <-f.release:
		return "value:" + resource, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestNew_Validation(t *testing.T) {
	store, err := cache.New[string](cache.Config{CleanupInterval: -1}, cache.StringCodec{})
	require.NoError(t, err)
	defer store.Close()
	fetch := FetcherFunc[string](func(context.Context, string) (string, error) { return "", nil })

	_, err = New[string](nil, fetch, Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New[string](store, nil, Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(store, Fetcher[string](fetch), Config{MaxConcurrent: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 6, cfg.MaxConcurrent)
	assert.Equal(t, 3, cfg.DefaultRetries)
	assert.Equal(t, 10*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 5*time.Minute, cfg.DefaultCacheTTL)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, "request", cfg.KeyPrefix)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	err := Config{MaxConcurrent: 0, DefaultTimeout: -1, BackoffBase: time.Second, MaxBackoff: time.Millisecond}.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "max concurrent")
	assert.Contains(t, err.Error(), "max backoff")
}

func TestRequest_EmptyResource(t *testing.T) {
	h := newHarness(t, Config{}, newGatedFetcher())
	_, err := h.exec.Request(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidResource)
}

func TestRequest_CachesResult(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	h := newHarness(t, Config{}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		calls.Inc()
		return "v1", nil
	}))

	v, err := h.exec.Request(ctx, "/users", WithCacheKey("users"), WithTags("users"))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	v, err = h.exec.Request(ctx, "/users", WithCacheKey("users"))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), h.exec.Stats().CacheHits)

	assert.Equal(t, 1, h.store.ClearByTags(ctx, "users"), "extra tags are attached")
}

func TestRequest_DefaultCacheTTL(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	h := newHarness(t, Config{}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		calls.Inc()
		return "v", nil
	}))

	_, err := h.exec.Request(ctx, "/a")
	require.NoError(t, err)

	h.clock.Add(5*time.Minute - time.Second)
	_, err = h.exec.Request(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())

	h.clock.Add(time.Second)
	_, err = h.exec.Request(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load(), "entry expires after five minutes")
}

func TestRequest_DeduplicatesConcurrentCalls(t *testing.T) {
	f := newGatedFetcher()
	h := newHarness(t, Config{}, f)
	ctx := context.Background()

	first := h.async(ctx, "/slow")
	<-f.started

	var waiters []<-chan result
	for i := 0; i < 4; i++ {
		waiters = append(waiters, h.async(ctx, "/slow"))
	}
	// Let the waiters join the flight before it settles.
	time.Sleep(50 * time.Millisecond)
	close(f.release)

	want := await(t, first)
	require.NoError(t, want.err)
	for _, ch := range waiters {
		got := await(t, ch)
		require.NoError(t, got.err)
		assert.Equal(t, want.val, got.val)
	}

	assert.Equal(t, int64(1), f.calls.Load(), "operation runs once per key")
	stats := h.exec.Stats()
	assert.Equal(t, int64(1), stats.Executions)
	assert.Equal(t, int64(4), stats.Deduplicated+stats.CacheHits)
	assert.Equal(t, int64(0), stats.InFlight)
}

func TestRequest_RetriesWithBackoff(t *testing.T) {
	boom := errors.New("upstream 503")
	var mu sync.Mutex
	var at []time.Time
	h := newHarness(t, Config{}, newGatedFetcher())
	h.exec.fetcher = FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		mu.Lock()
		at = append(at, h.clock.Now())
		mu.Unlock()
		return "", boom
	})

	ch := h.async(context.Background(), "/flaky", WithRetries(2))
	h.advanceBackoff(t, time.Second)
	h.advanceBackoff(t, 2*time.Second)
	r := await(t, ch)

	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, resilience.ErrRetriesExhausted)
	assert.ErrorIs(t, r.err, boom)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, at, 3, "retries=2 means three attempts")
	assert.Equal(t, time.Second, at[1].Sub(at[0]))
	assert.Equal(t, 2*time.Second, at[2].Sub(at[1]))

	assert.Empty(t, h.store.Keys(), "failures are not cached")
	assert.Equal(t, int64(1), h.exec.Stats().Failures)
}

func TestRequest_FailureDeliveredToAllWaiters(t *testing.T) {
	f := newGatedFetcher()
	h := newHarness(t, Config{}, newGatedFetcher())
	boom := errors.New("down")
	h.exec.fetcher = FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		f.calls.Inc()
		f.started <- r
		<-f.release
		return "", boom
	})

	a := h.async(context.Background(), "/x", WithRetries(0))
	<-f.started
	b := h.async(context.Background(), "/x", WithRetries(0))
	time.Sleep(50 * time.Millisecond)
	close(f.release)

	ra, rb := await(t, a), await(t, b)
	assert.ErrorIs(t, ra.err, boom)
	assert.ErrorIs(t, rb.err, boom)
	assert.ErrorIs(t, rb.err, resilience.ErrRetriesExhausted)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestRequest_SucceedsAfterRetry(t *testing.T) {
	var calls atomic.Int64
	h := newHarness(t, Config{}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		if calls.Inc() == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}))

	ch := h.async(context.Background(), "/r")
	h.advanceBackoff(t, time.Second)
	r := await(t, ch)

	require.NoError(t, r.err)
	assert.Equal(t, "ok", r.val)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRequest_AttemptTimeout(t *testing.T) {
	f := newGatedFetcher()
	h := newHarness(t, Config{}, f)

	ch := h.async(context.Background(), "/hang", WithRetries(0), WithTimeout(5*time.Second))
	<-f.started
	h.clock.Add(5 * time.Second)
	r := await(t, ch)

	assert.ErrorIs(t, r.err, resilience.ErrTimeout)
	assert.ErrorIs(t, r.err, resilience.ErrRetriesExhausted)
	assert.Empty(t, h.store.Keys())
}

func TestRequest_TimedOutAttemptIsRetried(t *testing.T) {
	f := newGatedFetcher()
	h := newHarness(t, Config{}, newGatedFetcher())
	h.exec.fetcher = FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		if f.calls.Inc() == 1 {
			f.started <- r
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "second", nil
	})

	ch := h.async(context.Background(), "/r", WithRetries(1))
	<-f.started
	h.clock.Add(10 * time.Second)
	h.advanceBackoff(t, time.Second)
	r := await(t, ch)

	require.NoError(t, r.err)
	assert.Equal(t, "second", r.val)
}

func TestRequest_ConcurrencyCap(t *testing.T) {
	f := newGatedFetcher()
	h := newHarness(t, Config{MaxConcurrent: 2}, f)

	var chans []<-chan result
	for i := 0; i < 5; i++ {
		chans = append(chans, h.async(context.Background(), fmt.Sprintf("/r%d", i)))
	}

	<-f.started
	<-f.started

	deadline := time.Now().Add(5 * time.Second)
	for {
		s := h.exec.Stats()
		if s.Active == 2 && s.Queued == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stats = %+v, want 2 active and 3 queued", s)
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int64(2), f.calls.Load(), "only two operations start")

	close(f.release)
	for _, ch := range chans {
		require.NoError(t, await(t, ch).err)
	}
	assert.Equal(t, int64(5), f.calls.Load())
}

func TestRequest_CallerCancellationLeavesFlightRunning(t *testing.T) {
	f := newGatedFetcher()
	h := newHarness(t, Config{}, f)

	ctx, cancel := context.WithCancel(context.Background())
	impatient := h.async(ctx, "/shared")
	<-f.started
	patient := h.async(context.Background(), "/shared")
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, await(t, impatient).err, context.Canceled)

	close(f.release)
	r := await(t, patient)
	require.NoError(t, r.err)
	assert.Equal(t, "value:/shared", r.val)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestExecutor_CloseCancelsFlights(t *testing.T) {
	f := newGatedFetcher()
	h := newHarness(t, Config{}, f)
	ctx := context.Background()

	f2 := FetcherFunc[string](func(context.Context, string) (string, error) { return "cached", nil })
	h.exec.fetcher = f2
	_, err := h.exec.Request(ctx, "/cached")
	require.NoError(t, err)
	h.exec.fetcher = f

	ch := h.async(ctx, "/pending")
	<-f.started
	require.NoError(t, h.exec.Close())

	assert.ErrorIs(t, await(t, ch).err, context.Canceled)

	_, err = h.exec.Request(ctx, "/new")
	assert.ErrorIs(t, err, ErrClosed)

	v, err := h.exec.Request(ctx, "/cached")
	require.NoError(t, err, "cached values are still served")
	assert.Equal(t, "cached", v)

	assert.NoError(t, h.exec.Close(), "Close is idempotent")
}

func TestRequest_DerivedKeys(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	h := newHarness(t, Config{}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		calls.Inc()
		return r, nil
	}))

	_, err := h.exec.Request(ctx, "/search", WithKeyInput(map[string]any{"q": "go", "page": 1}))
	require.NoError(t, err)
	_, err = h.exec.Request(ctx, "/search", WithKeyInput(map[string]any{"page": 1, "q": "go"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load(), "map order does not change the key")

	_, err = h.exec.Request(ctx, "/search", WithKeyInput(map[string]any{"q": "rust"}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())

	_, err = h.exec.Request(ctx, "/search", WithKeyInput(map[string]any{"q": "go", "page": 1}), WithRetries(DefaultRetries))
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load(), "explicit defaults derive the same key")

	for _, k := range h.store.Keys() {
		assert.Contains(t, k, "request:/search:")
	}
}

func TestRequest_ExplicitKeySharedAcrossResources(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		return r, nil
	}))

	v, err := h.exec.Request(ctx, "/a", WithCacheKey("shared"))
	require.NoError(t, err)
	assert.Equal(t, "/a", v)

	v, err = h.exec.Request(ctx, "/b", WithCacheKey("shared"))
	require.NoError(t, err)
	assert.Equal(t, "/a", v)
}

func TestClearRequestCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		return r, nil
	}))

	for _, r := range []string{"/a", "/b", "/c"} {
		_, err := h.exec.Request(ctx, r)
		require.NoError(t, err)
	}
	h.store.Set(ctx, "manual", "x", cache.SetOptions{})

	assert.Equal(t, 3, h.exec.ClearRequestCache(ctx))
	assert.Equal(t, []string{"manual"}, h.store.Keys(), "entries not stored by the executor survive")
}

func TestRequest_OversizedResultNotCached(t *testing.T) {
	mock := clock.NewMock()
	store, err := cache.New[string](cache.Config{MaxSizeBytes: 4, CleanupInterval: -1}, cache.StringCodec{}, cache.WithClock(mock))
	require.NoError(t, err)
	defer store.Close()

	exec, err := New[string](store, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		return "too large", nil
	}), Config{}, WithClock(mock))
	require.NoError(t, err)
	defer exec.Close()

	v, err := exec.Request(context.Background(), "/big")
	require.NoError(t, err)
	assert.Equal(t, "too large", v)
	assert.Empty(t, store.Keys())
}

func TestRequest_CircuitBreaker(t *testing.T) {
	var calls atomic.Int64
	h := newHarness(t, Config{BreakerFailures: 1, BreakerReset: time.Hour}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		calls.Inc()
		return "", errors.New("down")
	}))

	_, err := h.exec.Request(context.Background(), "/a", WithRetries(0))
	require.Error(t, err)

	_, err = h.exec.Request(context.Background(), "/b", WithRetries(0))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRequest_NoRetriesRunsOnce(t *testing.T) {
	boom := errors.New("upstream 500")
	var calls atomic.Int64
	h := newHarness(t, Config{DefaultRetries: NoRetries}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		calls.Inc()
		return "", boom
	}))

	_, err := h.exec.Request(context.Background(), "/once")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), calls.Load())
}

func TestConfig_NoRetriesSurvivesDefaults(t *testing.T) {
	cfg := Config{DefaultRetries: NoRetries}
	cfg.ApplyDefaults()
	assert.Equal(t, NoRetries, cfg.DefaultRetries)
	assert.Equal(t, 0, cfg.retries())
	require.NoError(t, cfg.Validate())

	cfg.DefaultRetries = NoRetries - 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestRequest_LongResourceIsCached(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	h := newHarness(t, Config{}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		calls.Inc()
		return "ok", nil
	}))

	resource := "/export?ids=" + strings.Repeat("x", 500)
	for range 3 {
		v, err := h.exec.Request(ctx, resource)
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	}
	assert.Equal(t, int64(1), calls.Load())

	keys := h.store.Keys()
	require.Len(t, keys, 1)
	assert.LessOrEqual(t, len(keys[0]), cache.MaxKeyLength)
}

func TestRequest_InvalidExplicitKey(t *testing.T) {
	var calls atomic.Int64
	h := newHarness(t, Config{}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		calls.Inc()
		return "ok", nil
	}))

	_, err := h.exec.Request(context.Background(), "/a", WithCacheKey("bad\nkey"))
	assert.ErrorIs(t, err, ErrInvalidCacheKey)
	assert.ErrorIs(t, err, cache.ErrInvalidKey)

	_, err = h.exec.Request(context.Background(), "/a", WithCacheKey(strings.Repeat("k", cache.MaxKeyLength+1)))
	assert.ErrorIs(t, err, cache.ErrKeyTooLong)
	assert.Zero(t, calls.Load())
}

func TestRun_ServesValueStoredByEarlierFlight(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	h := newHarness(t, Config{}, FetcherFunc[string](func(ctx context.Context, r string) (string, error) {
		calls.Inc()
		return "fresh", nil
	}))
	h.store.Set(ctx, "k", "stored", cache.SetOptions{})

	v, hit, err := h.exec.run(ctx, "k", "/r", h.exec.resolve(nil))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "stored", v)
	assert.Zero(t, calls.Load())

	stats := h.exec.Stats()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Zero(t, stats.Executions)
}
