package persist

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you112ef/boltcache/observe"
)

var errMediumDown = errors.New("medium down")

// brokenStorage fails every call.
type brokenStorage struct{}

func (brokenStorage) Write(context.Context, string, []byte) error { return errMediumDown }
func (brokenStorage) Read(context.Context, string) ([]byte, bool, error) {
	return nil, false, errMediumDown
}
func (brokenStorage) Remove(context.Context, string) error { return errMediumDown }
func (brokenStorage) Keys(context.Context, string) ([]string, error) {
	return nil, errMediumDown
}
func (brokenStorage) Close() error { return nil }

type failureCounter struct {
	observe.CacheMetrics
	mu  sync.Mutex
	ops []string
}

func (f *failureCounter) PersistenceFailure(_ context.Context, op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func sampleRecord() Record {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return Record{
		Value:     []byte(`{"answer":42}`),
		CreatedAt: created,
		ExpiresAt: created.Add(time.Hour),
		Tags:      []string{"request", "user"},
	}
}

func TestBacking_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		ctx := context.Background()
		storage := NewMemoryStorage()
		b := NewBacking(storage, BackingConfig{Namespace: "app", Compress: compress})

		b.Write(ctx, "k1", sampleRecord())

		_, ok, err := storage.Read(ctx, "app:k1")
		require.NoError(t, err)
		require.True(t, ok, "record stored under namespaced key")

		got, ok := b.Read(ctx, "k1")
		require.True(t, ok)
		assert.Equal(t, sampleRecord().Value, got.Value)
		assert.True(t, sampleRecord().ExpiresAt.Equal(got.ExpiresAt))
		assert.Equal(t, []string{"request", "user"}, got.Tags)
	}
}

func TestRecord_TTL(t *testing.T) {
	assert.Equal(t, time.Hour, sampleRecord().TTL())
	assert.Zero(t, Record{CreatedAt: time.Now()}.TTL())
}

func TestBacking_DefaultNamespace(t *testing.T) {
	b := NewBacking(NewMemoryStorage(), BackingConfig{})
	assert.Equal(t, DefaultNamespace, b.Namespace())
}

func TestBacking_CorruptRecordIsRemoved(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	var logs bytes.Buffer
	metrics := &failureCounter{CacheMetrics: observe.NopCacheMetrics()}
	b := NewBacking(storage, BackingConfig{
		Logger:  observe.NewLoggerWithWriter("debug", &logs),
		Metrics: metrics,
	})

	require.NoError(t, storage.Write(ctx, "boltcache:bad", []byte("j{not json")))

	_, ok := b.Read(ctx, "bad")
	assert.False(t, ok)
	assert.Equal(t, 0, storage.Len())
	assert.Equal(t, []string{"read"}, metrics.ops)
	assert.Contains(t, logs.String(), "discarding corrupt durable record")
}

func TestBacking_FailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	metrics := &failureCounter{CacheMetrics: observe.NopCacheMetrics()}
	b := NewBacking(brokenStorage{}, BackingConfig{
		Logger:  observe.NewLoggerWithWriter("warn", &logs),
		Metrics: metrics,
	})

	b.Write(ctx, "k", sampleRecord())
	_, ok := b.Read(ctx, "k")
	b.Remove(ctx, "k")
	n := b.RemoveAll(ctx)

	assert.False(t, ok)
	assert.Zero(t, n)
	assert.Nil(t, b.Keys(ctx))
	assert.Equal(t, []string{"write", "read", "remove", "keys", "keys"}, metrics.ops)
	assert.Contains(t, logs.String(), "medium down")
}

func TestBacking_RemoveAllOnlyOwnNamespace(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	mine := NewBacking(storage, BackingConfig{Namespace: "mine"})
	theirs := NewBacking(storage, BackingConfig{Namespace: "theirs"})

	mine.Write(ctx, "a", sampleRecord())
	mine.Write(ctx, "b", sampleRecord())
	theirs.Write(ctx, "a", sampleRecord())

	assert.Equal(t, []string{"a", "b"}, mine.Keys(ctx))
	assert.Equal(t, 2, mine.RemoveAll(ctx))
	assert.Empty(t, mine.Keys(ctx))
	assert.Equal(t, []string{"a"}, theirs.Keys(ctx))
}

func TestRecord_Expired(t *testing.T) {
	r := sampleRecord()
	assert.False(t, r.Expired(r.CreatedAt))
	assert.True(t, r.Expired(r.ExpiresAt))
	assert.False(t, Record{}.Expired(time.Now()), "zero expiry never expires")
}

func TestUnmarshalRecord_Corrupt(t *testing.T) {
	for _, data := range [][]byte{nil, {'j'}, []byte("xjunk"), []byte("s\xff\xff\xff")} {
		_, err := UnmarshalRecord(data)
		assert.ErrorIs(t, err, ErrCorruptRecord, "%q", data)
	}
}
