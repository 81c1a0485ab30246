package persist

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/you112ef/boltcache/observe"
)

// DefaultNamespace prefixes durable keys when no namespace is configured.
const DefaultNamespace = "boltcache"

// BackingConfig configures a Backing.
type BackingConfig struct {
	// Namespace prefixes every durable key as "<namespace>:<key>".
	// Default: "boltcache"
	Namespace string

	// Compress snappy-compresses records before writing.
	Compress bool

	// Timeout bounds each storage call.
	// Default: 1 second
	Timeout time.Duration

	Logger  observe.Logger
	Metrics observe.CacheMetrics
}

// Backing mirrors cache entries into a Storage under a namespace.
//
// Persistence is best-effort: every failure is logged, counted and
// swallowed, so callers never see a storage error.
type Backing struct {
	storage  Storage
	prefix   string
	compress bool
	timeout  time.Duration
	logger   observe.Logger
	metrics  observe.CacheMetrics
}

// NewBacking creates a Backing over storage.
func NewBacking(storage Storage, cfg BackingConfig) *Backing {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopCacheMetrics()
	}

	return &Backing{
		storage:  storage,
		prefix:   cfg.Namespace + ":",
		compress: cfg.Compress,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With(observe.F("namespace", cfg.Namespace)),
		metrics:  cfg.Metrics,
	}
}

// Storage returns the underlying storage.
func (b *Backing) Storage() Storage { return b.storage }

// Namespace returns the key namespace, without the separator.
func (b *Backing) Namespace() string { return strings.TrimSuffix(b.prefix, ":") }

func (b *Backing) storageKey(key string) string { return b.prefix + key }

// Write stores rec under key.
func (b *Backing) Write(ctx context.Context, key string, rec Record) {
	data, err := MarshalRecord(rec, b.compress)
	if err != nil {
		b.fail(ctx, "write", key, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.write(ctx, b.storageKey(key), data, rec); err != nil {
		b.fail(ctx, "write", key, err)
	}
}

// write hands the record's lifetime to storages that can expire values
// themselves.
func (b *Backing) write(ctx context.Context, key string, data []byte, rec Record) error {
	es, ok := b.storage.(ExpiringStorage)
	if ttl := rec.TTL(); ok && ttl > 0 {
		return es.WriteTTL(ctx, key, data, ttl)
	}
	return b.storage.Write(ctx, key, data)
}

// Read returns the record stored under key. Missing, unreadable and corrupt
// records all report absent; corrupt records are removed.
func (b *Backing) Read(ctx context.Context, key string) (Record, bool) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	data, ok, err := b.storage.Read(ctx, b.storageKey(key))
	if err != nil {
		b.fail(ctx, "read", key, err)
		return Record{}, false
	}
	if !ok {
		return Record{}, false
	}

	rec, err := UnmarshalRecord(data)
	if err != nil {
		b.fail(ctx, "read", key, err)
		if rmErr := b.storage.Remove(ctx, b.storageKey(key)); rmErr != nil {
			b.fail(ctx, "remove", key, rmErr)
		}
		return Record{}, false
	}
	return rec, true
}

// Remove deletes key.
func (b *Backing) Remove(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.storage.Remove(ctx, b.storageKey(key)); err != nil {
		b.fail(ctx, "remove", key, err)
	}
}

// RemoveAll deletes every key in the namespace and returns how many removals
// succeeded.
func (b *Backing) RemoveAll(ctx context.Context) int {
	keys := b.listStorageKeys(ctx)
	removed := 0
	for _, k := range keys {
		rctx, cancel := context.WithTimeout(ctx, b.timeout)
		err := b.storage.Remove(rctx, k)
		cancel()
		if err != nil {
			b.fail(ctx, "remove", strings.TrimPrefix(k, b.prefix), err)
			continue
		}
		removed++
	}
	return removed
}

// Keys returns the cache keys present in the namespace.
func (b *Backing) Keys(ctx context.Context) []string {
	keys := b.listStorageKeys(ctx)
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, b.prefix)
	}
	return keys
}

func (b *Backing) listStorageKeys(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	keys, err := b.storage.Keys(ctx, b.prefix)
	if err != nil {
		b.fail(ctx, "keys", "", err)
		return nil
	}
	return keys
}

func (b *Backing) fail(ctx context.Context, op, key string, err error) {
	b.metrics.PersistenceFailure(ctx, op)

	fields := []observe.Field{observe.F("op", op), observe.Err(err)}
	if key != "" {
		fields = append(fields, observe.F("key", key))
	}
	if errors.Is(err, ErrCorruptRecord) {
		b.logger.Warn(ctx, "discarding corrupt durable record", fields...)
		return
	}
	b.logger.Warn(ctx, "durable store operation failed", fields...)
}
