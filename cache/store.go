package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/atomic"

	"github.com/you112ef/boltcache/observe"
	"github.com/you112ef/boltcache/persist"
)

// Option configures a Store.
type Option func(*options)

type options struct {
	backing *persist.Backing
	clock   clock.Clock
	logger  observe.Logger
	metrics observe.CacheMetrics
	meter   metric.Meter
}

// WithBacking sets the durable mirror used when persistence is enabled.
// Without it an enabled store mirrors into process memory.
func WithBacking(b *persist.Backing) Option {
	return func(o *options) { o.backing = b }
}

// WithClock sets the time source for expiry, access bookkeeping and the
// cleanup sweep.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMeter builds OpenTelemetry metrics for the store on meter, including
// item and size gauges. Ignored when WithMetrics is given.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// Store is a bounded, tag-addressable, time-limited cache of T values.
//
// Every method is safe for concurrent use; each in-memory mutation happens
// under one mutex. Writes and removals of a key reach the durable mirror in
// the order they were applied to memory. Separate calls are not atomic with
// respect to each other: two callers racing Get then Set on the same key may
// both miss and both populate it. Use request.Executor when at most one
// producer per key matters.
//
// Values are stored and returned as given, without copying.
type Store[T any] struct {
	cfg     Config
	policy  Policy
	codec   Codec[T]
	backing *persist.Backing
	clock   clock.Clock
	logger  observe.Logger
	metrics observe.CacheMetrics

	keyLocks [keyStripes]sync.Mutex

	mu          sync.Mutex
	entries     map[string]*Entry[T]
	currentSize int64
	closed      bool

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Store. When cfg.CleanupInterval is positive a background
// sweep runs until Close.
func New[T any](cfg Config, codec Codec[T], opts ...Option) (*Store[T], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: codec is required", ErrInvalidConfig)
	}

	o := options{
		clock:  clock.New(),
		logger: observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store[T]{
		cfg:     cfg,
		policy:  PolicyFromConfig(cfg),
		codec:   codec,
		clock:   o.clock,
		logger:  o.logger.With(observe.F("cache", cfg.Namespace)),
		entries: make(map[string]*Entry[T]),
	}

	switch {
	case o.metrics != nil:
		s.metrics = o.metrics
	case o.meter != nil:
		m, err := observe.NewCacheMetrics(o.meter, cfg.Namespace, s.Size)
		if err != nil {
			return nil, fmt.Errorf("cache: create metrics: %w", err)
		}
		s.metrics = m
	default:
		s.metrics = observe.NopCacheMetrics()
	}

	if cfg.EnablePersistence {
		s.backing = o.backing
		if s.backing == nil {
			s.backing = persist.NewBacking(persist.NewMemoryStorage(), persist.BackingConfig{
				Namespace: cfg.Namespace,
				Logger:    s.logger,
				Metrics:   s.metrics,
			})
		}
	}

	if cfg.CleanupInterval > 0 {
		// The ticker is created here so a mock clock sees it before New returns.
		ticker := s.clock.Ticker(cfg.CleanupInterval)
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.janitor(ticker)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Store[T]) Config() Config { return s.cfg }

// Backing returns the durable mirror, or nil when persistence is disabled.
func (s *Store[T]) Backing() *persist.Backing { return s.backing }

// Set stores value under key and reports whether it was stored. It returns
// false for invalid keys, values whose encoded size exceeds MaxSizeBytes, and
// after Close. Use SetE for the reason.
func (s *Store[T]) Set(ctx context.Context, key string, value T, opts SetOptions) bool {
	return s.SetE(ctx, key, value, opts) == nil
}

// SetE stores value under key, evicting entries as needed so that both
// budgets hold afterwards.
func (s *Store[T]) SetE(ctx context.Context, key string, value T, opts SetOptions) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := s.codec.Encode(value)
	if err != nil {
		return err
	}
	size := int64(len(data))
	if size > s.cfg.MaxSizeBytes {
		s.metrics.Oversized(ctx)
		s.logger.Warn(ctx, "refusing oversized item",
			observe.F("key", key),
			observe.F("size_bytes", size),
			observe.F("max_size_bytes", s.cfg.MaxSizeBytes))
		return fmt.Errorf("%w: %d bytes, budget %d", ErrOversizedItem, size, s.cfg.MaxSizeBytes)
	}
	ttl := s.policy.EffectiveTTL(opts.TTL)

	lock := s.keyLock(key)
	lock.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		lock.Unlock()
		return ErrClosed
	}
	now := s.clock.Now()
	if _, ok := s.entries[key]; ok {
		// The old value is released before making room so it is never
		// counted against its own replacement.
		s.removeLocked(key)
	}
	expired, evicted := s.makeRoomLocked(now, size)
	e := &Entry[T]{
		Value:          value,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		SizeBytes:      size,
		Tags:           tagSet(opts.Tags),
	}
	s.entries[key] = e
	s.currentSize += size
	tags := e.TagList()
	s.mu.Unlock()

	if s.backing != nil {
		s.backing.Write(ctx, key, persist.Record{
			Value:     data,
			CreatedAt: e.CreatedAt,
			ExpiresAt: e.ExpiresAt,
			Tags:      tags,
		})
	}
	lock.Unlock()

	s.afterRemoval(ctx, expired, evicted)
	s.metrics.Set(ctx, size)
	return nil
}

// Get returns the live value stored under key. A memory miss reads through
// the durable mirror when persistence is enabled and promotes the hit into
// memory. Expired entries are removed and reported absent.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	s.mu.Lock()
	now := s.clock.Now()
	if e, ok := s.entries[key]; ok {
		if e.Expired(now) {
			s.removeLocked(key)
			s.mu.Unlock()
			s.afterRemoval(ctx, []string{key}, nil)
			s.miss(ctx)
			return zero, false
		}
		e.AccessCount++
		e.LastAccessedAt = now
		v := e.Value
		s.mu.Unlock()
		s.hit(ctx)
		return v, true
	}
	s.mu.Unlock()

	if s.backing != nil {
		if v, ok := s.readThrough(ctx, key); ok {
			s.hit(ctx)
			return v, true
		}
	}
	s.miss(ctx)
	return zero, false
}

func (s *Store[T]) readThrough(ctx context.Context, key string) (T, bool) {
	lock := s.keyLock(key)
	lock.Lock()
	v, ok, expired, evicted := s.promoteLocked(ctx, key)
	lock.Unlock()

	s.afterRemoval(ctx, expired, evicted)
	return v, ok
}

// promoteLocked loads key from the mirror into memory. Caller holds the key
// lock; the returned removals still need afterRemoval.
func (s *Store[T]) promoteLocked(ctx context.Context, key string) (v T, ok bool, expired, evicted []string) {
	var zero T

	rec, ok := s.backing.Read(ctx, key)
	if !ok {
		return zero, false, nil, nil
	}
	now := s.clock.Now()
	if rec.Expired(now) {
		s.backing.Remove(ctx, key)
		return zero, false, nil, nil
	}
	v, err := s.codec.Decode(rec.Value)
	if err != nil {
		s.metrics.PersistenceFailure(ctx, "decode")
		s.logger.Warn(ctx, "discarding undecodable durable record", observe.F("key", key), observe.Err(err))
		s.backing.Remove(ctx, key)
		return zero, false, nil, nil
	}
	size := int64(len(rec.Value))

	s.mu.Lock()
	if e, ok := s.entries[key]; ok && !e.Expired(now) {
		// A concurrent Set landed first; its value is fresher.
		e.AccessCount++
		e.LastAccessedAt = now
		v = e.Value
		s.mu.Unlock()
		return v, true, nil, nil
	}
	if s.closed || size > s.cfg.MaxSizeBytes {
		s.mu.Unlock()
		return v, true, nil, nil
	}
	if _, ok := s.entries[key]; ok {
		s.removeLocked(key)
	}
	expired, evicted = s.makeRoomLocked(now, size)
	s.entries[key] = &Entry[T]{
		Value:          v,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      s.promotedExpiry(rec, now),
		AccessCount:    1,
		LastAccessedAt: now,
		SizeBytes:      size,
		Tags:           tagSet(rec.Tags),
	}
	s.currentSize += size
	s.mu.Unlock()
	return v, true, expired, evicted
}

// promotedExpiry is the memory expiry of a durable record. A record without
// one, which the mirror treats as never expiring, gets the default TTL from
// now.
func (s *Store[T]) promotedExpiry(rec persist.Record, now time.Time) time.Time {
	if rec.ExpiresAt.IsZero() {
		return now.Add(s.policy.EffectiveTTL(0))
	}
	return rec.ExpiresAt
}

// Has reports whether key holds a live entry, with the same expiry handling
// as Get but without access bookkeeping. A key present only in the durable
// mirror counts when its record is live; it is not promoted.
func (s *Store[T]) Has(ctx context.Context, key string) bool {
	s.mu.Lock()
	now := s.clock.Now()
	if e, ok := s.entries[key]; ok {
		if e.Expired(now) {
			s.removeLocked(key)
			s.mu.Unlock()
			s.afterRemoval(ctx, []string{key}, nil)
			return false
		}
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	if s.backing == nil {
		return false
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	rec, ok := s.backing.Read(ctx, key)
	if !ok {
		return false
	}
	if rec.Expired(now) {
		s.backing.Remove(ctx, key)
		return false
	}
	return true
}

// Delete removes key from memory and the durable mirror and reports whether
// it was present in either.
func (s *Store[T]) Delete(ctx context.Context, key string) bool {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	_, ok := s.entries[key]
	if ok {
		s.removeLocked(key)
	}
	s.mu.Unlock()

	if ok {
		s.metrics.Removed(ctx, observe.ReasonDeleted, 1)
	}
	if s.backing != nil {
		if !ok {
			_, ok = s.backing.Read(ctx, key)
		}
		s.backing.Remove(ctx, key)
	}
	return ok
}

// Clear removes every entry, including all durable keys in the store's
// namespace.
func (s *Store[T]) Clear(ctx context.Context) {
	s.lockAllKeys()
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]*Entry[T])
	s.currentSize = 0
	s.mu.Unlock()

	durable := 0
	if s.backing != nil {
		durable = s.backing.RemoveAll(ctx)
	}
	s.unlockAllKeys()

	s.metrics.Removed(ctx, observe.ReasonCleared, n)
	s.logger.Info(ctx, "cache cleared", observe.F("items", n), observe.F("durable_items", durable))
}

// ClearByTags removes every entry carrying at least one of tags and returns
// how many were removed. Durable-only records are matched as well.
func (s *Store[T]) ClearByTags(ctx context.Context, tags ...string) int {
	set := tagSet(tags)
	if len(set) == 0 {
		return 0
	}

	s.mu.Lock()
	var removed []string
	for key, e := range s.entries {
		if e.HasAnyTag(set) {
			s.removeLocked(key)
			removed = append(removed, key)
		}
	}
	s.mu.Unlock()

	count := len(removed)
	if s.backing != nil {
		for _, key := range removed {
			s.removeDurable(ctx, key)
		}
		count += s.clearDurableByTags(ctx, set)
	}

	s.metrics.Removed(ctx, observe.ReasonTag, count)
	s.logger.Debug(ctx, "cleared entries by tag", observe.F("tags", tags), observe.F("removed", count))
	return count
}

// clearDurableByTags removes durable records that have no memory copy and
// match set, so read-through cannot resurrect them.
func (s *Store[T]) clearDurableByTags(ctx context.Context, set map[string]struct{}) int {
	count := 0
	for _, key := range s.backing.Keys(ctx) {
		lock := s.keyLock(key)
		lock.Lock()
		if !s.inMemory(key) {
			if rec, ok := s.backing.Read(ctx, key); ok && rec.HasAnyTag(set) {
				s.backing.Remove(ctx, key)
				count++
			}
		}
		lock.Unlock()
	}
	return count
}

// Cleanup removes every expired entry and returns how many were removed.
func (s *Store[T]) Cleanup(ctx context.Context) int {
	s.mu.Lock()
	expired := s.sweepLocked(s.clock.Now())
	s.mu.Unlock()

	s.afterRemoval(ctx, expired, nil)
	if len(expired) > 0 {
		s.logger.Debug(ctx, "swept expired entries", observe.F("removed", len(expired)))
	}
	return len(expired)
}

// Warm loads live durable records into memory until a budget would require
// evicting, and returns how many were loaded. Expired records are removed.
func (s *Store[T]) Warm(ctx context.Context) int {
	if s.backing == nil {
		return 0
	}
	loaded := 0
	for _, key := range s.backing.Keys(ctx) {
		lock := s.keyLock(key)
		lock.Lock()
		ok, full := s.warmLocked(ctx, key)
		lock.Unlock()
		if full {
			break
		}
		if ok {
			loaded++
		}
	}
	s.logger.Info(ctx, "warmed cache from durable store", observe.F("loaded", loaded))
	return loaded
}

// warmLocked loads one durable record without evicting. full reports that
// the record did not fit. Caller holds the key lock.
func (s *Store[T]) warmLocked(ctx context.Context, key string) (loaded, full bool) {
	rec, ok := s.backing.Read(ctx, key)
	if !ok {
		return false, false
	}
	now := s.clock.Now()
	if rec.Expired(now) {
		s.backing.Remove(ctx, key)
		s.metrics.Removed(ctx, observe.ReasonExpired, 1)
		return false, false
	}
	v, err := s.codec.Decode(rec.Value)
	if err != nil {
		s.metrics.PersistenceFailure(ctx, "decode")
		s.logger.Warn(ctx, "discarding undecodable durable record", observe.F("key", key), observe.Err(err))
		s.backing.Remove(ctx, key)
		return false, false
	}
	size := int64(len(rec.Value))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; exists {
		return false, false
	}
	if s.closed || !s.fitsLocked(size) {
		return false, true
	}
	s.entries[key] = &Entry[T]{
		Value:          v,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      s.promotedExpiry(rec, now),
		LastAccessedAt: now,
		SizeBytes:      size,
		Tags:           tagSet(rec.Tags),
	}
	s.currentSize += size
	return true, false
}

// Keys returns the keys of live entries in sorted order.
func (s *Store[T]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if !e.Expired(now) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Size returns the entry count and the summed entry sizes.
func (s *Store[T]) Size() (items int64, sizeBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), s.currentSize
}

// Close stops the background sweep. Later writes fail with ErrClosed; reads
// keep working. The durable storage is owned by the caller and stays open.
// Close is idempotent.
func (s *Store[T]) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.stop != nil {
			close(s.stop)
			<-s.done
		}
	})
	return nil
}

func (s *Store[T]) janitor(ticker *clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx := context.Background()
			s.Cleanup(ctx)
			if n := s.sweepDurable(ctx); n > 0 {
				s.metrics.Removed(ctx, observe.ReasonExpired, n)
				s.logger.Debug(ctx, "swept expired durable records", observe.F("removed", n))
			}
		}
	}
}

// removeLocked deletes key and releases its size. Caller holds s.mu.
func (s *Store[T]) removeLocked(key string) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	delete(s.entries, key)
	s.currentSize -= e.SizeBytes
}

// sweepLocked removes expired entries and returns their keys. Caller holds
// s.mu.
func (s *Store[T]) sweepLocked(now time.Time) []string {
	var expired []string
	for key, e := range s.entries {
		if e.Expired(now) {
			s.removeLocked(key)
			expired = append(expired, key)
		}
	}
	return expired
}

// afterRemoval records removals made under the lock and drops them from the
// durable mirror.
func (s *Store[T]) afterRemoval(ctx context.Context, expired, evicted []string) {
	if len(expired) > 0 {
		s.metrics.Removed(ctx, observe.ReasonExpired, len(expired))
	}
	if len(evicted) > 0 {
		s.evictions.Add(int64(len(evicted)))
		s.metrics.Removed(ctx, observe.ReasonCapacity, len(evicted))
		s.logger.Debug(ctx, "evicted entries under capacity pressure", observe.F("keys", evicted))
	}
	if s.backing == nil {
		return
	}
	for _, key := range expired {
		s.removeDurable(ctx, key)
	}
	for _, key := range evicted {
		s.removeDurable(ctx, key)
	}
}

func (s *Store[T]) hit(ctx context.Context) {
	s.hits.Inc()
	s.metrics.Hit(ctx)
}

func (s *Store[T]) miss(ctx context.Context) {
	s.misses.Inc()
	s.metrics.Miss(ctx)
}
