package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig configures a RedisStorage.
type RedisConfig struct {
	// Addr is host:port of the server.
	Addr string `yaml:"addr"`

	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Timeout bounds every command.
	// Default: 100ms
	Timeout time.Duration `yaml:"timeout"`

	// ScanCount is the COUNT hint passed to SCAN.
	// Default: 100
	ScanCount int64 `yaml:"scan_count"`
}

// RedisStorage is a Storage backed by a Redis server. Writes through
// WriteTTL carry a server-side expiry, so records the cache never reads
// again do not accumulate.
type RedisStorage struct {
	client    redis.UniversalClient
	timeout   time.Duration
	scanCount int64
}

// DialRedis connects to the server in cfg and verifies it answers PING.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("persist: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewRedisStorage(client, cfg)
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("persist: dial redis %s: %w", cfg.Addr, err)
	}
	return s, nil
}

// NewRedisStorage wraps an existing client.
func NewRedisStorage(client redis.UniversalClient, cfg RedisConfig) *RedisStorage {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}
	return &RedisStorage{client: client, timeout: cfg.Timeout, scanCount: cfg.ScanCount}
}

// Write stores value under key.
func (s *RedisStorage) Write(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Set(ctx, key, value, 0).Err()
}

// WriteTTL stores value under key and lets the server expire it after ttl.
func (s *RedisStorage) WriteTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Read returns the value stored under key.
func (s *RedisStorage) Read(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Remove deletes key.
func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Del(ctx, key).Err()
}

// Keys walks the keyspace with SCAN and returns keys starting with prefix.
func (s *RedisStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(prefix) + "*"
	var (
		keys   []string
		cursor uint64
	)
	for {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		batch, next, err := s.client.Scan(cctx, cursor, match, s.scanCount).Result()
		cancel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Ping checks the server answers.
func (s *RedisStorage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	_ Storage = (*RedisStorage)(nil)
	_ Pinger  = (*RedisStorage)(nil)
)
