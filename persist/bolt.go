package persist

import (
	"bytes"
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultBoltBucket is the bucket records live in when none is configured.
const DefaultBoltBucket = "boltcache"

// BoltConfig configures a BoltStorage.
type BoltConfig struct {
	// Path is the database file. Created if missing.
	Path string

	// Bucket holds all keys. Default: "boltcache"
	Bucket string

	// OpenTimeout bounds waiting for the file lock.
	// Default: 1 second
	OpenTimeout time.Duration

	// NoSync skips fsync after each write; faster, loses the tail on crash.
	NoSync bool

	// ReadOnly opens the file without taking the write lock.
	ReadOnly bool
}

// BoltStorage is a Storage backed by a single bbolt bucket on local disk.
type BoltStorage struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBolt opens (creating if needed) the database at cfg.Path.
func OpenBolt(cfg BoltConfig) (*BoltStorage, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("persist: bolt path is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBoltBucket
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Second
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout:  cfg.OpenTimeout,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("persist: open bolt %s: %w", cfg.Path, err)
	}

	s := &BoltStorage{db: db, bucket: []byte(cfg.Bucket)}
	if !cfg.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(s.bucket)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("persist: create bucket %q: %w", cfg.Bucket, err)
		}
	}
	return s, nil
}

// Write stores value under key.
func (s *BoltStorage) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	})
}

// Read returns a copy of the value stored under key.
func (s *BoltStorage) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			// v is only valid for the life of the transaction.
			out = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// Remove deletes key.
func (s *BoltStorage) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// Keys returns keys with the given prefix in byte order.
func (s *BoltStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// Ping verifies the database is still open.
func (s *BoltStorage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(*bolt.Tx) error { return nil })
}

// Path returns the database file path.
func (s *BoltStorage) Path() string { return s.db.Path() }

// Close closes the database file.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

var (
	_ Storage = (*BoltStorage)(nil)
	_ Pinger  = (*BoltStorage)(nil)
)
