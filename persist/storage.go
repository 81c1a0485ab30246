package persist

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Storage is the key/value capability a Backing mirrors cache entries into.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: methods should honor cancellation/deadlines.
//   - Errors: Read returns (nil, false, nil) on a miss; errors are reserved for
//     failures of the medium itself.
//   - Ownership: returned byte slices belong to the caller.
type Storage interface {
	// Write stores value under key, replacing any previous value.
	Write(ctx context.Context, key string, value []byte) error

	// Read returns the value stored under key.
	Read(ctx context.Context, key string) ([]byte, bool, error)

	// Remove deletes key. Idempotent.
	Remove(ctx context.Context, key string) error

	// Keys lists every stored key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the medium.
	Close() error
}

// ExpiringStorage is implemented by storages that can drop a value on their
// own once its lifetime ends.
type ExpiringStorage interface {
	WriteTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Pinger is implemented by storages that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryStorage is a Storage held in process memory. It survives nothing but
// is useful as a default and in tests.
type MemoryStorage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

// Write stores a copy of value.
func (m *MemoryStorage) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	m.data[key] = bytes.Clone(value)
	return nil
}

// Read returns a copy of the stored value.
func (m *MemoryStorage) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrStorageClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// Remove deletes key.
func (m *MemoryStorage) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	delete(m.data, key)
	return nil
}

// Keys returns matching keys in sorted order.
func (m *MemoryStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close marks the storage closed; further calls fail with ErrStorageClosed.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
