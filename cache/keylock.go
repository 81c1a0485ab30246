package cache

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// keyStripes is the number of locks that order per-key durable I/O.
const keyStripes = 64

// keyLock returns the lock that keeps a key's memory mutation and its durable
// write or removal in one step, so the mirror sees writes to a key in the
// same order as memory does.
//
// Lock order is key lock, then s.mu. Only lockAllKeys holds more than one key
// lock, and it takes them in index order.
func (s *Store[T]) keyLock(key string) *sync.Mutex {
	return &s.keyLocks[xxhash.Sum64String(key)%keyStripes]
}

func (s *Store[T]) lockAllKeys() {
	for i := range s.keyLocks {
		s.keyLocks[i].Lock()
	}
}

func (s *Store[T]) unlockAllKeys() {
	for i := len(s.keyLocks) - 1; i >= 0; i-- {
		s.keyLocks[i].Unlock()
	}
}

// inMemory reports whether key currently has a memory entry.
func (s *Store[T]) inMemory(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// removeDurable drops key from the mirror after it left memory, unless a
// newer entry has been stored under key since.
func (s *Store[T]) removeDurable(ctx context.Context, key string) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	if !s.inMemory(key) {
		s.backing.Remove(ctx, key)
	}
}

// sweepDurable removes expired records that have no memory copy, which the
// memory sweep cannot see. It returns how many were removed.
func (s *Store[T]) sweepDurable(ctx context.Context) int {
	if s.backing == nil {
		return 0
	}
	removed := 0
	for _, key := range s.backing.Keys(ctx) {
		lock := s.keyLock(key)
		lock.Lock()
		if !s.inMemory(key) {
			if rec, ok := s.backing.Read(ctx, key); ok && rec.Expired(s.clock.Now()) {
				s.backing.Remove(ctx, key)
				removed++
			}
		}
		lock.Unlock()
	}
	return removed
}
