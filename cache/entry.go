package cache

import (
	"slices"
	"time"
)

// Entry is a cached value with its lifetime and access bookkeeping.
type Entry[T any] struct {
	Value          T
	CreatedAt      time.Time
	ExpiresAt      time.Time
	AccessCount    int64
	LastAccessedAt time.Time
	SizeBytes      int64
	Tags           map[string]struct{}
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry[T]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// HasAnyTag reports whether the entry carries at least one of tags.
func (e *Entry[T]) HasAnyTag(tags map[string]struct{}) bool {
	for t := range tags {
		if _, ok := e.Tags[t]; ok {
			return true
		}
	}
	return false
}

// TagList returns the entry's tags sorted.
func (e *Entry[T]) TagList() []string {
	if len(e.Tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.Tags))
	for t := range e.Tags {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func tagSet(tags []string) map[string]struct{} {
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}
