// Package cache provides a bounded, tag-addressable, time-limited store.
//
// A [Store] holds values of one type T, serialized through a [Codec] whose
// output length is the entry's size. Two budgets bound it: total encoded
// bytes and entry count. When a write would exceed either, expired entries
// are swept first and live entries are then evicted by lowest access
// frequency per idle minute (see [Score]).
//
// Entries expire after their TTL and are purged lazily on access, by
// [Store.Cleanup], and by a background sweep that runs until [Store.Close].
// Tags group entries for bulk removal with [Store.ClearByTags].
//
// With persistence enabled, writes are mirrored into a persist.Backing and
// memory misses read through it, so a new Store over the same storage starts
// warm. Durable failures never surface to callers.
//
// [DefaultKeyer] derives stable keys from a resource name and arbitrary
// input by hashing canonical JSON with xxhash.
package cache
