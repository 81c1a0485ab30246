// Package request runs external operations behind a cache.
//
// An [Executor] answers Request(ctx, resource) in four steps: derive the
// cache key, return a live cached value, join an identical call already in
// flight, or run the [Fetcher] itself. Runs pass through a concurrency gate
// shared by all keys (six slots by default, queued in arrival order), are
// retried with exponential backoff (1s, 2s, 4s and so on) and bound per
// attempt by a timeout. Successful results are stored with the [Tag] tag
// so [Executor.ClearRequestCache] can drop them together.
//
// When every attempt fails, all waiters receive the same error, which
// matches resilience.ErrRetriesExhausted and the last attempt's error.
// Nothing is cached.
//
// [HTTPFetcher] is a Fetcher for JSON over HTTP with optional hedging.
package request
