// Package persist provides the durable side of the cache.
//
// A [Storage] is a plain byte key/value medium. Three are provided:
//
//   - [MemoryStorage] keeps bytes in process memory.
//   - [BoltStorage] keeps them in a local bbolt file.
//   - [RedisStorage] keeps them on a Redis server.
//
// [Backing] sits on top of a Storage and mirrors cache entries as
// [Record] values under "<namespace>:<key>". It never returns errors: a
// failing medium degrades the cache to memory-only, with each failure logged
// and counted.
//
// Records are JSON, optionally snappy-compressed. The first byte of each
// stored value names the format, so compressed and plain records can coexist
// in one medium.
package persist
