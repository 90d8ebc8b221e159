// Package kv implements the sharded key/value store (spec.md §4.B): the
// `set`/`get`/`delete`/`incr`/`mset`/`mget`/`scan`/`dump` surface, TTL
// expiry, and pluggable LRU/LFU/ARC eviction under a configured memory
// ceiling.
//
// Storage is a storage.Map[StoredValue] (internal/storage): N independently
// locked shards, hashed by xxhash. Every write also returns the op.Operation
// that reproduces it, so callers (internal/engine) can hand that Operation
// to the WAL and replication log without kv knowing either exists.
package kv
