// Package storage provides the generic sharded-map primitive that every
// keyed store in the engine (kv, hash, list, set, zset, bitmap, hll) builds
// on, plus the byte-oriented Store interface the original single-shard
// storage layer exposed.
//
// # Sharding
//
// A Map[V] is N independently-locked partitions of a keyed collection
// (spec.md §3 "Shard", §4.B). The shard for a key is chosen by hashing the
// key with xxhash and reducing mod N; read paths take a shard's RLock,
// write paths take its Lock, and no shard's lock is ever held while calling
// into another shard or into a different store. Cross-key atomicity (e.g.
// SMOVE) is achieved by locking the two shards involved in ascending
// shard-index order, so two concurrent cross-key operations on the same
// pair of shards can never deadlock against each other.
//
// # Why generics, not one Store interface per collection
//
// Every collection type here (hash field maps, list nodes, zset entries, …)
// needs the same shard-count/locking/stats skeleton but a different value
// type, so Map[V] is generic over V instead of being re-implemented per
// collection the way the original Store/MemoryStore pair was.
package storage
