package storage

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShardCount is the N from spec.md §3 "Shard" ("implementation-defined,
// typically 64").
const DefaultShardCount = 64

// Bucket is one of a Map[V]'s N independently-locked partitions.
type Bucket[V any] struct {
	mu   sync.RWMutex
	data map[string]V
}

// Map is a generic sharded key-value map: N Buckets, each an independently
// locked Go map. Every keyed store in the engine (kv.Store, hash, list,
// set, zset, bitmap, hll) embeds one of these instead of re-implementing
// sharding.
type Map[V any] struct {
	buckets []*Bucket[V]
	n       int
}

// New creates a Map with n shards (DefaultShardCount if n <= 0).
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShardCount
	}
	m := &Map[V]{n: n, buckets: make([]*Bucket[V], n)}
	for i := range m.buckets {
		m.buckets[i] = &Bucket[V]{data: make(map[string]V)}
	}
	return m
}

// ShardCount returns N.
func (m *Map[V]) ShardCount() int { return m.n }

// indexFor hashes key with xxhash and reduces mod N. xxhash replaces the
// teacher's hash/fnv for this hot path — see DESIGN.md.
func (m *Map[V]) indexFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(m.n))
}

func (m *Map[V]) bucketFor(key string) *Bucket[V] {
	return m.buckets[m.indexFor(key)]
}

// Get returns the value for key and whether it was present.
func (m *Map[V]) Get(key string) (V, bool) {
	b := m.bucketFor(key)
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

// Set stores v under key, creating or overwriting.
func (m *Map[V]) Set(key string, v V) {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = v
}

// Delete removes key, reporting whether it was present.
func (m *Map[V]) Delete(key string) bool {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	delete(b.data, key)
	return ok
}

// Mutate runs fn with exclusive access to the single slot for key, letting
// callers implement read-modify-write (incr, hincrby, list push) without a
// second round trip through Get/Set. fn receives the existing value (zero
// value if absent) and whether it was present; its return value is stored
// unless store is false (e.g. a command that deletes the key on empty
// result, such as a list that becomes empty after LPOP).
func (m *Map[V]) Mutate(key string, fn func(cur V, ok bool) (next V, store bool)) V {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.data[key]
	next, store := fn(cur, ok)
	if store {
		b.data[key] = next
	} else {
		delete(b.data, key)
	}
	return next
}

// WithTwoKeys locks the shards for keyA and keyB in ascending shard-index
// order (locking the same shard only once if both keys land on it) and runs
// fn, enabling atomic cross-key operations like SMOVE/RPOPLPUSH without risk
// of deadlocking against a concurrent operation on the same pair of shards
// in the opposite order (spec.md §4.C "takes both shard locks in key-order
// to avoid deadlock").
func (m *Map[V]) WithTwoKeys(keyA, keyB string, fn func()) {
	ia, ib := m.indexFor(keyA), m.indexFor(keyB)
	if ia == ib {
		b := m.buckets[ia]
		b.mu.Lock()
		defer b.mu.Unlock()
		fn()
		return
	}
	first, second := ia, ib
	if first > second {
		first, second = second, first
	}
	m.buckets[first].mu.Lock()
	defer m.buckets[first].mu.Unlock()
	m.buckets[second].mu.Lock()
	defer m.buckets[second].mu.Unlock()
	fn()
}

// Len returns the total number of keys across all shards.
func (m *Map[V]) Len() int {
	total := 0
	for _, b := range m.buckets {
		b.mu.RLock()
		total += len(b.data)
		b.mu.RUnlock()
	}
	return total
}

// Keys returns a snapshot of every key, optionally restricted to those with
// the given prefix and capped at limit (0 = unbounded). Keys are collected
// shard by shard, taking one shard's RLock at a time (spec.md §4.B "dump
// yields ownership of snapshots of shard contents one shard at a time").
func (m *Map[V]) Keys(prefix string, limit int) []string {
	var out []string
	for _, b := range m.buckets {
		b.mu.RLock()
		for k := range b.data {
			if prefix != "" && !hasPrefix(k, prefix) {
				continue
			}
			out = append(out, k)
			if limit > 0 && len(out) >= limit {
				b.mu.RUnlock()
				return out
			}
		}
		b.mu.RUnlock()
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Dump streams every (key, value) pair to fn, one shard at a time, never
// holding more than one shard's lock simultaneously. Concurrent writers may
// proceed on other shards (or even the same shard, once Dump has moved past
// it); their effects land in the next Dump, never the current one retro-
// actively (spec.md §4.B, §4.H "streaming … no section is fully
// materialized in memory").
func (m *Map[V]) Dump(fn func(key string, v V) error) error {
	for _, b := range m.buckets {
		b.mu.RLock()
		snapshot := make(map[string]V, len(b.data))
		for k, v := range b.data {
			snapshot[k] = v
		}
		b.mu.RUnlock()

		keys := make([]string, 0, len(snapshot))
		for k := range snapshot {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := fn(k, snapshot[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

// RangeSample calls fn for up to `count` pseudo-random keys taken from a
// single shard chosen by the caller (bucketIndex mod N), returning the
// number visited. Used by the adaptive TTL sampler (internal/kv) to bound
// per-sweep cost instead of scanning the whole shard.
func (m *Map[V]) RangeSample(bucketIndex, count int, fn func(key string, v V)) int {
	b := m.buckets[bucketIndex%m.n]
	b.mu.RLock()
	defer b.mu.RUnlock()
	visited := 0
	for k, v := range b.data {
		if visited >= count {
			break
		}
		fn(k, v)
		visited++
	}
	return visited
}

// DeleteIf removes key if pred(value) reports true, returning whether a
// delete happened. Used for expiry-driven eviction so the check-then-delete
// is atomic under the shard lock.
func (m *Map[V]) DeleteIf(key string, pred func(v V) bool) bool {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok || !pred(v) {
		return false
	}
	delete(b.data, key)
	return true
}
