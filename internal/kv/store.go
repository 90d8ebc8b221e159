package kv

import (
	"strconv"
	"sync/atomic"

	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/storage"
)

// Config bounds a Store's memory footprint and names its eviction policy.
type Config struct {
	MaxBytes   int64 // 0 = unbounded
	ShardCount int
	Policy     PolicyKind
}

// Stats mirrors the counters spec.md §4.B requires a Store to expose.
type Stats struct {
	Keys    int64
	Bytes   int64
	Sets    int64
	Gets    int64
	Hits    int64
	Misses  int64
	Dels    int64
	Evicted int64
}

// Store is the sharded key/value engine (spec.md §4.B). All mutating
// methods return the op.Operation that reproduces the mutation, so
// internal/engine can forward it to the WAL and replication log without
// this package knowing either exists.
type Store struct {
	data   *storage.Map[StoredValue]
	policy Policy
	maxBytes int64

	bytes   int64
	sets    int64
	gets    int64
	hits    int64
	misses  int64
	dels    int64
	evicted int64
}

// New constructs a Store. A zero Config yields an unbounded LRU store with
// the default shard count.
func New(cfg Config) *Store {
	shardN := cfg.ShardCount
	if shardN <= 0 {
		shardN = storage.DefaultShardCount
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyLRU
	}
	return &Store{
		data:     storage.New[StoredValue](shardN),
		policy:   NewPolicy(policy, 0),
		maxBytes: cfg.MaxBytes,
	}
}

func sizeOf(key string, v StoredValue) int64 {
	return int64(len(key) + len(v.Data) + 16)
}

// Set stores value under key with an optional TTL in seconds. Returns the
// Operation reproducing the write.
func (s *Store) Set(now int64, key string, value []byte, ttlSecs *int64) op.Operation {
	nv := StoredValue{Data: value, ExpiresAt: newExpiry(now, ttlSecs)}
	var delta int64
	s.data.Mutate(key, func(cur StoredValue, ok bool) (StoredValue, bool) {
		if ok {
			delta -= sizeOf(key, cur)
		}
		delta += sizeOf(key, nv)
		return nv, true
	})
	atomic.AddInt64(&s.bytes, delta)
	atomic.AddInt64(&s.sets, 1)
	s.policy.OnInsert(key)
	s.evictIfOverLimit()

	return op.Operation{Kind: op.KindKVSet, Timestamp: now, Payload: &op.KVSetPayload{
		Key: key, Value: value, TTL: ttlSecs,
	}}
}

// Get returns the value for key, honoring lazy TTL expiry: an expired entry
// is deleted on access and reported as a miss.
func (s *Store) Get(now int64, key string) ([]byte, bool) {
	atomic.AddInt64(&s.gets, 1)
	v, ok := s.data.Get(key)
	if !ok {
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}
	if v.Expired(now) {
		s.removeExpired(key, v)
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&s.hits, 1)
	s.policy.OnAccess(key)
	return v.Data, true
}

// Exists reports presence without bumping hit/miss counters used for
// eviction heuristics other than policy access order.
func (s *Store) Exists(now int64, key string) bool {
	v, ok := s.data.Get(key)
	if !ok || v.Expired(now) {
		return false
	}
	return true
}

// Delete removes key if present, returning whether it existed and the
// Operation reproducing the deletion (nil if the key did not exist).
func (s *Store) Delete(now int64, key string) (bool, *op.Operation) {
	var removed StoredValue
	var existed bool
	s.data.Mutate(key, func(cur StoredValue, ok bool) (StoredValue, bool) {
		if ok {
			removed = cur
			existed = true
		}
		return StoredValue{}, false
	})
	if !existed {
		return false, nil
	}
	atomic.AddInt64(&s.bytes, -sizeOf(key, removed))
	atomic.AddInt64(&s.dels, 1)
	s.policy.OnRemove(key)
	o := op.Operation{Kind: op.KindKVDel, Timestamp: now, Payload: &op.KVDelPayload{Keys: []string{key}}}
	return true, &o
}

// Incr adds amount to the integer stored at key (default 0 if absent),
// storing and returning the new value as a decimal string, per spec.md
// §4.B's ErrTypeError-on-non-integer contract.
func (s *Store) Incr(now int64, key string, amount int64) (int64, op.Operation, error) {
	var result int64
	var mutErr error
	var delta int64
	s.data.Mutate(key, func(cur StoredValue, ok bool) (StoredValue, bool) {
		var base int64
		if ok {
			if cur.Expired(now) {
				base = 0
			} else {
				parsed, err := strconv.ParseInt(string(cur.Data), 10, 64)
				if err != nil {
					mutErr = op.ErrTypeError
					return cur, true
				}
				base = parsed
			}
			delta -= sizeOf(key, cur)
		}
		result = base + amount
		nv := StoredValue{Data: []byte(strconv.FormatInt(result, 10))}
		delta += sizeOf(key, nv)
		return nv, true
	})
	if mutErr != nil {
		return 0, op.Operation{}, mutErr
	}
	atomic.AddInt64(&s.bytes, delta)
	atomic.AddInt64(&s.sets, 1)
	s.policy.OnInsert(key)
	s.evictIfOverLimit()
	return result, op.Operation{Kind: op.KindKVIncr, Timestamp: now, Payload: &op.KVIncrPayload{
		Key: key, Amount: amount,
	}}, nil
}

// MSet stores every key/value pair, returning one Operation per pair (in
// map iteration order, which is not defined).
func (s *Store) MSet(now int64, pairs map[string][]byte) []op.Operation {
	ops := make([]op.Operation, 0, len(pairs))
	for k, v := range pairs {
		ops = append(ops, s.Set(now, k, v, nil))
	}
	return ops
}

// MGet returns the values present for keys, in the same order, with a
// parallel ok slice.
func (s *Store) MGet(now int64, keys []string) ([][]byte, []bool) {
	values := make([][]byte, len(keys))
	oks := make([]bool, len(keys))
	for i, k := range keys {
		values[i], oks[i] = s.Get(now, k)
	}
	return values, oks
}

// MDel deletes every key present, returning the count removed and the
// Operations reproducing each deletion.
func (s *Store) MDel(now int64, keys []string) (int, []op.Operation) {
	var n int
	ops := make([]op.Operation, 0, len(keys))
	for _, k := range keys {
		if existed, o := s.Delete(now, k); existed {
			n++
			ops = append(ops, *o)
		}
	}
	return n, ops
}

// Scan returns up to limit keys with the given prefix (""=all); limit<=0
// means unbounded. Expired keys are filtered out lazily but not deleted,
// matching the teacher's read-path cost tradeoff.
func (s *Store) Scan(now int64, prefix string, limit int) []string {
	candidates := s.data.Keys(prefix, 0)
	out := make([]string, 0, len(candidates))
	for _, k := range candidates {
		if limit > 0 && len(out) >= limit {
			break
		}
		v, ok := s.data.Get(k)
		if !ok || v.Expired(now) {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Keys returns every non-expired key.
func (s *Store) Keys(now int64) []string {
	return s.Scan(now, "", 0)
}

// DBSize returns the live key count (an upper bound, since lazily-expired
// keys are only reaped on access or by the TTL sampler).
func (s *Store) DBSize() int {
	return s.data.Len()
}

// TTL reports the remaining seconds for key: -1 never expires, -2 expired
// or absent, else seconds remaining.
func (s *Store) TTL(now int64, key string) int64 {
	v, ok := s.data.Get(key)
	if !ok {
		return -2
	}
	return v.TTLSeconds(now)
}

// Dump streams every live key/value pair in shard order, skipping expired
// entries, for use by internal/snapshot.
func (s *Store) Dump(now int64, fn func(key string, value []byte, expiresAt *int64) error) error {
	return s.data.Dump(func(key string, v StoredValue) error {
		if v.Expired(now) {
			return nil
		}
		return fn(key, v.Data, v.ExpiresAt)
	})
}

// Restore re-inserts a key/value pair verbatim (used by recovery replay),
// bypassing Operation generation since it is not itself a fresh mutation.
func (s *Store) Restore(key string, value []byte, expiresAt *int64) {
	nv := StoredValue{Data: value, ExpiresAt: expiresAt}
	var delta int64
	s.data.Mutate(key, func(cur StoredValue, ok bool) (StoredValue, bool) {
		if ok {
			delta -= sizeOf(key, cur)
		}
		delta += sizeOf(key, nv)
		return nv, true
	})
	atomic.AddInt64(&s.bytes, delta)
	s.policy.OnInsert(key)
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	return Stats{
		Keys:    int64(s.data.Len()),
		Bytes:   atomic.LoadInt64(&s.bytes),
		Sets:    atomic.LoadInt64(&s.sets),
		Gets:    atomic.LoadInt64(&s.gets),
		Hits:    atomic.LoadInt64(&s.hits),
		Misses:  atomic.LoadInt64(&s.misses),
		Dels:    atomic.LoadInt64(&s.dels),
		Evicted: atomic.LoadInt64(&s.evicted),
	}
}

func (s *Store) removeExpired(key string, v StoredValue) {
	if s.data.DeleteIf(key, func(cur StoredValue) bool { return cur.ExpiresAt == v.ExpiresAt }) {
		atomic.AddInt64(&s.bytes, -sizeOf(key, v))
		s.policy.OnRemove(key)
	}
}

// evictIfOverLimit asks the policy for victims until the store is back
// under its configured ceiling. Unbounded stores (MaxBytes<=0) never evict.
func (s *Store) evictIfOverLimit() {
	if s.maxBytes <= 0 {
		return
	}
	for atomic.LoadInt64(&s.bytes) > s.maxBytes {
		key, ok := s.policy.Evict()
		if !ok {
			return
		}
		v, ok := s.data.Get(key)
		if !ok {
			continue
		}
		s.data.Delete(key)
		atomic.AddInt64(&s.bytes, -sizeOf(key, v))
		atomic.AddInt64(&s.evicted, 1)
	}
}
