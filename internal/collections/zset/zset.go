// Package zset implements spec.md §4.C's sorted-set collection: members
// with float64 scores, ordered by (score, member) for deterministic rank
// and range queries.
package zset

import (
	"sort"

	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/storage"
)

type scores map[string]float64

// Store is the sharded sorted-set collection store.
type Store struct {
	data *storage.Map[scores]
}

func New(shardCount int) *Store {
	return &Store{data: storage.New[scores](shardCount)}
}

// Entry pairs a member with its score, in sorted order for range results.
type Entry struct {
	Member string
	Score  float64
}

// Add upserts the given member/score pairs, returning the count of members
// newly added (not merely updated) and the Operation reproducing the
// write.
func (s *Store) Add(now int64, key string, values map[string]float64) (int, op.Operation) {
	var added int
	s.data.Mutate(key, func(cur scores, ok bool) (scores, bool) {
		if !ok {
			cur = make(scores, len(values))
		}
		for m, sc := range values {
			if _, exists := cur[m]; !exists {
				added++
			}
			cur[m] = sc
		}
		return cur, true
	})
	return added, op.Operation{Kind: op.KindZAdd, Timestamp: now, Payload: &op.ZAddPayload{
		Key: key, Members: values,
	}}
}

// Rem removes the given members, returning the count removed.
func (s *Store) Rem(now int64, key string, members []string) (int, op.Operation) {
	var removed int
	s.data.Mutate(key, func(cur scores, ok bool) (scores, bool) {
		if !ok {
			return cur, false
		}
		for _, m := range members {
			if _, exists := cur[m]; exists {
				delete(cur, m)
				removed++
			}
		}
		return cur, len(cur) > 0
	})
	return removed, op.Operation{Kind: op.KindZRem, Timestamp: now, Payload: &op.ZRemPayload{
		Key: key, Members: members,
	}}
}

// IncrBy adds delta to member's score (default 0), returning the new
// score.
func (s *Store) IncrBy(now int64, key, member string, delta float64) (float64, op.Operation) {
	var result float64
	s.data.Mutate(key, func(cur scores, ok bool) (scores, bool) {
		if !ok {
			cur = make(scores)
		}
		result = cur[member] + delta
		cur[member] = result
		return cur, true
	})
	return result, op.Operation{Kind: op.KindZIncrBy, Timestamp: now, Payload: &op.ZIncrByPayload{
		Key: key, Member: member, Delta: delta,
	}}
}

// Score returns the score of member, if present.
func (s *Store) Score(key, member string) (float64, bool) {
	m, ok := s.data.Get(key)
	if !ok {
		return 0, false
	}
	sc, ok := m[member]
	return sc, ok
}

// Len returns the cardinality of the sorted set at key.
func (s *Store) Len(key string) int {
	m, ok := s.data.Get(key)
	if !ok {
		return 0
	}
	return len(m)
}

func sorted(m scores) []Entry {
	out := make([]Entry, 0, len(m))
	for member, sc := range m {
		out = append(out, Entry{Member: member, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

// Range returns entries by rank [start, stop] inclusive (negative indexes
// count from the highest rank), ascending by score.
func (s *Store) Range(key string, start, stop int) []Entry {
	m, ok := s.data.Get(key)
	if !ok {
		return nil
	}
	all := sorted(m)
	n := len(all)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil
	}
	return all[start : stop+1]
}

// RangeByScore returns entries with score in [min, max], ascending.
func (s *Store) RangeByScore(key string, min, max float64) []Entry {
	m, ok := s.data.Get(key)
	if !ok {
		return nil
	}
	all := sorted(m)
	var out []Entry
	for _, e := range all {
		if e.Score >= min && e.Score <= max {
			out = append(out, e)
		}
	}
	return out
}

// Pop removes and returns up to n entries from the low (min=true) or high
// (min=false) end, returning the Operation reproducing the removal.
func (s *Store) Pop(now int64, key string, min bool, n int) ([]Entry, op.Operation) {
	var popped []Entry
	s.data.Mutate(key, func(cur scores, ok bool) (scores, bool) {
		if !ok {
			return cur, false
		}
		all := sorted(cur)
		if !min {
			for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
				all[i], all[j] = all[j], all[i]
			}
		}
		if n > len(all) {
			n = len(all)
		}
		popped = all[:n]
		for _, e := range popped {
			delete(cur, e.Member)
		}
		return cur, len(cur) > 0
	})
	return popped, op.Operation{Kind: op.KindZPop, Timestamp: now, Payload: &op.ZPopPayload{
		Key: key, Min: min, N: n,
	}}
}
