// Package set implements spec.md §4.C's set collection: an unordered
// collection of unique byte-string members, with an atomic cross-key move.
package set

import (
	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/storage"
)

type members map[string]struct{}

// Store is the sharded set collection store.
type Store struct {
	data *storage.Map[members]
}

func New(shardCount int) *Store {
	return &Store{data: storage.New[members](shardCount)}
}

// Add inserts the given members, returning the count newly added and the
// Operation reproducing the write.
func (s *Store) Add(now int64, key string, values [][]byte) (int, op.Operation) {
	var added int
	s.data.Mutate(key, func(cur members, ok bool) (members, bool) {
		if !ok {
			cur = make(members, len(values))
		}
		for _, v := range values {
			k := string(v)
			if _, exists := cur[k]; !exists {
				cur[k] = struct{}{}
				added++
			}
		}
		return cur, true
	})
	return added, op.Operation{Kind: op.KindSetAdd, Timestamp: now, Payload: &op.SetAddPayload{
		Key: key, Members: values,
	}}
}

// Rem removes the given members, returning the count removed. An empty set
// afterward deletes the key.
func (s *Store) Rem(now int64, key string, values [][]byte) (int, op.Operation) {
	var removed int
	s.data.Mutate(key, func(cur members, ok bool) (members, bool) {
		if !ok {
			return cur, false
		}
		for _, v := range values {
			k := string(v)
			if _, exists := cur[k]; exists {
				delete(cur, k)
				removed++
			}
		}
		return cur, len(cur) > 0
	})
	return removed, op.Operation{Kind: op.KindSetRem, Timestamp: now, Payload: &op.SetRemPayload{
		Key: key, Members: values,
	}}
}

// IsMember reports whether value belongs to the set at key.
func (s *Store) IsMember(key string, value []byte) bool {
	m, ok := s.data.Get(key)
	if !ok {
		return false
	}
	_, exists := m[string(value)]
	return exists
}

// Members returns every member of the set at key.
func (s *Store) Members(key string) [][]byte {
	m, ok := s.data.Get(key)
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(m))
	for k := range m {
		out = append(out, []byte(k))
	}
	return out
}

// Len returns the cardinality of the set at key.
func (s *Store) Len(key string) int {
	m, ok := s.data.Get(key)
	if !ok {
		return 0
	}
	return len(m)
}

// Move atomically removes member from source and adds it to destination,
// reporting whether it was present in source. Locks both keys' shards in a
// fixed order via storage.Map.WithTwoKeys to avoid deadlock against a
// concurrent move in the opposite direction.
func (s *Store) Move(now int64, source, destination string, member []byte) (bool, op.Operation) {
	var moved bool
	s.data.WithTwoKeys(source, destination, func() {
		src, ok := s.data.Get(source)
		if !ok {
			return
		}
		k := string(member)
		if _, exists := src[k]; !exists {
			return
		}
		delete(src, k)
		moved = true
		if len(src) == 0 {
			s.data.Delete(source)
		} else {
			s.data.Set(source, src)
		}

		dst, ok := s.data.Get(destination)
		if !ok {
			dst = make(members, 1)
		}
		dst[k] = struct{}{}
		s.data.Set(destination, dst)
	})
	return moved, op.Operation{Kind: op.KindSetMove, Timestamp: now, Payload: &op.SetMovePayload{
		Source: source, Destination: destination, Member: member,
	}}
}

// Inter returns the intersection of the sets at the given keys.
func Inter(s *Store, keys []string) [][]byte {
	if len(keys) == 0 {
		return nil
	}
	base, ok := s.data.Get(keys[0])
	if !ok {
		return nil
	}
	result := make(members, len(base))
	for k := range base {
		result[k] = struct{}{}
	}
	for _, key := range keys[1:] {
		m, ok := s.data.Get(key)
		if !ok {
			return nil
		}
		for k := range result {
			if _, exists := m[k]; !exists {
				delete(result, k)
			}
		}
	}
	out := make([][]byte, 0, len(result))
	for k := range result {
		out = append(out, []byte(k))
	}
	return out
}

// Union returns the union of the sets at the given keys.
func Union(s *Store, keys []string) [][]byte {
	result := make(members)
	for _, key := range keys {
		m, ok := s.data.Get(key)
		if !ok {
			continue
		}
		for k := range m {
			result[k] = struct{}{}
		}
	}
	out := make([][]byte, 0, len(result))
	for k := range result {
		out = append(out, []byte(k))
	}
	return out
}

// Diff returns the members of the set at keys[0] not present in any other
// key's set.
func Diff(s *Store, keys []string) [][]byte {
	if len(keys) == 0 {
		return nil
	}
	base, ok := s.data.Get(keys[0])
	if !ok {
		return nil
	}
	result := make(members, len(base))
	for k := range base {
		result[k] = struct{}{}
	}
	for _, key := range keys[1:] {
		m, ok := s.data.Get(key)
		if !ok {
			continue
		}
		for k := range m {
			delete(result, k)
		}
	}
	out := make([][]byte, 0, len(result))
	for k := range result {
		out = append(out, []byte(k))
	}
	return out
}
