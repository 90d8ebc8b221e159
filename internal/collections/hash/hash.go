// Package hash implements spec.md §4.C's hash collection: a map of field
// to byte-string value stored under one top-level key, sharded the same
// way internal/kv shards its keys.
package hash

import (
	"strconv"

	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/storage"
)

type fields map[string][]byte

// Store is the sharded hash collection store.
type Store struct {
	data *storage.Map[fields]
}

func New(shardCount int) *Store {
	return &Store{data: storage.New[fields](shardCount)}
}

// Set upserts the given field/value pairs, returning the Operation that
// reproduces the write and the count of fields that were newly created.
func (s *Store) Set(now int64, key string, values map[string][]byte) (int, op.Operation) {
	var created int
	s.data.Mutate(key, func(cur fields, ok bool) (fields, bool) {
		if !ok {
			cur = make(fields, len(values))
		}
		for f, v := range values {
			if _, exists := cur[f]; !exists {
				created++
			}
			cur[f] = v
		}
		return cur, true
	})
	return created, op.Operation{Kind: op.KindHashSet, Timestamp: now, Payload: &op.HashSetPayload{
		Key: key, Fields: values,
	}}
}

// Get returns the value for one field.
func (s *Store) Get(key, field string) ([]byte, bool) {
	m, ok := s.data.Get(key)
	if !ok {
		return nil, false
	}
	v, ok := m[field]
	return v, ok
}

// GetAll returns every field/value pair.
func (s *Store) GetAll(key string) map[string][]byte {
	m, ok := s.data.Get(key)
	if !ok {
		return nil
	}
	out := make(map[string][]byte, len(m))
	for f, v := range m {
		out[f] = v
	}
	return out
}

// Del removes the given fields, returning the count removed and the
// Operation reproducing the deletion. Deleting the last field removes the
// key entirely, mirroring spec.md's "empty collection disappears" rule.
func (s *Store) Del(now int64, key string, fieldNames []string) (int, op.Operation) {
	var removed int
	s.data.Mutate(key, func(cur fields, ok bool) (fields, bool) {
		if !ok {
			return cur, false
		}
		for _, f := range fieldNames {
			if _, exists := cur[f]; exists {
				delete(cur, f)
				removed++
			}
		}
		return cur, len(cur) > 0
	})
	return removed, op.Operation{Kind: op.KindHashDel, Timestamp: now, Payload: &op.HashDelPayload{
		Key: key, Fields: fieldNames,
	}}
}

// IncrBy adds amount to the integer stored at field (default 0), returning
// the new value. Non-integer contents return op.ErrTypeError.
func (s *Store) IncrBy(now int64, key, field string, amount int64) (int64, op.Operation, error) {
	var result int64
	var mutErr error
	s.data.Mutate(key, func(cur fields, ok bool) (fields, bool) {
		if !ok {
			cur = make(fields)
		}
		base := int64(0)
		if raw, exists := cur[field]; exists {
			parsed, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				mutErr = op.ErrTypeError
				return cur, true
			}
			base = parsed
		}
		result = base + amount
		cur[field] = []byte(strconv.FormatInt(result, 10))
		return cur, true
	})
	if mutErr != nil {
		return 0, op.Operation{}, mutErr
	}
	return result, op.Operation{Kind: op.KindHashIncrBy, Timestamp: now, Payload: &op.HashIncrByPayload{
		Key: key, Field: field, Amount: amount,
	}}, nil
}

// IncrByFloat is IncrBy's float64 counterpart.
func (s *Store) IncrByFloat(now int64, key, field string, amount float64) (float64, op.Operation, error) {
	var result float64
	var mutErr error
	s.data.Mutate(key, func(cur fields, ok bool) (fields, bool) {
		if !ok {
			cur = make(fields)
		}
		base := 0.0
		if raw, exists := cur[field]; exists {
			parsed, err := strconv.ParseFloat(string(raw), 64)
			if err != nil {
				mutErr = op.ErrTypeError
				return cur, true
			}
			base = parsed
		}
		result = base + amount
		cur[field] = []byte(strconv.FormatFloat(result, 'f', -1, 64))
		return cur, true
	})
	if mutErr != nil {
		return 0, op.Operation{}, mutErr
	}
	return result, op.Operation{Kind: op.KindHashIncrByFloat, Timestamp: now, Payload: &op.HashIncrByFloatPayload{
		Key: key, Field: field, Amount: amount,
	}}, nil
}

// Len returns the number of fields in the hash at key.
func (s *Store) Len(key string) int {
	m, ok := s.data.Get(key)
	if !ok {
		return 0
	}
	return len(m)
}

// Exists reports whether field is present in the hash at key.
func (s *Store) Exists(key, field string) bool {
	_, ok := s.Get(key, field)
	return ok
}
