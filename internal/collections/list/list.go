// Package list implements spec.md §4.C's list collection: an ordered
// sequence of byte strings supporting push/pop from either end, indexed
// access, trim, element removal, and an atomic cross-key rpoplpush.
package list

import (
	"bytes"
	"container/list"

	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/storage"
)

// Store is the sharded list collection store.
type Store struct {
	data *storage.Map[*list.List]
}

func New(shardCount int) *Store {
	return &Store{data: storage.New[*list.List](shardCount)}
}

// Push inserts values at the head (left=true) or tail (left=false),
// returning the new length and the Operation reproducing the write.
func (s *Store) Push(now int64, key string, values [][]byte, left bool) (int, op.Operation) {
	var length int
	s.data.Mutate(key, func(cur *list.List, ok bool) (*list.List, bool) {
		if !ok {
			cur = list.New()
		}
		for _, v := range values {
			if left {
				cur.PushFront(v)
			} else {
				cur.PushBack(v)
			}
		}
		length = cur.Len()
		return cur, true
	})
	return length, op.Operation{Kind: op.KindListPush, Timestamp: now, Payload: &op.ListPushPayload{
		Key: key, Values: values, Left: left,
	}}
}

// Pop removes up to count elements from the head or tail, returning the
// popped values (in pop order) and the Operation reproducing the removal.
// An empty collection after a pop is deleted from storage.
func (s *Store) Pop(now int64, key string, left bool, count int) ([][]byte, op.Operation) {
	var popped [][]byte
	s.data.Mutate(key, func(cur *list.List, ok bool) (*list.List, bool) {
		if !ok {
			return cur, false
		}
		for i := 0; i < count && cur.Len() > 0; i++ {
			var e *list.Element
			if left {
				e = cur.Front()
			} else {
				e = cur.Back()
			}
			popped = append(popped, e.Value.([]byte))
			cur.Remove(e)
		}
		return cur, cur.Len() > 0
	})
	return popped, op.Operation{Kind: op.KindListPop, Timestamp: now, Payload: &op.ListPopPayload{
		Key: key, Left: left, Count: count,
	}}
}

// Set replaces the value at index (negative indexes count from the tail),
// returning whether the index was in range.
func (s *Store) Set(now int64, key string, index int, value []byte) (bool, op.Operation) {
	var found bool
	s.data.Mutate(key, func(cur *list.List, ok bool) (*list.List, bool) {
		if !ok {
			return cur, false
		}
		e := elementAt(cur, index)
		if e == nil {
			return cur, true
		}
		e.Value = value
		found = true
		return cur, true
	})
	return found, op.Operation{Kind: op.KindListSet, Timestamp: now, Payload: &op.ListSetPayload{
		Key: key, Index: index, Value: value,
	}}
}

// Trim keeps only the elements in range [start, stop] inclusive (both may
// be negative, counting from the tail), discarding the rest. An empty
// result deletes the key.
func (s *Store) Trim(now int64, key string, start, stop int) op.Operation {
	s.data.Mutate(key, func(cur *list.List, ok bool) (*list.List, bool) {
		if !ok {
			return cur, false
		}
		n := cur.Len()
		lo, hi := normalizeRange(start, stop, n)
		if lo > hi {
			return list.New(), false
		}
		out := list.New()
		i := 0
		for e := cur.Front(); e != nil; e = e.Next() {
			if i >= lo && i <= hi {
				out.PushBack(e.Value)
			}
			i++
		}
		return out, out.Len() > 0
	})
	return op.Operation{Kind: op.KindListTrim, Timestamp: now, Payload: &op.ListTrimPayload{
		Key: key, Start: start, Stop: stop,
	}}
}

// Rem removes up to count occurrences of value. count>0 removes from head
// to tail, count<0 from tail to head, count==0 removes all occurrences.
// Returns the number removed and the Operation reproducing the removal.
func (s *Store) Rem(now int64, key string, count int, value []byte) (int, op.Operation) {
	var removed int
	s.data.Mutate(key, func(cur *list.List, ok bool) (*list.List, bool) {
		if !ok {
			return cur, false
		}
		limit := count
		if limit < 0 {
			limit = -limit
		}
		if count >= 0 {
			for e := cur.Front(); e != nil; {
				next := e.Next()
				if (count == 0 || removed < limit) && bytes.Equal(e.Value.([]byte), value) {
					cur.Remove(e)
					removed++
				}
				e = next
			}
		} else {
			for e := cur.Back(); e != nil; {
				prev := e.Prev()
				if removed < limit && bytes.Equal(e.Value.([]byte), value) {
					cur.Remove(e)
					removed++
				}
				e = prev
			}
		}
		return cur, cur.Len() > 0
	})
	return removed, op.Operation{Kind: op.KindListRem, Timestamp: now, Payload: &op.ListRemPayload{
		Key: key, Count: count, Value: value,
	}}
}

// Insert places value immediately before or after the first occurrence of
// pivot, returning the new length, or -1 if pivot was not found.
func (s *Store) Insert(now int64, key string, pivot, value []byte, before bool) (int, op.Operation) {
	length := -1
	s.data.Mutate(key, func(cur *list.List, ok bool) (*list.List, bool) {
		if !ok {
			return cur, false
		}
		for e := cur.Front(); e != nil; e = e.Next() {
			if bytes.Equal(e.Value.([]byte), pivot) {
				if before {
					cur.InsertBefore(value, e)
				} else {
					cur.InsertAfter(value, e)
				}
				length = cur.Len()
				break
			}
		}
		return cur, true
	})
	return length, op.Operation{Kind: op.KindListInsert, Timestamp: now, Payload: &op.ListInsertPayload{
		Key: key, Pivot: pivot, Value: value, Before: before,
	}}
}

// Rpoplpush atomically pops the tail of source and pushes it to the head
// of destination, returning the moved value (nil if source was empty). It
// locks both keys' shards in a fixed order via storage.Map.WithTwoKeys so
// concurrent moves in opposite directions never deadlock.
func (s *Store) Rpoplpush(now int64, source, destination string) ([]byte, op.Operation) {
	var moved []byte
	s.data.WithTwoKeys(source, destination, func() {
		src, ok := s.data.Get(source)
		if !ok || src.Len() == 0 {
			return
		}
		e := src.Back()
		moved = e.Value.([]byte)
		src.Remove(e)
		if src.Len() == 0 {
			s.data.Delete(source)
		} else {
			s.data.Set(source, src)
		}

		dst, ok := s.data.Get(destination)
		if !ok {
			dst = list.New()
		}
		dst.PushFront(moved)
		s.data.Set(destination, dst)
	})
	return moved, op.Operation{Kind: op.KindListRpoplpush, Timestamp: now, Payload: &op.ListRpoplpushPayload{
		Source: source, Destination: destination,
	}}
}

// Range returns the elements between start and stop inclusive (negative
// indexes count from the tail).
func (s *Store) Range(key string, start, stop int) [][]byte {
	cur, ok := s.data.Get(key)
	if !ok {
		return nil
	}
	n := cur.Len()
	lo, hi := normalizeRange(start, stop, n)
	if lo > hi {
		return nil
	}
	out := make([][]byte, 0, hi-lo+1)
	i := 0
	for e := cur.Front(); e != nil; e = e.Next() {
		if i >= lo && i <= hi {
			out = append(out, e.Value.([]byte))
		}
		i++
	}
	return out
}

// Len returns the number of elements in the list at key.
func (s *Store) Len(key string) int {
	cur, ok := s.data.Get(key)
	if !ok {
		return 0
	}
	return cur.Len()
}

func elementAt(l *list.List, index int) *list.Element {
	n := l.Len()
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return nil
	}
	e := l.Front()
	for i := 0; i < index; i++ {
		e = e.Next()
	}
	return e
}

func normalizeRange(start, stop, n int) (int, int) {
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
	return start, stop
}
