package zset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddRemIncrBy(t *testing.T) {
	s := New(4)
	added, _ := s.Add(100, "k", map[string]float64{"a": 1, "b": 2})
	require.Equal(t, 2, added)

	score, _ := s.IncrBy(100, "k", "a", 5)
	require.Equal(t, 6.0, score)

	removed, _ := s.Rem(100, "k", []string{"b"})
	require.Equal(t, 1, removed)
	require.Equal(t, 1, s.Len("k"))
}

func TestRangeOrdering(t *testing.T) {
	s := New(4)
	s.Add(100, "k", map[string]float64{"a": 3, "b": 1, "c": 2})
	entries := s.Range("k", 0, -1)
	require.Equal(t, []string{"b", "c", "a"}, []string{entries[0].Member, entries[1].Member, entries[2].Member})
}

func TestRangeByScore(t *testing.T) {
	s := New(4)
	s.Add(100, "k", map[string]float64{"a": 1, "b": 5, "c": 10})
	entries := s.RangeByScore("k", 2, 9)
	require.Len(t, entries, 1)
	require.Equal(t, "b", entries[0].Member)
}

func TestPopMinMax(t *testing.T) {
	s := New(4)
	s.Add(100, "k", map[string]float64{"a": 1, "b": 2, "c": 3})
	popped, _ := s.Pop(100, "k", true, 1)
	require.Equal(t, "a", popped[0].Member)

	popped, _ = s.Pop(100, "k", false, 1)
	require.Equal(t, "c", popped[0].Member)
}
