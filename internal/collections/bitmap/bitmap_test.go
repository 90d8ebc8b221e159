package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/synaplabs/synap/internal/op"
)

func TestSetGetBit(t *testing.T) {
	s := New(4)
	prev, _ := s.SetBit(100, "k", 7, true)
	require.False(t, prev)
	require.True(t, s.GetBit("k", 7))
	require.False(t, s.GetBit("k", 6))
}

func TestCount(t *testing.T) {
	s := New(4)
	s.SetBit(100, "k", 0, true)
	s.SetBit(100, "k", 1, true)
	s.SetBit(100, "k", 9, true)
	require.Equal(t, 3, s.Count("k"))
}

func TestBitOpAnd(t *testing.T) {
	s := New(4)
	s.SetBit(100, "a", 0, true)
	s.SetBit(100, "a", 1, true)
	s.SetBit(100, "b", 0, true)

	n, _ := s.BitOp(100, "AND", "dst", []string{"a", "b"})
	require.Equal(t, 1, n)
	require.True(t, s.GetBit("dst", 0))
	require.False(t, s.GetBit("dst", 1))
}

func TestBitFieldSetGetIncrBy(t *testing.T) {
	s := New(4)
	results, _ := s.BitField(100, "k", []op.BitFieldSubOp{
		{Kind: "SET", Width: 8, Offset: 0, Value: 10, Overflow: "WRAP"},
		{Kind: "GET", Width: 8, Offset: 0},
		{Kind: "INCRBY", Width: 8, Offset: 0, Value: 5, Overflow: "WRAP"},
	})
	require.Equal(t, int64(0), results[0])
	require.Equal(t, int64(10), results[1])
	require.Equal(t, int64(15), results[2])
}

func TestBitFieldOverflowSat(t *testing.T) {
	s := New(4)
	results, _ := s.BitField(100, "k", []op.BitFieldSubOp{
		{Kind: "SET", Width: 8, Offset: 0, Value: 250, Signed: false, Overflow: "WRAP"},
		{Kind: "INCRBY", Width: 8, Offset: 0, Value: 100, Signed: false, Overflow: "SAT"},
	})
	require.Equal(t, int64(255), results[1])
}
