package list

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushPop(t *testing.T) {
	s := New(4)
	n, _ := s.Push(100, "k", [][]byte{[]byte("a"), []byte("b")}, false)
	require.Equal(t, 2, n)

	popped, _ := s.Pop(100, "k", true, 1)
	require.Equal(t, [][]byte{[]byte("a")}, popped)
}

func TestSetAndRange(t *testing.T) {
	s := New(4)
	s.Push(100, "k", [][]byte{[]byte("a"), []byte("b"), []byte("c")}, false)
	ok, _ := s.Set(100, "k", 1, []byte("x"))
	require.True(t, ok)
	require.Equal(t, [][]byte{[]byte("a"), []byte("x"), []byte("c")}, s.Range("k", 0, -1))
}

func TestTrim(t *testing.T) {
	s := New(4)
	s.Push(100, "k", [][]byte{[]byte("a"), []byte("b"), []byte("c")}, false)
	s.Trim(100, "k", 0, 1)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, s.Range("k", 0, -1))
}

func TestRem(t *testing.T) {
	s := New(4)
	s.Push(100, "k", [][]byte{[]byte("a"), []byte("b"), []byte("a")}, false)
	removed, _ := s.Rem(100, "k", 0, []byte("a"))
	require.Equal(t, 2, removed)
	require.Equal(t, [][]byte{[]byte("b")}, s.Range("k", 0, -1))
}

func TestInsert(t *testing.T) {
	s := New(4)
	s.Push(100, "k", [][]byte{[]byte("a"), []byte("c")}, false)
	length, _ := s.Insert(100, "k", []byte("c"), []byte("b"), true)
	require.Equal(t, 3, length)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, s.Range("k", 0, -1))
}

func TestRpoplpush(t *testing.T) {
	s := New(4)
	s.Push(100, "src", [][]byte{[]byte("a"), []byte("b")}, false)
	moved, _ := s.Rpoplpush(100, "src", "dst")
	require.Equal(t, []byte("b"), moved)
	require.Equal(t, [][]byte{[]byte("a")}, s.Range("src", 0, -1))
	require.Equal(t, [][]byte{[]byte("b")}, s.Range("dst", 0, -1))
}
