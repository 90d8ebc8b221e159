package set

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddRemIsMember(t *testing.T) {
	s := New(4)
	added, _ := s.Add(100, "k", [][]byte{[]byte("a"), []byte("b")})
	require.Equal(t, 2, added)
	require.True(t, s.IsMember("k", []byte("a")))

	removed, _ := s.Rem(100, "k", [][]byte{[]byte("a")})
	require.Equal(t, 1, removed)
	require.False(t, s.IsMember("k", []byte("a")))
}

func TestMove(t *testing.T) {
	s := New(4)
	s.Add(100, "src", [][]byte{[]byte("m")})
	moved, _ := s.Move(100, "src", "dst", []byte("m"))
	require.True(t, moved)
	require.False(t, s.IsMember("src", []byte("m")))
	require.True(t, s.IsMember("dst", []byte("m")))
}

func TestInterUnionDiff(t *testing.T) {
	s := New(4)
	s.Add(100, "a", [][]byte{[]byte("x"), []byte("y")})
	s.Add(100, "b", [][]byte{[]byte("y"), []byte("z")})

	require.ElementsMatch(t, [][]byte{[]byte("y")}, Inter(s, []string{"a", "b"}))
	require.ElementsMatch(t, [][]byte{[]byte("x"), []byte("y"), []byte("z")}, Union(s, []string{"a", "b"}))
	require.ElementsMatch(t, [][]byte{[]byte("x")}, Diff(s, []string{"a", "b"}))
}
