package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashSetGetDel(t *testing.T) {
	s := New(4)
	created, _ := s.Set(100, "user:1", map[string][]byte{"name": []byte("a")})
	require.Equal(t, 1, created)

	v, ok := s.Get("user:1", "name")
	require.True(t, ok)
	require.Equal(t, []byte("a"), v)

	removed, _ := s.Del(100, "user:1", []string{"name"})
	require.Equal(t, 1, removed)
	require.Equal(t, 0, s.Len("user:1"))
}

func TestHashIncrBy(t *testing.T) {
	s := New(4)
	v, _, err := s.IncrBy(100, "k", "count", 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)

	v, _, err = s.IncrBy(100, "k", "count", -1)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
}

func TestHashIncrByTypeError(t *testing.T) {
	s := New(4)
	s.Set(100, "k", map[string][]byte{"f": []byte("nope")})
	_, _, err := s.IncrBy(100, "k", "f", 1)
	require.Error(t, err)
}
