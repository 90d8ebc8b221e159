package hll

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndCountApproximate(t *testing.T) {
	s := New(4)
	elements := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		elements = append(elements, []byte(fmt.Sprintf("elem-%d", i)))
	}
	s.Add(100, "k", elements)

	count := s.Count("k")
	require.InDelta(t, 1000, count, 100) // HLL standard error is a few percent
}

func TestMergeIsUnion(t *testing.T) {
	s := New(4)
	a := make([][]byte, 0, 500)
	for i := 0; i < 500; i++ {
		a = append(a, []byte(fmt.Sprintf("a-%d", i)))
	}
	b := make([][]byte, 0, 500)
	for i := 0; i < 500; i++ {
		b = append(b, []byte(fmt.Sprintf("b-%d", i)))
	}
	s.Add(100, "a", a)
	s.Add(100, "b", b)
	s.Merge(100, "dst", []string{"a", "b"})

	require.InDelta(t, 1000, s.Count("dst"), 150)
}

func TestEmptyEstimatorCountsZero(t *testing.T) {
	s := New(4)
	require.Equal(t, int64(0), s.Count("missing"))
}
