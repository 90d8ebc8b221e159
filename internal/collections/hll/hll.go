// Package hll implements spec.md §4.C's HyperLogLog collection: a
// probabilistic cardinality estimator stored as a fixed-size dense
// register array, addable and mergeable without ever holding the full
// original element set.
package hll

import (
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/storage"
)

const (
	precision  = 14
	numRegisters = 1 << precision // 16384, matches Redis's dense HLL encoding
)

type registers [numRegisters]uint8

// Store is the sharded HyperLogLog collection store.
type Store struct {
	data *storage.Map[*registers]
}

func New(shardCount int) *Store {
	return &Store{data: storage.New[*registers](shardCount)}
}

func rankOf(hash uint64) uint8 {
	// Top `precision` bits select the register; the rank is the position
	// of the first set bit among the remaining bits, counted from 1.
	rest := hash << precision
	if rest == 0 {
		return uint8(64 - precision + 1)
	}
	rank := uint8(1)
	for rest&(1<<63) == 0 {
		rank++
		rest <<= 1
	}
	return rank
}

// Add inserts elements into the estimator at key, returning whether the
// estimate changed (any register was raised) and the Operation reproducing
// the write.
func (s *Store) Add(now int64, key string, elements [][]byte) (bool, op.Operation) {
	var changed bool
	s.data.Mutate(key, func(cur *registers, ok bool) (*registers, bool) {
		if !ok {
			cur = &registers{}
		}
		for _, el := range elements {
			h := xxhash.Sum64(el)
			idx := h >> (64 - precision)
			r := rankOf(h)
			if r > cur[idx] {
				cur[idx] = r
				changed = true
			}
		}
		return cur, true
	})
	return changed, op.Operation{Kind: op.KindPFAdd, Timestamp: now, Payload: &op.PFAddPayload{
		Key: key, Elements: elements,
	}}
}

// Count returns the estimated cardinality of the estimator at key, using
// the standard HyperLogLog harmonic-mean estimator with the small-range
// (linear counting) correction; no large-range correction is applied.
func (s *Store) Count(key string) int64 {
	cur, ok := s.data.Get(key)
	if !ok {
		return 0
	}
	return estimate(cur)
}

func estimate(regs *registers) int64 {
	m := float64(numRegisters)
	sum := 0.0
	zeros := 0
	for _, r := range regs {
		sum += 1.0 / float64(uint64(1)<<r)
		if r == 0 {
			zeros++
		}
	}
	alpha := 0.7213 / (1 + 1.079/m)
	raw := alpha * m * m / sum

	if raw <= 2.5*m && zeros > 0 {
		return int64(m * math.Log(m/float64(zeros)))
	}
	return int64(raw)
}

// Merge computes the union of the source estimators' registers (taking the
// max per register, HLL's defining merge property) and stores it at
// destination, returning the Operation reproducing the write.
func (s *Store) Merge(now int64, destination string, sources []string) op.Operation {
	merged := &registers{}
	for _, src := range sources {
		cur, ok := s.data.Get(src)
		if !ok {
			continue
		}
		for i, r := range cur {
			if r > merged[i] {
				merged[i] = r
			}
		}
	}
	s.data.Set(destination, merged)
	return op.Operation{Kind: op.KindPFMerge, Timestamp: now, Payload: &op.PFMergePayload{
		Destination: destination, Sources: sources,
	}}
}
