// Package txn implements spec.md §4.K's transaction manager: per-key
// version counters plus per-client WATCH/MULTI/EXEC/DISCARD state, giving
// single-node optimistic transactions without cross-shard locking.
package txn

import (
	"sync"

	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/storage"
)

// Tracker holds a monotonic version counter per key, bumped by every
// mutating operation the engine applies. internal/engine calls Bump after
// each successful write so WATCHed keys can be checked at EXEC time.
type Tracker struct {
	versions *storage.Map[uint64]
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{versions: storage.New[uint64](storage.DefaultShardCount)}
}

// Bump increments key's version, creating it at 1 if absent.
func (t *Tracker) Bump(key string) {
	t.versions.Mutate(key, func(cur uint64, ok bool) (uint64, bool) {
		return cur + 1, true
	})
}

// Version returns key's current version (0 if never bumped).
func (t *Tracker) Version(key string) uint64 {
	v, _ := t.versions.Get(key)
	return v
}

// QueuedOp is one command queued while a Session is in MULTI mode, paired
// with the Apply call the engine will invoke for it at EXEC time.
type QueuedOp struct {
	Operation op.Operation
	Apply     func() (any, error)
}

// Session is one client's transaction state: WATCH/MULTI/EXEC/DISCARD are
// all methods on a Session, never shared across clients.
type Session struct {
	inTx    bool
	watched map[string]uint64
	queue   []QueuedOp
}

// NewSession constructs a fresh, non-transactional Session.
func NewSession() *Session {
	return &Session{watched: make(map[string]uint64)}
}

// Watch snapshots each key's current version. WATCH outside MULTI is valid
// per spec.md §4.K (it primes state for a MULTI/EXEC that follows).
func (s *Session) Watch(tracker *Tracker, keys ...string) {
	for _, k := range keys {
		s.watched[k] = tracker.Version(k)
	}
}

// Multi enters transaction mode: subsequent Queue calls buffer instead of
// executing immediately.
func (s *Session) Multi() {
	s.inTx = true
	s.queue = s.queue[:0]
}

// InTransaction reports whether Multi has been called without a matching
// Exec/Discard yet.
func (s *Session) InTransaction() bool { return s.inTx }

// Queue buffers one operation for EXEC; callers outside MULTI mode should
// not call this (the front end is responsible for routing non-transactional
// commands directly to the store instead).
func (s *Session) Queue(operation op.Operation, apply func() (any, error)) {
	s.queue = append(s.queue, QueuedOp{Operation: operation, Apply: apply})
}

// Discard abandons MULTI mode and drops the queue without applying it.
func (s *Session) Discard() {
	s.inTx = false
	s.queue = nil
	s.watched = make(map[string]uint64)
}

// execMu serializes EXEC across all sessions. Per spec.md §4.K transactions
// are single-node and apply under "an exclusive shard lock per shard
// touched, in shard-id order"; a single process-wide mutex here is a
// coarser but equivalent way to get that exclusivity without threading
// per-shard lock order through every store type EXEC might touch.
var execMu sync.Mutex

// Exec verifies every watched key's version is unchanged, then applies
// every queued operation in order and returns one result per operation. If
// any watched key's version has moved, EXEC aborts: it returns
// op.ErrTransactionAbort, an empty result slice, and still clears the
// session's transaction state (spec.md §4.K: "discards the queue").
func (s *Session) Exec(tracker *Tracker) ([]any, error) {
	defer s.Discard()

	execMu.Lock()
	defer execMu.Unlock()

	for key, version := range s.watched {
		if tracker.Version(key) != version {
			return nil, op.ErrTransactionAbort
		}
	}

	results := make([]any, 0, len(s.queue))
	for _, q := range s.queue {
		result, err := q.Apply()
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}
