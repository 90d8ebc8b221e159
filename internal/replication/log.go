// Package replication implements spec.md §4.J: a fixed-capacity ring log of
// recent Operations, a MasterNode that fans out live writes to connected
// replicas (full-sync or partial-sync bootstrap), and a ReplicaNode that
// connects to a master and applies the incoming stream.
package replication

import (
	"sync"

	"github.com/synaplabs/synap/internal/op"
)

// Entry is one operation recorded in the log, addressed by its offset in
// this log (the log's own counter, independent of the WAL's offsets).
type Entry struct {
	Offset    uint64
	Operation op.Operation
}

// Log is a fixed-capacity ring of recent Operations. Concurrent appends are
// safe; readers take a copy of the relevant slice under a short lock so
// they never block the append path for long (spec.md §5).
type Log struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry // logically ordered oldest-to-newest, capped at capacity
	next     uint64
}

// NewLog constructs a Log retaining up to capacity recent entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 65536
	}
	return &Log{capacity: capacity}
}

// Append assigns the next offset to operation and records it, evicting the
// oldest entry if the ring is full.
func (l *Log) Append(operation op.Operation) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	offset := l.next
	l.next++
	if len(l.entries) >= l.capacity {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, Entry{Offset: offset, Operation: operation})
	return offset
}

// CurrentOffset returns the next offset that will be assigned.
func (l *Log) CurrentOffset() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// GetFromOffset returns the contiguous slice of entries with offset >= from,
// and ok=false if from is older than the oldest retained entry (the caller
// must fall back to full sync in that case).
func (l *Log) GetFromOffset(from uint64) ([]Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil, from == l.next
	}
	oldest := l.entries[0].Offset
	if from < oldest {
		return nil, false
	}
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Offset >= from {
			out = append(out, e)
		}
	}
	return out, true
}
