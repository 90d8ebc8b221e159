// Package recovery composes internal/snapshot and internal/wal into the
// startup sequence described in spec.md §4.I: load the latest valid
// snapshot (or start empty), then replay every WAL entry past the
// snapshot's covered offset, landing the process at a consistent tail
// offset before it accepts live traffic.
package recovery

import (
	"fmt"
	"time"

	"github.com/synaplabs/synap/internal/kv"
	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/queue"
	"github.com/synaplabs/synap/internal/snapshot"
	"github.com/synaplabs/synap/internal/stream"
	"github.com/synaplabs/synap/internal/wal"
)

// Stores bundles the stores recovery restores from a snapshot. internal/
// engine owns the real instances and passes them in; this package never
// constructs a Store/Manager itself so it stays agnostic to their wiring.
type Stores struct {
	KV      *kv.Store
	Queues  *queue.Manager
	Streams *stream.Manager
}

// Apply replays one WAL-sourced Operation against the live stores. It is
// supplied by internal/engine, which owns the Kind-to-store dispatch table;
// recovery does not duplicate that switch.
type Apply func(op.Operation) error

// Result reports where recovery left the process.
type Result struct {
	// TailOffset is the WAL offset recovery landed on: new Appends should
	// be assumed to start after this point.
	TailOffset uint64
	// SnapshotPath is empty if recovery started from an empty state.
	SnapshotPath string
	// ReplayedOps counts WAL entries successfully applied after the
	// snapshot was restored.
	ReplayedOps int
	// Truncated reports whether WAL replay stopped early on a corrupt or
	// short record. Recover always leaves it false: wal.Replay stops at such
	// a record without reporting that it did.
	Truncated bool
}

// Recover restores stores to their last durable state and returns the WAL
// offset new writes should be appended after. A corrupt WAL tail truncates
// replay at that point rather than aborting recovery; an Apply failure for
// one operation (e.g. a type error from a since-mutated key) is likewise
// skipped (left out of Result.ReplayedOps) and does not abort recovery, since a
// single bad replayed op should never block the rest of the log from
// applying (spec.md §4.I).
func Recover(snapCfg snapshot.Config, w *wal.WAL, stores Stores, apply Apply) (Result, error) {
	var (
		fromOffset uint64
		snapPath   string
	)

	snap, path, err := snapshot.LoadLatest(snapCfg)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: load snapshot: %w", err)
	}
	if snap != nil {
		RestoreSnapshot(stores, snap)
		fromOffset = snap.WALOffset
		snapPath = path
	}

	entries, err := w.Replay(fromOffset)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: replay wal: %w", err)
	}

	tail := fromOffset
	applied := 0
	for _, e := range entries {
		if err := apply(e.Operation); err != nil {
			// Type errors and similar per-key mismatches are expected when
			// replaying against state whose shape shifted between writes;
			// the record is still accounted for in the tail offset.
			tail = e.Offset
			continue
		}
		tail = e.Offset
		applied++
	}

	return Result{
		TailOffset:   tail,
		SnapshotPath: snapPath,
		ReplayedOps:  applied,
	}, nil
}

// RestoreSnapshot re-populates stores from a decoded Snapshot, used both by
// startup recovery and by a replica applying a full-sync payload from its
// master.
func RestoreSnapshot(stores Stores, snap *snapshot.Snapshot) {
	if stores.KV != nil {
		for _, e := range snap.KV {
			stores.KV.Restore(e.Key, e.Value, e.ExpiresAt)
		}
	}
	if stores.Queues != nil {
		stores.Queues.Restore(toQueueDumps(snap.Queues))
	}
	if stores.Streams != nil {
		stores.Streams.Restore(toStreamDumps(snap.Streams))
	}
}

func toQueueDumps(entries []snapshot.QueueEntry) []queue.Dump {
	out := make([]queue.Dump, 0, len(entries))
	for _, e := range entries {
		out = append(out, queue.Dump{
			Name: e.Name, MaxDepth: e.MaxDepth, AckDeadlineSec: e.AckDeadlineSec, Seq: e.Seq,
			Ready:   toQueueMessages(e.Ready),
			DLQ:     toQueueMessages(e.DLQ),
			Pending: toQueuePending(e.Pending),
		})
	}
	return out
}

func toQueueMessages(in []snapshot.QueueMessage) []queue.Message {
	out := make([]queue.Message, 0, len(in))
	for _, m := range in {
		out = append(out, queue.Message{
			ID: m.ID, Payload: m.Payload, Priority: m.Priority,
			RetryCount: m.RetryCount, MaxRetries: m.MaxRetries, EnqueueSeq: m.EnqueueSeq,
		})
	}
	return out
}

func toQueuePending(in []snapshot.PendingMessage) []queue.Pending {
	out := make([]queue.Pending, 0, len(in))
	for _, p := range in {
		out = append(out, queue.Pending{
			Message:     toQueueMessages([]snapshot.QueueMessage{p.Message})[0],
			ConsumerID:  p.ConsumerID,
			AckDeadline: p.AckDeadline,
		})
	}
	return out
}

func toStreamDumps(entries []snapshot.StreamEntry) []stream.Dump {
	out := make([]stream.Dump, 0, len(entries))
	for _, e := range entries {
		events := make([]stream.Event, 0, len(e.Events))
		for _, ev := range e.Events {
			events = append(events, stream.Event{Offset: ev.Offset, EventType: ev.EventType, Payload: ev.Payload})
		}
		out = append(out, stream.Dump{Name: e.Room, NextOffset: e.NextOffset, Events: events})
	}
	return out
}

// Sources builds a snapshot.Sources that reads the live state of stores,
// for use when creating a new snapshot during normal operation.
func Sources(stores Stores) snapshot.Sources {
	return snapshot.Sources{
		DumpKV: func(fn func(snapshot.KVEntry) error) error {
			if stores.KV == nil {
				return nil
			}
			return stores.KV.Dump(time.Now().Unix(), func(key string, value []byte, expiresAt *int64) error {
				return fn(snapshot.KVEntry{Key: key, Value: value, ExpiresAt: expiresAt})
			})
		},
		DumpQueues: func() []snapshot.QueueEntry {
			if stores.Queues == nil {
				return nil
			}
			return fromQueueDumps(stores.Queues.Dump())
		},
		DumpStreams: func() []snapshot.StreamEntry {
			if stores.Streams == nil {
				return nil
			}
			return fromStreamDumps(stores.Streams.Dump())
		},
	}
}

func fromQueueDumps(dumps []queue.Dump) []snapshot.QueueEntry {
	out := make([]snapshot.QueueEntry, 0, len(dumps))
	for _, d := range dumps {
		entry := snapshot.QueueEntry{
			Name: d.Name, MaxDepth: d.MaxDepth, AckDeadlineSec: d.AckDeadlineSec, Seq: d.Seq,
		}
		for _, m := range d.Ready {
			entry.Ready = append(entry.Ready, fromQueueMessage(m))
		}
		for _, m := range d.DLQ {
			entry.DLQ = append(entry.DLQ, fromQueueMessage(m))
		}
		for _, p := range d.Pending {
			entry.Pending = append(entry.Pending, snapshot.PendingMessage{
				Message: fromQueueMessage(p.Message), ConsumerID: p.ConsumerID, AckDeadline: p.AckDeadline,
			})
		}
		out = append(out, entry)
	}
	return out
}

func fromQueueMessage(m queue.Message) snapshot.QueueMessage {
	return snapshot.QueueMessage{
		ID: m.ID, Payload: m.Payload, Priority: m.Priority,
		RetryCount: m.RetryCount, MaxRetries: m.MaxRetries, EnqueueSeq: m.EnqueueSeq,
	}
}

func fromStreamDumps(dumps []stream.Dump) []snapshot.StreamEntry {
	out := make([]snapshot.StreamEntry, 0, len(dumps))
	for _, d := range dumps {
		events := make([]snapshot.StreamEvent, 0, len(d.Events))
		for _, ev := range d.Events {
			events = append(events, snapshot.StreamEvent{Offset: ev.Offset, EventType: ev.EventType, Payload: ev.Payload})
		}
		out = append(out, snapshot.StreamEntry{Room: d.Name, NextOffset: d.NextOffset, Events: events})
	}
	return out
}
