// Package op defines the Operation sum type that every mutating command in
// the engine is translated into exactly once (spec.md §3, §4.A). Operation
// is the unit that flows through:
//
//   - internal/wal: framed, checksummed, appended before a write response is
//     returned under fsync_mode=Always.
//   - internal/replication: appended to the master's ring buffer and
//     streamed to connected replicas.
//   - internal/snapshot does not carry Operations: its queue/stream
//     sections are plain state records (QueueEntry, StreamEntry) that
//     recovery restores directly, not by replay.
//   - internal/engine: the single dispatch function that maps a Kind to a
//     store call lives there, not here — this package stays data-only so
//     every consumer can depend on it without pulling in the stores.
//
// Wire format: Encode produces [kind byte is part of the msgpack envelope,
// not a separate leading byte — see Encode's doc] a single msgpack document
// containing the Kind tag, a Timestamp, and the Kind-specific Payload. The
// outer length-prefix + CRC framing that turns this into a WAL/snapshot/
// replication record lives in the consumer package, since each of those
// three wire formats frames it slightly differently (spec.md §3, §6).
package op
