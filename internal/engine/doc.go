// Package engine is the composition root spec.md §2 describes as the data
// flow binding every other package together: front end → routing hook (L)
// → target store (B–F) → WAL (G) → replication log (J) → response.
//
// Every other internal package is deliberately ignorant of its neighbors —
// kv does not know WAL exists, wal does not know what an Operation means
// beyond its Kind tag, recovery takes an Apply func instead of importing
// every store package directly. Engine is the one place that is allowed to
// import all of them, because its whole job is wiring: it owns one
// instance of each store, dispatches op.Operation values to the right one
// (internal/recovery's replay and internal/replication's replica apply
// both call Engine.Dispatch rather than duplicating a Kind switch), and
// appends every accepted mutation to the WAL and the replication log
// before returning to its caller.
//
// The cluster routing hook (internal/routing) is consulted before every
// keyed operation; cmd/synapd is the only caller of Engine from outside this
// module, and it never talks to kv/hash/list/... directly.
package engine
