// Package routing implements spec.md §4.L's cluster routing hook: a
// CRC16-mod-16384 slot hash consulted against an injected Topology before
// every key operation, gating or redirecting it.
package routing

import (
	"github.com/synaplabs/synap/internal/op"
)

// SlotCount is the fixed number of cluster slots, per spec.md §4.L.
const SlotCount = 16384

// Slot computes the cluster slot for key, per spec.md §4.L: CRC16(key) mod
// 16384.
func Slot(key string) int {
	return int(crc16([]byte(key))) % SlotCount
}

// Ownership describes the current state of one slot.
type Ownership struct {
	// Owner is the address of the node that owns the slot. Empty means
	// unassigned.
	Owner string
	// MigratingTo is set while the slot is being handed off from Owner to
	// another node; empty means no migration in progress.
	MigratingTo string
}

// Topology is the slot-ownership contract the (out-of-scope) Raft-based
// cluster coordinator presents to the storage engine. Hook never builds or
// mutates a Topology itself.
type Topology interface {
	// LocalNode is this process's own node address.
	LocalNode() string
	// SlotOwner returns the current ownership record for slot.
	SlotOwner(slot int) Ownership
}

// Hook is consulted before every key operation per spec.md §4.L. A nil
// Topology bypasses routing entirely (single-node deployments never pay for
// the slot check).
type Hook struct {
	Topology Topology
}

// NewHook constructs a Hook over topology. Pass nil to run unclustered.
func NewHook(topology Topology) *Hook {
	return &Hook{Topology: topology}
}

// Check gates an operation on key: nil means proceed locally, otherwise the
// returned error is one of *op.ClusterMovedError, *op.ClusterAskError, or
// *op.ClusterSlotNotAssignedError.
func (h *Hook) Check(key string) error {
	if h == nil || h.Topology == nil {
		return nil
	}
	slot := Slot(key)
	owner := h.Topology.SlotOwner(slot)
	local := h.Topology.LocalNode()

	switch {
	case owner.Owner == "":
		return &op.ClusterSlotNotAssignedError{Slot: slot}
	case owner.Owner == local && owner.MigratingTo != "":
		// This node is the migration source: the client should ASK the
		// destination for this one request.
		return &op.ClusterAskError{Destination: owner.MigratingTo, Slot: slot}
	case owner.Owner == local:
		return nil
	case owner.MigratingTo == local:
		// This node is the migration destination: a request landing here
		// for a slot we are migrating in is simply accepted.
		return nil
	default:
		return &op.ClusterMovedError{Node: owner.Owner, Slot: slot}
	}
}
