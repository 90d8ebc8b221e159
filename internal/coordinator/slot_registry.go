// Package coordinator implements the orchestration layer for synap's distributed
// storage system. See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/synaplabs/synap/internal/routing"
)

// SlotAssignment records which node owns one of the engine's 16384 routing
// slots (internal/routing.Slot), and whether that ownership is primary or a
// replica. This is the administrative counterpart to
// internal/routing.Topology: the coordinator here is the reference,
// non-Raft implementation of "who owns what" that an operator can query and
// mutate over HTTP, while RaftTopology is what a running node's
// routing.Hook actually consults per key.
type SlotAssignment struct {
	NodeID    string
	IsPrimary bool
	SlotID    int
}

// SlotRegistry tracks slot→node ownership across the cluster's fixed
// routing.SlotCount slot space. Reads take a shared lock; writes take an
// exclusive one; every returned SlotAssignment is a copy so callers can't
// mutate registry state through it.
type SlotRegistry struct {
	assignments map[int]*SlotAssignment
	mu          sync.RWMutex
	numSlots    int
}

// NewSlotRegistry creates a registry tracking numSlots slots. cmd/synapd's
// coordinator subcommand defaults this to routing.SlotCount, but a smaller
// value is useful in tests that don't want to enumerate 16384 assignments.
func NewSlotRegistry(numSlots int) *SlotRegistry {
	return &SlotRegistry{
		assignments: make(map[int]*SlotAssignment),
		numSlots:    numSlots,
	}
}

// AssignSlot records that nodeID owns slotID, overwriting any prior
// assignment for that slot.
func (r *SlotRegistry) AssignSlot(slotID int, nodeID string, isPrimary bool) error {
	if slotID < 0 || slotID >= r.numSlots {
		return fmt.Errorf("invalid slot %d, must be in range [0, %d)", slotID, r.numSlots)
	}
	if nodeID == "" {
		return errors.New("node ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.assignments[slotID] = &SlotAssignment{
		SlotID:    slotID,
		NodeID:    nodeID,
		IsPrimary: isPrimary,
	}
	return nil
}

// RemoveSlot clears slotID's assignment; idempotent if it was already
// unassigned.
func (r *SlotRegistry) RemoveSlot(slotID int) error {
	if slotID < 0 || slotID >= r.numSlots {
		return fmt.Errorf("invalid slot %d, must be in range [0, %d)", slotID, r.numSlots)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.assignments, slotID)
	return nil
}

// GetAssignment returns a copy of slotID's current assignment, or nil if
// unassigned.
func (r *SlotRegistry) GetAssignment(slotID int) *SlotAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assignment, ok := r.assignments[slotID]
	if !ok {
		return nil
	}
	cp := *assignment
	return &cp
}

// GetAllAssignments returns a copy of every current slot assignment, in no
// particular order.
func (r *SlotRegistry) GetAllAssignments() []*SlotAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*SlotAssignment, 0, len(r.assignments))
	for _, a := range r.assignments {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// SlotForKey returns the slot key maps to, via the same CRC16-mod-16384
// hash routing.Hook consults on the data path (internal/routing.Slot), not
// an independent hash — so a key the coordinator routes here and a key a
// node's routing.Hook gates land on the identical slot number.
func (r *SlotRegistry) SlotForKey(key string) int {
	return routing.Slot(key) % r.numSlots
}

// NodeForKey resolves key's owning node, or an error if its slot is
// unassigned.
func (r *SlotRegistry) NodeForKey(key string) (string, error) {
	slotID := r.SlotForKey(key)

	r.mu.RLock()
	assignment := r.assignments[slotID]
	r.mu.RUnlock()

	if assignment == nil {
		return "", fmt.Errorf("slot %d is not assigned to any node", slotID)
	}
	return assignment.NodeID, nil
}

// GetNodeSlots returns every slot ID currently assigned to nodeID, in no
// particular order.
func (r *SlotRegistry) GetNodeSlots(nodeID string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var slots []int
	for slotID, assignment := range r.assignments {
		if assignment.NodeID == nodeID {
			slots = append(slots, slotID)
		}
	}
	return slots
}

// NumSlots returns the total slot count this registry was created with.
func (r *SlotRegistry) NumSlots() int {
	return r.numSlots
}

// RebalanceSlots assigns every slot to nodes round-robin (slot i -> nodes[i
// % len(nodes)], all primary), overwriting any existing assignments. This
// is the registry's bootstrap/failover strategy; it does not attempt to
// minimize data movement the way a consistent-hashing rebalance would.
func (r *SlotRegistry) RebalanceSlots(nodes []string) error {
	if len(nodes) == 0 {
		return errors.New("cannot rebalance with no nodes")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for slotID := 0; slotID < r.numSlots; slotID++ {
		nodeID := nodes[slotID%len(nodes)]
		r.assignments[slotID] = &SlotAssignment{
			SlotID:    slotID,
			NodeID:    nodeID,
			IsPrimary: true,
		}
	}
	return nil
}
