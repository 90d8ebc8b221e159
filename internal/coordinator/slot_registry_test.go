package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synaplabs/synap/internal/routing"
)

func TestNewSlotRegistryStartsEmpty(t *testing.T) {
	reg := NewSlotRegistry(16)
	require.Equal(t, 16, reg.NumSlots())
	require.Empty(t, reg.GetAllAssignments())
	require.Nil(t, reg.GetAssignment(0))
}

func TestAssignSlotRejectsOutOfRangeOrEmptyNode(t *testing.T) {
	reg := NewSlotRegistry(4)
	require.Error(t, reg.AssignSlot(-1, "node-a", true))
	require.Error(t, reg.AssignSlot(4, "node-a", true))
	require.Error(t, reg.AssignSlot(0, "", true))
}

func TestAssignSlotOverwritesPriorAssignment(t *testing.T) {
	reg := NewSlotRegistry(4)
	require.NoError(t, reg.AssignSlot(1, "node-a", true))
	require.NoError(t, reg.AssignSlot(1, "node-b", false))

	got := reg.GetAssignment(1)
	require.NotNil(t, got)
	require.Equal(t, "node-b", got.NodeID)
	require.False(t, got.IsPrimary)
}

func TestGetAssignmentReturnsACopy(t *testing.T) {
	reg := NewSlotRegistry(4)
	require.NoError(t, reg.AssignSlot(2, "node-a", true))

	got := reg.GetAssignment(2)
	got.NodeID = "tampered"

	require.Equal(t, "node-a", reg.GetAssignment(2).NodeID)
}

func TestRemoveSlotIsIdempotent(t *testing.T) {
	reg := NewSlotRegistry(4)
	require.NoError(t, reg.AssignSlot(0, "node-a", true))
	require.NoError(t, reg.RemoveSlot(0))
	require.NoError(t, reg.RemoveSlot(0)) // already gone, still no error
	require.Nil(t, reg.GetAssignment(0))
}

func TestSlotForKeyMatchesRoutingSlot(t *testing.T) {
	reg := NewSlotRegistry(routing.SlotCount)
	for _, key := range []string{"a", "user:123", "{tag}member"} {
		require.Equal(t, routing.Slot(key), reg.SlotForKey(key),
			"coordinator and routing.Hook must agree on key %q's slot", key)
	}
}

func TestNodeForKeyErrorsWhenSlotUnassigned(t *testing.T) {
	reg := NewSlotRegistry(routing.SlotCount)
	_, err := reg.NodeForKey("orphan-key")
	require.Error(t, err)
}

func TestNodeForKeyResolvesAssignedSlot(t *testing.T) {
	reg := NewSlotRegistry(routing.SlotCount)
	key := "user:42"
	slot := reg.SlotForKey(key)
	require.NoError(t, reg.AssignSlot(slot, "node-a", true))

	node, err := reg.NodeForKey(key)
	require.NoError(t, err)
	require.Equal(t, "node-a", node)
}

func TestGetNodeSlotsFiltersByNode(t *testing.T) {
	reg := NewSlotRegistry(6)
	require.NoError(t, reg.AssignSlot(0, "node-a", true))
	require.NoError(t, reg.AssignSlot(1, "node-b", true))
	require.NoError(t, reg.AssignSlot(2, "node-a", true))

	slots := reg.GetNodeSlots("node-a")
	require.ElementsMatch(t, []int{0, 2}, slots)
	require.Empty(t, reg.GetNodeSlots("node-z"))
}

func TestRebalanceSlotsRejectsEmptyNodeList(t *testing.T) {
	reg := NewSlotRegistry(4)
	require.Error(t, reg.RebalanceSlots(nil))
}

func TestRebalanceSlotsDistributesRoundRobinAndOverwrites(t *testing.T) {
	reg := NewSlotRegistry(6)
	require.NoError(t, reg.AssignSlot(3, "stale-node", false))

	require.NoError(t, reg.RebalanceSlots([]string{"node-a", "node-b", "node-c"}))

	require.Equal(t, 6, len(reg.GetAllAssignments()))
	for slotID, want := range map[int]string{
		0: "node-a", 1: "node-b", 2: "node-c",
		3: "node-a", 4: "node-b", 5: "node-c",
	} {
		a := reg.GetAssignment(slotID)
		require.NotNil(t, a)
		require.Equal(t, want, a.NodeID)
		require.True(t, a.IsPrimary)
	}
}
