// Package coordinator implements the administrative control plane run by
// cmd/synapd's "coordinator" subcommand: node registration, health
// monitoring, and slot-to-node bookkeeping for a synap cluster.
//
// This is the reference, non-Raft implementation of "who owns which slot" —
// an operator can list and mutate assignments over plain HTTP
// (/slots, /slots/assign). It is deliberately not the thing a live node
// consults on the data path: spec.md §1 scopes the Raft-based cluster
// coordinator out except for the Topology/Hook seam internal/routing
// exposes, and internal/routing.RaftTopology is what a node's routing.Hook
// actually checks per key. SlotRegistry hashes keys to slots with the exact
// same CRC16-mod-16384 function (internal/routing.Slot) so the two layers
// never disagree about which slot a key belongs to, even though only one of
// them is in synap's data path.
//
// # Components
//
//   - SlotRegistry: tracks SlotAssignment{SlotID, NodeID, IsPrimary} and
//     provides round-robin RebalanceSlots for bootstrap/failover.
//   - HealthMonitor: polls every known node's /health endpoint on an
//     interval, tracks consecutive failures, and invokes a callback once a
//     node crosses its failure threshold — cmd/synapd wires that callback
//     to SlotRegistry.RebalanceSlots over the surviving healthy nodes.
//
// Neither component is reached from internal/engine's write path; both are
// exercised only by cmd/synapd's coordinator subcommand and its own tests.
//
// # See Also
//
//   - internal/cluster: wire types and HTTP helpers shared by node and
//     coordinator (NodeInfo, RegisterRequest, BroadcastRequest).
//   - internal/routing: the slot-ownership contract consulted per key
//     operation by a running node.
//   - cmd/synapd: the "coordinator" subcommand runs this package's server.
package coordinator
