// Package cluster provides the wire types and HTTP helpers shared between a
// synap node and the coordinator process: NodeInfo, RegisterRequest,
// BroadcastRequest, and the PostJSON/GetJSON client helpers used to exchange
// them.
//
// The package carries no topology logic of its own — internal/coordinator
// owns slot-to-node bookkeeping and health polling, and internal/routing
// owns the CRC16-mod-16384 slot contract a node actually consults per key.
// cluster only defines what goes over the wire between the two processes
// and how to send it.
//
// # See Also
//
//   - internal/coordinator: registry and health monitor that exchange these
//     types with nodes over HTTP.
//   - internal/routing: the slot-ownership contract consulted per key
//     operation by a running node.
package cluster
