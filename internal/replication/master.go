package replication

import (
	"bufio"
	"hash/crc32"
	"net"
	"sync"
	"time"

	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/snapshot"
)

// SnapshotProvider supplies the bytes of the latest snapshot for a
// replica's full-sync bootstrap. MasterNode never builds snapshots itself;
// internal/engine supplies the provider, which returns the snapshot
// together with its encoded bytes.
type SnapshotProvider func() (*snapshot.Snapshot, []byte, error)

// ReplicaHandle tracks one connected replica, per spec.md §4.J's supplement
// that lag be reportable per-replica from the master side.
type ReplicaHandle struct {
	Addr           string
	ConnectedSince time.Time
	LastAckOffset  uint64

	conn net.Conn
	mu   sync.Mutex
}

// MasterNode listens for replica connections, bootstraps each one (full or
// partial sync), and fans out every replicate() call to all of them.
type MasterNode struct {
	log              *Log
	snapshotProvider SnapshotProvider

	mu       sync.RWMutex
	replicas map[string]*ReplicaHandle
	listener net.Listener
}

// NewMasterNode constructs a MasterNode backed by log, using provider to
// serve full-sync bootstraps.
func NewMasterNode(log *Log, provider SnapshotProvider) *MasterNode {
	return &MasterNode{log: log, snapshotProvider: provider, replicas: make(map[string]*ReplicaHandle)}
}

// ListenAndServe listens on addr and accepts replica connections until the
// listener is closed.
func (m *MasterNode) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return wrapNetErr(err)
	}
	m.mu.Lock()
	m.listener = ln
	m.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return wrapNetErr(err)
		}
		go m.handleReplica(conn)
	}
}

// Close stops accepting new replica connections.
func (m *MasterNode) Close() error {
	m.mu.Lock()
	ln := m.listener
	m.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (m *MasterNode) handleReplica(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)

	var req syncRequest
	if err := readMsgpack(r, &req); err != nil {
		_ = conn.Close()
		return
	}

	resp, entries, ok := m.bootstrapResponse(req.FromOffset)
	if err := writeMsgpack(conn, resp); err != nil {
		_ = conn.Close()
		return
	}
	if !ok {
		_ = conn.Close()
		return
	}

	handle := &ReplicaHandle{Addr: addr, ConnectedSince: time.Now(), conn: conn, LastAckOffset: req.FromOffset}
	m.mu.Lock()
	m.replicas[addr] = handle
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.replicas, addr)
		m.mu.Unlock()
		_ = conn.Close()
	}()

	// Entries accumulated between the sync decision and this replica being
	// registered for fan-out must still reach it, so they are replayed
	// directly over its connection before live Replicate calls take over.
	for _, e := range entries {
		if err := writeEntry(handle, e); err != nil {
			return
		}
	}

	// Block until the connection drops; live fan-out happens via Replicate.
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

// bootstrapResponse decides full vs. partial sync for a connecting replica
// and returns the response to send plus any log entries it should still
// receive once fan-out wiring is in place (only relevant for partial sync;
// full sync readers get fully caught up by the snapshot itself).
func (m *MasterNode) bootstrapResponse(fromOffset uint64) (syncResponse, []Entry, bool) {
	if entries, ok := m.log.GetFromOffset(fromOffset); ok {
		return syncResponse{FullSync: false, FromOffset: fromOffset}, entries, true
	}
	if m.snapshotProvider == nil {
		return syncResponse{}, nil, false
	}
	_, body, err := m.snapshotProvider()
	if err != nil {
		return syncResponse{}, nil, false
	}
	resp := syncResponse{
		FullSync: true, SnapshotBody: body, SnapshotCRC32: crc32.ChecksumIEEE(body),
		FromOffset: m.log.CurrentOffset(),
	}
	return resp, nil, true
}

// Write implements io.Writer against the replica's connection under its own
// mutex, so Replicate's concurrent fan-out and the bootstrap catch-up loop
// never interleave writes on the same socket.
func (h *ReplicaHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn.Write(p)
}

// Replicate appends operation to the log and fans it out to every connected
// replica, per spec.md §4.J. Fan-out is best-effort: a write failure just
// drops that replica's connection (it will reconnect and resync).
func (m *MasterNode) Replicate(operation op.Operation) uint64 {
	offset := m.log.Append(operation)
	entry := Entry{Offset: offset, Operation: operation}

	m.mu.RLock()
	handles := make([]*ReplicaHandle, 0, len(m.replicas))
	for _, h := range m.replicas {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	for _, h := range handles {
		if err := writeEntry(h, entry); err != nil {
			_ = h.conn.Close()
		}
	}
	return offset
}

// Replicas returns a snapshot of currently connected replicas, for metrics
// and admin introspection.
func (m *MasterNode) Replicas() []ReplicaHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ReplicaHandle, 0, len(m.replicas))
	for _, h := range m.replicas {
		out = append(out, ReplicaHandle{Addr: h.Addr, ConnectedSince: h.ConnectedSince, LastAckOffset: h.LastAckOffset})
	}
	return out
}
