package replication

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"net"
	"sync/atomic"
	"time"

	"github.com/synaplabs/synap/internal/op"
)

// Apply applies one replicated Operation to local stores with the
// "during recovery" flag set, bypassing WAL append and re-replication
// (spec.md §4.J).
type Apply func(op.Operation) error

// LoadSnapshotBody restores local stores from a raw snapshot payload
// received during full sync. The caller (internal/engine) owns how that
// maps onto concrete stores; replication only verifies the CRC32.
type LoadSnapshotBody func(body []byte) error

// Config configures a ReplicaNode's connection behavior.
type Config struct {
	MasterAddr       string
	ReconnectDelayMS int
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelayMS <= 0 {
		c.ReconnectDelayMS = 1000
	}
	return c
}

// ReplicaNode connects to a master, negotiates sync, and applies the
// incoming Operation stream to local stores.
type ReplicaNode struct {
	cfg   Config
	apply Apply
	load  LoadSnapshotBody

	replicaOffset uint64 // atomic
	masterOffset  uint64 // atomic

	stopped chan struct{}
}

// NewReplicaNode constructs a ReplicaNode that applies incoming operations
// via apply and restores full-sync snapshots via load.
func NewReplicaNode(cfg Config, apply Apply, load LoadSnapshotBody) *ReplicaNode {
	return &ReplicaNode{cfg: cfg.withDefaults(), apply: apply, load: load, stopped: make(chan struct{})}
}

// ReplicaOffset returns the last offset this replica has applied.
func (r *ReplicaNode) ReplicaOffset() uint64 { return atomic.LoadUint64(&r.replicaOffset) }

// MasterOffset returns the master's most recently observed offset (only
// meaningfully populated once a heartbeat/sync round has reported it).
func (r *ReplicaNode) MasterOffset() uint64 { return atomic.LoadUint64(&r.masterOffset) }

// Lag reports how far behind the master this replica currently is.
func (r *ReplicaNode) Lag() uint64 {
	master := r.MasterOffset()
	replica := r.ReplicaOffset()
	if master < replica {
		return 0
	}
	return master - replica
}

// Stop halts the reconnect loop (Run returns once the current attempt
// finishes).
func (r *ReplicaNode) Stop() { close(r.stopped) }

// Run connects to the master and streams operations until Stop is called,
// reconnecting with Config.ReconnectDelayMS between attempts and requesting
// partial sync from its current offset each time, falling back to whatever
// the master decides (full sync) if partial is refused.
func (r *ReplicaNode) Run() error {
	for {
		select {
		case <-r.stopped:
			return nil
		default:
		}
		if err := r.runOnce(); err != nil {
			select {
			case <-r.stopped:
				return nil
			case <-time.After(time.Duration(r.cfg.ReconnectDelayMS) * time.Millisecond):
			}
			continue
		}
	}
}

func (r *ReplicaNode) runOnce() error {
	conn, err := net.Dial("tcp", r.cfg.MasterAddr)
	if err != nil {
		return wrapNetErr(err)
	}
	defer conn.Close()

	if err := writeMsgpack(conn, syncRequest{FromOffset: r.ReplicaOffset()}); err != nil {
		return wrapNetErr(err)
	}

	br := bufio.NewReader(conn)
	var resp syncResponse
	if err := readMsgpack(br, &resp); err != nil {
		return wrapNetErr(err)
	}

	if resp.FullSync {
		if crc32.ChecksumIEEE(resp.SnapshotBody) != resp.SnapshotCRC32 {
			return fmt.Errorf("%w: snapshot checksum mismatch", op.ErrReplication)
		}
		if r.load != nil {
			if err := r.load(resp.SnapshotBody); err != nil {
				return err
			}
		}
		atomic.StoreUint64(&r.replicaOffset, resp.FromOffset)
	}
	atomic.StoreUint64(&r.masterOffset, resp.FromOffset)

	for {
		select {
		case <-r.stopped:
			return nil
		default:
		}
		entry, err := readEntry(br)
		if err != nil {
			return wrapNetErr(err)
		}
		if r.apply != nil {
			_ = r.apply(entry.Operation) // per-op apply failures are logged upstream, not fatal to the stream
		}
		atomic.StoreUint64(&r.replicaOffset, entry.Offset)
		if entry.Offset > r.MasterOffset() {
			atomic.StoreUint64(&r.masterOffset, entry.Offset)
		}
	}
}
