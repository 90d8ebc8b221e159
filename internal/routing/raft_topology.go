package routing

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// slotCommand is the Raft log entry applied by raftFSM: an ownership change
// for one slot, replicated to every cluster node via consensus so they
// agree on the same Topology without a central coordinator.
type slotCommand struct {
	Slot        int
	Owner       string
	MigratingTo string
}

// raftFSM owns the committed slot map. It implements raft.FSM so
// RaftTopology can be driven directly by a *raft.Raft instance; the
// surrounding cluster coordinator (leader election, peer membership) is out
// of scope (spec.md §1) and is assumed to be supplied by the embedding
// binary.
type raftFSM struct {
	mu    sync.RWMutex
	slots map[int]Ownership
}

func newRaftFSM() *raftFSM {
	return &raftFSM{slots: make(map[int]Ownership)}
}

func (f *raftFSM) Apply(l *raft.Log) any {
	var cmd slotCommand
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[cmd.Slot] = Ownership{Owner: cmd.Owner, MigratingTo: cmd.MigratingTo}
	return nil
}

func (f *raftFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snapshot := make(map[int]Ownership, len(f.slots))
	for k, v := range f.slots {
		snapshot[k] = v
	}
	return &raftFSMSnapshot{slots: snapshot}, nil
}

func (f *raftFSM) Restore(r io.ReadCloser) error {
	defer r.Close()
	var slots map[int]Ownership
	if err := json.NewDecoder(r).Decode(&slots); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = slots
	return nil
}

type raftFSMSnapshot struct {
	slots map[int]Ownership
}

func (s *raftFSMSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.slots); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *raftFSMSnapshot) Release() {}

// RaftTopology satisfies Topology by reading committed slot ownership from
// a Raft FSM, and proposes ownership changes via raft.Raft.Apply so every
// node converges on the same slot map.
type RaftTopology struct {
	localNode string
	fsm       *raftFSM
	raft      *raft.Raft
}

// RaftConfig configures the embedded Raft instance backing a RaftTopology.
type RaftConfig struct {
	LocalNode string
	DataDir   string
	Transport raft.Transport
	Bootstrap bool
}

// NewRaftTopology constructs a RaftTopology with a BoltDB-backed log store
// and stable store under cfg.DataDir, per the teacher stack's use of bbolt
// for durable local state.
func NewRaftTopology(cfg RaftConfig) (*RaftTopology, error) {
	fsm := newRaftFSM()

	logStore, err := raftboltdb.NewBoltStore(cfg.DataDir + "/raft-log.bolt")
	if err != nil {
		return nil, fmt.Errorf("routing: raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(cfg.DataDir + "/raft-stable.bolt")
	if err != nil {
		return nil, fmt.Errorf("routing: raft stable store: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, nil)
	if err != nil {
		return nil, fmt.Errorf("routing: raft snapshot store: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.LocalNode)

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshots, cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("routing: start raft: %w", err)
	}

	if cfg.Bootstrap {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: cfg.Transport.LocalAddr()}},
		})
		if err := future.Error(); err != nil {
			return nil, fmt.Errorf("routing: bootstrap raft cluster: %w", err)
		}
	}

	return &RaftTopology{localNode: cfg.LocalNode, fsm: fsm, raft: r}, nil
}

// LocalNode implements Topology.
func (t *RaftTopology) LocalNode() string { return t.localNode }

// SlotOwner implements Topology, reading from the local FSM's committed
// state (eventually consistent with the Raft leader's view).
func (t *RaftTopology) SlotOwner(slot int) Ownership {
	t.fsm.mu.RLock()
	defer t.fsm.mu.RUnlock()
	return t.fsm.slots[slot]
}

// AssignSlot proposes a slot ownership change through Raft consensus. It
// must be called on the leader; call raft.Raft.State() to check first.
func (t *RaftTopology) AssignSlot(slot int, owner, migratingTo string) error {
	data, err := json.Marshal(slotCommand{Slot: slot, Owner: owner, MigratingTo: migratingTo})
	if err != nil {
		return err
	}
	future := t.raft.Apply(data, 5*time.Second)
	return future.Error()
}

// IsLeader reports whether this node currently holds Raft leadership.
func (t *RaftTopology) IsLeader() bool {
	return t.raft.State() == raft.Leader
}

// Shutdown stops the embedded Raft instance.
func (t *RaftTopology) Shutdown() error {
	return t.raft.Shutdown().Error()
}
