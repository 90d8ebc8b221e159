package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/synaplabs/synap/internal/collections/bitmap"
	"github.com/synaplabs/synap/internal/collections/geo"
	"github.com/synaplabs/synap/internal/collections/hash"
	"github.com/synaplabs/synap/internal/collections/hll"
	"github.com/synaplabs/synap/internal/collections/list"
	"github.com/synaplabs/synap/internal/collections/set"
	"github.com/synaplabs/synap/internal/collections/zset"
	"github.com/synaplabs/synap/internal/kv"
	"github.com/synaplabs/synap/internal/metrics"
	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/pubsub"
	"github.com/synaplabs/synap/internal/queue"
	"github.com/synaplabs/synap/internal/recovery"
	"github.com/synaplabs/synap/internal/replication"
	"github.com/synaplabs/synap/internal/routing"
	"github.com/synaplabs/synap/internal/snapshot"
	"github.com/synaplabs/synap/internal/stream"
	"github.com/synaplabs/synap/internal/txn"
	"github.com/synaplabs/synap/internal/wal"
)

// Config bundles every knob needed to construct an Engine. A zero Config
// opens an unbounded, unclustered, unpersisted, standalone engine — fine
// for tests, never for production (persistence and clustering are both
// opt-in because not every embedding, e.g. a CLI one-shot, wants them).
type Config struct {
	KV               kv.Config
	ShardCount       int // collection stores; 0 = storage.DefaultShardCount
	StreamBufferSize int // default ring size for rooms created implicitly

	Routing *routing.Hook // nil = unclustered, every operation accepted locally

	// WAL is nil to run without persistence (e.g. an ephemeral replica
	// that only ever applies from its master, or a unit test).
	WAL *wal.Config
	Snapshot snapshot.Config

	// Replication. MasterListenAddr non-empty makes this node a
	// replication master; ReplicaOf non-empty makes it a replica of that
	// address. Both empty is spec.md §4.J's Standalone role.
	MasterListenAddr  string
	ReplicationLogCap int
	ReplicaOf         string
	ReplicaReconnectMS int
}

// Engine owns one instance of every store spec.md §4 defines and is the
// only thing in this module allowed to know about all of them at once.
type Engine struct {
	cfg Config

	KV     *kv.Store
	Hash   *hash.Store
	List   *list.Store
	Set    *set.Store
	ZSet   *zset.Store
	Bitmap *bitmap.Store
	HLL    *hll.Store
	Geo    *geo.Store
	Queues *queue.Manager
	Streams *stream.Manager
	PubSub *pubsub.Router
	Txn    *txn.Tracker

	routing *routing.Hook
	wal     *wal.WAL
	replLog *replication.Log
	master  *replication.MasterNode
	replica *replication.ReplicaNode

	// recovering is set for the duration of Open's replay and for the
	// lifetime of a replica applying its master's stream: Dispatch calls
	// made while it is true never re-append to the WAL or replication log
	// (spec.md §4.I, §4.J — "bypassing WAL append and replication").
	recovering atomic.Bool

	opsSinceSnapshot atomic.Int64
}

// now is overridable in tests; production always calls time.Now().
var now = func() int64 { return time.Now().Unix() }

// Open constructs an Engine, running spec.md §4.I's recovery procedure if
// cfg.WAL is set: load the latest snapshot, replay the WAL tail, and land
// ready to accept new writes at the recovered offset. With cfg.WAL nil the
// engine starts from empty state and never touches disk.
func Open(cfg Config) (*Engine, error) {
	shardN := cfg.ShardCount
	e := &Engine{
		cfg:     cfg,
		KV:      kv.New(cfg.KV),
		Hash:    hash.New(shardN),
		List:    list.New(shardN),
		Set:     set.New(shardN),
		ZSet:    zset.New(shardN),
		Bitmap:  bitmap.New(shardN),
		HLL:     hll.New(shardN),
		Geo:     geo.New(shardN),
		Queues:  queue.NewManager(),
		Streams: stream.NewManager(),
		PubSub:  pubsub.NewRouter(),
		Txn:     txn.NewTracker(),
		routing: cfg.Routing,
	}

	if cfg.ReplicationLogCap > 0 {
		e.replLog = replication.NewLog(cfg.ReplicationLogCap)
	}

	if cfg.WAL != nil {
		w, err := wal.Open(*cfg.WAL)
		if err != nil {
			return nil, fmt.Errorf("engine: open wal: %w", err)
		}
		e.wal = w

		e.recovering.Store(true)
		result, err := recovery.Recover(cfg.Snapshot, w, recovery.Stores{
			KV: e.KV, Queues: e.Queues, Streams: e.Streams,
		}, e.Dispatch)
		e.recovering.Store(false)
		if err != nil {
			return nil, fmt.Errorf("engine: recover: %w", err)
		}
		if result.Truncated {
			// A torn WAL tail is expected after a crash, not a bug: the
			// engine resumes appending right after the last valid entry.
		}
	}

	if cfg.MasterListenAddr != "" {
		if e.replLog == nil {
			e.replLog = replication.NewLog(16384)
		}
		e.master = replication.NewMasterNode(e.replLog, e.snapshotProvider)
		go func() {
			_ = e.master.ListenAndServe(cfg.MasterListenAddr)
		}()
	}

	if cfg.ReplicaOf != "" {
		e.replica = replication.NewReplicaNode(replication.Config{
			MasterAddr:       cfg.ReplicaOf,
			ReconnectDelayMS: cfg.ReplicaReconnectMS,
		}, e.applyReplicated, e.loadSnapshotBody)
		go func() {
			_ = e.replica.Run()
		}()
	}

	return e, nil
}

// Close flushes the WAL, creates a final snapshot, and stops replication.
// Per spec.md §6's "normal shutdown" exit condition.
func (e *Engine) Close() error {
	if e.replica != nil {
		e.replica.Stop()
	}
	if e.master != nil {
		_ = e.master.Close()
	}
	if e.wal == nil {
		return nil
	}
	if err := e.wal.Flush(); err != nil {
		return fmt.Errorf("engine: flush wal on close: %w", err)
	}
	if _, err := e.snapshotNow(); err != nil {
		return fmt.Errorf("engine: final snapshot: %w", err)
	}
	return e.wal.Close()
}

// snapshotNow creates a snapshot covering the WAL's current offset and
// enforces retention, per spec.md §4.H.
func (e *Engine) snapshotNow() (string, error) {
	if e.wal == nil {
		return "", nil
	}
	path, err := snapshot.Create(e.cfg.Snapshot, recovery.Sources(recovery.Stores{
		KV: e.KV, Queues: e.Queues, Streams: e.Streams,
	}), e.wal.CurrentOffset())
	if err != nil {
		return "", err
	}
	e.opsSinceSnapshot.Store(0)
	return path, nil
}

// SnapshotNow forces an out-of-band snapshot, independent of the op-count
// cadence maybeSnapshot drives; cmd/synapd's cron-scheduled snapshot job
// calls this directly.
func (e *Engine) SnapshotNow() (string, error) {
	return e.snapshotNow()
}

// snapshotProvider backs a MasterNode's full-sync bootstrap (spec.md
// §4.J): a fresh snapshot built straight from live store state via
// internal/snapshot's ordinary streaming writer, independent of whatever
// snapshot file was last taken for WAL-truncation purposes. The raw file
// bytes (magic, version, length-prefixed sections, CRC64 trailer) are what
// travels over the wire; the replica's loadSnapshotBody writes them back
// out and calls snapshot.Load so it validates the same way a local startup
// recovery would.
func (e *Engine) snapshotProvider() (*snapshot.Snapshot, []byte, error) {
	path, err := snapshot.Create(e.cfg.Snapshot, recovery.Sources(recovery.Stores{
		KV: e.KV, Queues: e.Queues, Streams: e.Streams,
	}), e.currentWALOffset())
	if err != nil {
		return nil, nil, err
	}
	snap, err := snapshot.Load(path)
	if err != nil {
		return nil, nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: read snapshot for full sync: %w", err)
	}
	return snap, raw, nil
}

func (e *Engine) currentWALOffset() uint64 {
	if e.wal == nil {
		return 0
	}
	return e.wal.CurrentOffset()
}

// applyReplicated is the Apply a ReplicaNode invokes for every Operation it
// receives from its master: it runs with the recovery flag set so the
// replica never re-appends to its own WAL's replication log or re-dials a
// master of its own (spec.md §4.J).
func (e *Engine) applyReplicated(operation op.Operation) error {
	e.recovering.Store(true)
	defer e.recovering.Store(false)
	if e.wal != nil {
		if _, err := e.wal.Append(operation); err != nil {
			return err
		}
	}
	return e.Dispatch(operation)
}

// loadSnapshotBody restores every store from a full-sync snapshot payload
// received during replica bootstrap, after replication has already
// verified its CRC32. The bytes are the exact file internal/snapshot
// wrote on the master, so the replica writes them to a temp file under its
// own snapshot directory and loads them with the same validating reader
// local recovery uses, rather than re-implementing the format.
func (e *Engine) loadSnapshotBody(body []byte) error {
	if err := os.MkdirAll(e.cfg.Snapshot.Dir, 0o755); err != nil {
		return fmt.Errorf("engine: mkdir snapshot dir: %w", err)
	}
	tmp := filepath.Join(e.cfg.Snapshot.Dir, fmt.Sprintf("fullsync-%d.bin", nowUnix()))
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("engine: write full-sync snapshot: %w", err)
	}
	snap, err := snapshot.Load(tmp)
	if err != nil {
		return fmt.Errorf("engine: load full-sync snapshot: %w", err)
	}
	e.recovering.Store(true)
	defer e.recovering.Store(false)
	recovery.RestoreSnapshot(recovery.Stores{KV: e.KV, Queues: e.Queues, Streams: e.Streams}, snap)
	return nil
}

// recordWrite is the single choke point every mutating command method
// funnels through: append to the WAL (honoring fsync_mode before
// returning), then append to the replication log and fan out to connected
// replicas if this node is a master. Skipped entirely while recovering,
// since recovery/replica-apply operations are replays of writes that were
// already durable once (spec.md §4.I, §4.J).
func (e *Engine) recordWrite(operation op.Operation) error {
	if e.recovering.Load() {
		return nil
	}
	if e.wal != nil {
		start := time.Now()
		_, err := e.wal.Append(operation)
		metrics.WALFsyncSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("%w: %v", op.ErrPersistence, err)
		}
	}
	if e.master != nil {
		e.master.Replicate(operation)
	} else if e.replLog != nil {
		e.replLog.Append(operation)
	}
	metrics.OpsTotal.WithLabelValues(operation.Kind.String()).Inc()
	e.maybeSnapshot()
	return nil
}

// maybeSnapshot triggers a snapshot after a threshold of ops so the WAL can
// eventually be truncated; spec.md §4.H leaves the exact cadence
// implementation-defined.
func (e *Engine) maybeSnapshot() {
	if e.wal == nil {
		return
	}
	const snapshotEveryOps = 10000
	if e.opsSinceSnapshot.Add(1) < snapshotEveryOps {
		return
	}
	coveredOffset := e.wal.CurrentOffset()
	if _, err := e.snapshotNow(); err == nil {
		metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
		_ = e.wal.Truncate(coveredOffset)
	} else {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
	}
}

// ReportQueueDepths refreshes the queue_depth gauge for every registered
// queue; cmd/synapd calls this on a ticker rather than the engine polling
// itself, since metrics scraping cadence is an operational concern.
func (e *Engine) ReportQueueDepths() {
	for _, name := range e.Queues.ListQueues() {
		stats, err := e.Queues.Stats(name)
		if err != nil {
			continue
		}
		metrics.QueueDepth.WithLabelValues(name).Set(float64(stats.Depth))
	}
}

// ReportReplicationLag refreshes the replication_lag_ops gauge; a no-op if
// this node isn't a replica. cmd/synapd calls this on the same ticker as
// ReportQueueDepths.
func (e *Engine) ReportReplicationLag() {
	if e.replica == nil {
		return
	}
	metrics.ReplicationLagOps.Set(float64(e.replica.Lag()))
}

// checkRoute runs key through the cluster routing hook, if one is
// configured (spec.md §4.L). A nil *routing.Hook or nil Topology always
// proceeds locally.
func (e *Engine) checkRoute(key string) error {
	return e.routing.Check(key)
}

func nowUnix() int64 { return now() }
