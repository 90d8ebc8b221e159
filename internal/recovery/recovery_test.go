package recovery

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synaplabs/synap/internal/kv"
	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/queue"
	"github.com/synaplabs/synap/internal/snapshot"
	"github.com/synaplabs/synap/internal/stream"
	"github.com/synaplabs/synap/internal/wal"
)

func applyToStores(stores Stores) Apply {
	return func(o op.Operation) error {
		switch o.Kind {
		case op.KindKVSet:
			p := o.Payload.(*op.KVSetPayload)
			stores.KV.Set(o.Timestamp, p.Key, p.Value, p.TTL)
		case op.KindKVDel:
			p := o.Payload.(*op.KVDelPayload)
			for _, k := range p.Keys {
				stores.KV.Delete(o.Timestamp, k)
			}
		case op.KindQueuePublish:
			p := o.Payload.(*op.QueuePublishPayload)
			stores.Queues.CreateQueue(p.Queue, 0, 30)
			stores.Queues.Publish(o.Timestamp, p.Queue, p.Payload, p.Priority, p.MaxRetries)
		case op.KindStreamPublish:
			p := o.Payload.(*op.StreamPublishPayload)
			stores.Streams.CreateRoom(p.Room, 0)
			stores.Streams.Publish(o.Timestamp, p.Room, p.EventType, p.Payload)
		}
		return nil
	}
}

func TestRecoverFromEmptyStateReplaysEntireWAL(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.Open(wal.Config{Path: filepath.Join(dir, "wal.log"), FsyncMode: wal.FsyncAlways})
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(op.Operation{Kind: op.KindKVSet, Timestamp: 1, Payload: &op.KVSetPayload{Key: "a", Value: []byte("1")}})
	require.NoError(t, err)
	_, err = w.Append(op.Operation{Kind: op.KindKVSet, Timestamp: 2, Payload: &op.KVSetPayload{Key: "b", Value: []byte("2")}})
	require.NoError(t, err)

	stores := Stores{KV: kv.New(kv.Config{}), Queues: queue.NewManager(), Streams: stream.NewManager()}
	result, err := Recover(snapshot.Config{Dir: filepath.Join(dir, "snapshots")}, w, stores, applyToStores(stores))
	require.NoError(t, err)
	require.Equal(t, 2, result.ReplayedOps)
	require.Equal(t, uint64(1), result.TailOffset)

	v, ok := stores.KV.Get(0, "a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestRecoverFromSnapshotOnlyReplaysTail(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal.log")
	w, err := wal.Open(wal.Config{Path: walPath, FsyncMode: wal.FsyncAlways})
	require.NoError(t, err)

	_, err = w.Append(op.Operation{Kind: op.KindKVSet, Timestamp: 1, Payload: &op.KVSetPayload{Key: "a", Value: []byte("1")}})
	require.NoError(t, err)
	_, err = w.Append(op.Operation{Kind: op.KindKVSet, Timestamp: 2, Payload: &op.KVSetPayload{Key: "b", Value: []byte("2")}})
	require.NoError(t, err)

	snapCfg := snapshot.Config{Dir: filepath.Join(dir, "snapshots")}
	kvStore := kv.New(kv.Config{})
	kvStore.Restore("a", []byte("1"), nil)
	snapStores := Stores{KV: kvStore, Queues: queue.NewManager(), Streams: stream.NewManager()}
	_, err = snapshot.Create(snapCfg, Sources(snapStores), 0)
	require.NoError(t, err)

	_, err = w.Append(op.Operation{Kind: op.KindKVSet, Timestamp: 3, Payload: &op.KVSetPayload{Key: "c", Value: []byte("3")}})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := wal.Open(wal.Config{Path: walPath, FsyncMode: wal.FsyncAlways})
	require.NoError(t, err)
	defer w2.Close()

	stores := Stores{KV: kv.New(kv.Config{}), Queues: queue.NewManager(), Streams: stream.NewManager()}
	result, err := Recover(snapCfg, w2, stores, applyToStores(stores))
	require.NoError(t, err)
	require.Equal(t, 2, result.ReplayedOps)
	require.NotEmpty(t, result.SnapshotPath)

	_, ok := stores.KV.Get(0, "a")
	require.True(t, ok)
	_, ok = stores.KV.Get(0, "c")
	require.True(t, ok)
}
