package replication

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synaplabs/synap/internal/kv"
	"github.com/synaplabs/synap/internal/op"
)

func TestLogAppendAndGetFromOffset(t *testing.T) {
	log := NewLog(4)
	log.Append(op.Operation{Kind: op.KindKVSet, Payload: &op.KVSetPayload{Key: "a"}})
	log.Append(op.Operation{Kind: op.KindKVSet, Payload: &op.KVSetPayload{Key: "b"}})

	entries, ok := log.GetFromOffset(1)
	require.True(t, ok)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(1), entries[0].Offset)
}

func TestLogGetFromOffsetTooOld(t *testing.T) {
	log := NewLog(2)
	for i := 0; i < 5; i++ {
		log.Append(op.Operation{Kind: op.KindKVSet, Payload: &op.KVSetPayload{Key: "k"}})
	}
	_, ok := log.GetFromOffset(0)
	require.False(t, ok)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestMasterReplicaPartialSyncConverges(t *testing.T) {
	log := NewLog(1024)
	master := NewMasterNode(log, nil)
	addr := freeAddr(t)
	go master.ListenAndServe(addr)
	defer master.Close()
	time.Sleep(20 * time.Millisecond)

	store := kv.New(kv.Config{})
	replica := NewReplicaNode(Config{MasterAddr: addr, ReconnectDelayMS: 50}, func(o op.Operation) error {
		if o.Kind == op.KindKVSet {
			p := o.Payload.(*op.KVSetPayload)
			store.Set(o.Timestamp, p.Key, p.Value, p.TTL)
		}
		return nil
	}, nil)
	go replica.Run()
	defer replica.Stop()
	time.Sleep(20 * time.Millisecond)

	master.Replicate(op.Operation{Kind: op.KindKVSet, Timestamp: 1, Payload: &op.KVSetPayload{Key: "a", Value: []byte("1")}})
	master.Replicate(op.Operation{Kind: op.KindKVSet, Timestamp: 2, Payload: &op.KVSetPayload{Key: "b", Value: []byte("2")}})

	require.Eventually(t, func() bool {
		v, ok := store.Get(0, "b")
		return ok && string(v) == "2"
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return replica.ReplicaOffset() == master.log.CurrentOffset()-1
	}, time.Second, 10*time.Millisecond)
}
