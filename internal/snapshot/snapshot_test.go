package snapshot

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSources() Sources {
	kv := []KVEntry{{Key: "a", Value: []byte("1")}, {Key: "b", Value: []byte("2")}}
	return Sources{
		DumpKV: func(fn func(KVEntry) error) error {
			for _, e := range kv {
				if err := fn(e); err != nil {
					return err
				}
			}
			return nil
		},
		DumpQueues: func() []QueueEntry {
			return []QueueEntry{{Name: "jobs", MaxDepth: 10, AckDeadlineSec: 30}}
		},
		DumpStreams: func() []StreamEntry {
			return []StreamEntry{{Room: "room1", NextOffset: 2, Events: []StreamEvent{{Offset: 0, EventType: "joined"}}}}
		},
	}
}

func TestCreateAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}

	path, err := Create(cfg, testSources(), 42)
	require.NoError(t, err)
	require.FileExists(t, path)

	snap, loadedPath, err := LoadLatest(cfg)
	require.NoError(t, err)
	require.Equal(t, path, loadedPath)
	require.Equal(t, uint64(42), snap.WALOffset)
	require.Len(t, snap.KV, 2)
	require.Equal(t, "jobs", snap.Queues[0].Name)
	require.Equal(t, "room1", snap.Streams[0].Room)
}

func TestCreateAndLoadRoundTripCompressed(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, Compress: true}

	path, err := Create(cfg, testSources(), 7)
	require.NoError(t, err)

	snap, err2 := Load(path)
	require.NoError(t, err2)
	require.Equal(t, uint64(7), snap.WALOffset)
	require.Len(t, snap.KV, 2)
}

func TestCorruptedCRCIsRejected(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}

	path, err := Create(cfg, testSources(), 1)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte near the end, inside the trailer, to break the CRC check.
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path)
	require.Error(t, err)
}

func TestLoadLatestFallsBackOnCorruption(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}

	badPath, err := Create(cfg, testSources(), 1)
	require.NoError(t, err)

	data, err := os.ReadFile(badPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(badPath, data, 0o644))

	goodPath, err := Create(cfg, testSources(), 2)
	require.NoError(t, err)
	require.NotEqual(t, badPath, goodPath)

	snap, loadedPath, err := LoadLatest(cfg)
	require.NoError(t, err)
	require.Equal(t, goodPath, loadedPath)
	require.Equal(t, uint64(2), snap.WALOffset)
}

func TestRetentionPrunesOldestFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, MaxSnapshots: 2}

	for i := 0; i < 3; i++ {
		_, err := Create(cfg, testSources(), uint64(i))
		require.NoError(t, err)
	}

	n, err := Stats(cfg)
	require.NoError(t, err)
	require.LessOrEqual(t, n, 2)
}
