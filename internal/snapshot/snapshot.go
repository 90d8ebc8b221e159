// Package snapshot implements spec.md §4.H's snapshot engine: a
// length-prefixed, CRC64-checksummed point-in-time dump of the KV, queue,
// and stream stores, with optional zstd compression of the body. Create
// collects every section into memory and encodes the whole body before
// writing it; the sections are not streamed to disk.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	magic         = "SYNAP002"
	formatVersion = 2
)

var crcTable = crc64.MakeTable(crc64.ISO)

// KVEntry is one record in the snapshot's KV section.
type KVEntry struct {
	Key       string
	Value     []byte
	ExpiresAt *int64
}

// QueueEntry is one record in the snapshot's queue section: enough to
// reconstruct a Queue's ready/pending/dlq state.
type QueueEntry struct {
	Name           string
	MaxDepth       int
	AckDeadlineSec int64
	Seq            uint64
	Ready          []QueueMessage
	Pending        []PendingMessage
	DLQ            []QueueMessage
}

type QueueMessage struct {
	ID         string
	Payload    []byte
	Priority   uint8
	RetryCount int
	MaxRetries int
	EnqueueSeq uint64
}

type PendingMessage struct {
	Message     QueueMessage
	ConsumerID  string
	AckDeadline int64
}

// StreamEntry is one record in the snapshot's stream section.
type StreamEntry struct {
	Room       string
	NextOffset uint64
	Events     []StreamEvent
}

type StreamEvent struct {
	Offset    uint64
	EventType string
	Payload   []byte
}

// Sources abstracts the stores a snapshot is built from, so this package
// never imports internal/kv, internal/queue, or internal/stream directly
// (internal/recovery is the composition point that wires concrete stores
// to these closures).
type Sources struct {
	DumpKV     func(fn func(KVEntry) error) error
	DumpQueues func() []QueueEntry
	DumpStreams func() []StreamEntry
}

// Config controls where snapshots live and how many are retained.
type Config struct {
	Dir          string
	MaxSnapshots int
	Compress     bool
}

func (c Config) withDefaults() Config {
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = 3
	}
	return c
}

// payload is the decompressed body whose bytes the CRC64 trailer covers.
type payload struct {
	Timestamp int64
	WALOffset uint64
	KV        []KVEntry
	Queues    []QueueEntry
	Streams   []StreamEntry
}

// Create streams a snapshot from src to a new file under cfg.Dir, fsyncs
// it, and atomically renames it into place, then enforces MaxSnapshots
// retention. Returns the final file path.
func Create(cfg Config, src Sources, walOffset uint64) (string, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: mkdir: %w", err)
	}

	p := payload{Timestamp: time.Now().Unix(), WALOffset: walOffset}
	if src.DumpKV != nil {
		if err := src.DumpKV(func(e KVEntry) error {
			p.KV = append(p.KV, e)
			return nil
		}); err != nil {
			return "", fmt.Errorf("snapshot: dump kv: %w", err)
		}
	}
	if src.DumpQueues != nil {
		p.Queues = src.DumpQueues()
	}
	if src.DumpStreams != nil {
		p.Streams = src.DumpStreams()
	}

	body, err := msgpack.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal body: %w", err)
	}
	if cfg.Compress {
		body, err = compress(body)
		if err != nil {
			return "", err
		}
	}

	name := fmt.Sprintf("snapshot-v%d-%d.bin", formatVersion, p.Timestamp)
	finalPath := filepath.Join(cfg.Dir, name)
	tmpPath := finalPath + ".tmp"

	if err := writeFile(tmpPath, body, cfg.Compress); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("snapshot: rename into place: %w", err)
	}

	if err := enforceRetention(cfg); err != nil {
		return finalPath, err
	}
	return finalPath, nil
}

func writeFile(path string, body []byte, compressed bool) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("snapshot: open temp: %w", err)
	}
	w := bufio.NewWriter(f)

	if _, err := w.WriteString(magic); err != nil {
		return closeAndReturn(f, err)
	}
	if err := w.WriteByte(formatVersion); err != nil {
		return closeAndReturn(f, err)
	}
	if err := w.WriteByte(boolByte(compressed)); err != nil {
		return closeAndReturn(f, err)
	}

	// Length-prefix the (possibly compressed) body.
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return closeAndReturn(f, err)
	}
	if _, err := w.Write(body); err != nil {
		return closeAndReturn(f, err)
	}

	// CRC64 trailer is computed over the body bytes as written (the
	// compressed bytes when compression is on); the header is not covered.
	crc := crc64.Checksum(body, crcTable)
	var crcBuf [8]byte
	binary.LittleEndian.PutUint64(crcBuf[:], crc)
	if _, err := w.Write(crcBuf[:]); err != nil {
		return closeAndReturn(f, err)
	}

	if err := w.Flush(); err != nil {
		return closeAndReturn(f, err)
	}
	if err := f.Sync(); err != nil {
		return closeAndReturn(f, err)
	}
	return f.Close()
}

func closeAndReturn(f *os.File, err error) error {
	_ = f.Close()
	return err
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func compress(body []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(body, nil), nil
}

func decompress(body []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: zstd reader: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(body, nil)
}

// Snapshot is the in-memory representation produced by Load.
type Snapshot struct {
	Timestamp uint64
	WALOffset uint64
	KV        []KVEntry
	Queues    []QueueEntry
	Streams   []StreamEntry
}

// LoadLatest finds the newest snapshot file in cfg.Dir by embedded
// timestamp and loads it, falling back to the next-latest if the trailer
// fails to validate, per spec.md §4.H.
func LoadLatest(cfg Config) (*Snapshot, string, error) {
	files, err := listByRecency(cfg.Dir)
	if err != nil {
		return nil, "", err
	}
	var lastErr error
	for _, path := range files {
		snap, err := Load(path)
		if err == nil {
			return snap, path, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", nil
}

// Load reads, validates, and decodes one snapshot file.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil || string(magicBuf) != magic {
		return nil, fmt.Errorf("snapshot: bad magic in %s", path)
	}
	version, err := r.ReadByte()
	if err != nil || version != formatVersion {
		return nil, fmt.Errorf("snapshot: unsupported version in %s", path)
	}
	compressedByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("snapshot: truncated header in %s", path)
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("snapshot: truncated length in %s", path)
	}
	bodyLen := binary.LittleEndian.Uint64(lenBuf[:])
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("snapshot: truncated body in %s", path)
	}

	var crcBuf [8]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, fmt.Errorf("snapshot: missing trailer in %s", path)
	}
	wantCRC := binary.LittleEndian.Uint64(crcBuf[:])
	if crc64.Checksum(body, crcTable) != wantCRC {
		return nil, fmt.Errorf("snapshot: CRC64 trailer mismatch in %s", path)
	}

	if compressedByte == 1 {
		body, err = decompress(body)
		if err != nil {
			return nil, fmt.Errorf("snapshot: decompress %s: %w", path, err)
		}
	}

	var p payload
	if err := msgpack.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("snapshot: decode body of %s: %w", path, err)
	}

	return &Snapshot{
		Timestamp: uint64(p.Timestamp), WALOffset: p.WALOffset,
		KV: p.KV, Queues: p.Queues, Streams: p.Streams,
	}, nil
}

// Stats reports how many snapshot files currently exist under cfg.Dir.
func Stats(cfg Config) (int, error) {
	files, err := listByRecency(cfg.Dir)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

func listByRecency(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "snapshot-v") && strings.HasSuffix(e.Name(), ".bin") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names))) // timestamp suffix sorts lexically = chronologically
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out, nil
}

// enforceRetention deletes the oldest files beyond cfg.MaxSnapshots.
func enforceRetention(cfg Config) error {
	files, err := listByRecency(cfg.Dir)
	if err != nil {
		return err
	}
	for _, path := range files[min(len(files), cfg.MaxSnapshots):] {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("snapshot: remove old %s: %w", path, err)
		}
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
