// Package wal implements spec.md §4.G's write-ahead log: a framed,
// checksummed append-only file with group commit and a bbolt-backed
// offset index (written on append; Replay scans the file and does not
// read it).
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/storage"
)

const (
	walMagic        = "SYNAP"
	walVersion byte = 1
	headerLen       = len(walMagic) + 1
)

// FsyncMode selects when appended batches are flushed to disk, per
// spec.md §4.G.
type FsyncMode string

const (
	FsyncAlways   FsyncMode = "always"
	FsyncPeriodic FsyncMode = "periodic"
	FsyncNever    FsyncMode = "never"
)

// Config configures an open WAL. BatchMax/BatchTimeout are the async
// writer's group-commit knobs (supplement grounded on the original
// implementation's configurable wal.batch_max/wal.batch_timeout_ms).
type Config struct {
	Path            string
	IndexPath       string
	FsyncMode       FsyncMode
	FsyncIntervalMS int
	BatchMax        int
	BatchTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.FsyncMode == "" {
		c.FsyncMode = FsyncPeriodic
	}
	if c.FsyncIntervalMS <= 0 {
		c.FsyncIntervalMS = 1000
	}
	if c.BatchMax <= 0 {
		c.BatchMax = 256
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Millisecond
	}
	return c
}

// Entry is one record read back via Replay.
type Entry struct {
	Offset    uint64
	Timestamp int64
	Operation op.Operation
}

// record is the on-disk shape inside one frame: WALEntry{offset,
// timestamp, operation} per spec.md §3. Timestamp is also carried inside
// Operation, but the spec names it at the entry level too (it is the
// append time, which can differ from an Operation replayed from another
// node during replication); wal keeps both for that reason.
type record struct {
	Offset    uint64
	Timestamp int64
	Encoded   []byte // op.Encode(operation)
}

type appendRequest struct {
	operation op.Operation
	reply     chan appendResult
}

type appendResult struct {
	offset uint64
	err    error
}

// WAL is an open write-ahead log. Writers call Append; a single background
// goroutine performs group commit per Config.FsyncMode.
type WAL struct {
	cfg Config

	file  *os.File
	index *storage.BoltIndexStore

	mu         sync.Mutex // guards nextOffset and lastFsync bookkeeping only
	nextOffset uint64
	lastFsync  time.Time

	requests chan appendRequest
	closing  chan struct{}
	closed   chan struct{}
}

// Open opens (creating if necessary) the WAL file and its offset index,
// scanning forward to the last valid entry so the next assigned offset is
// last_valid+1, per spec.md §4.G.
func Open(cfg Config) (*WAL, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", cfg.Path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", cfg.Path, err)
	}
	if stat.Size() == 0 {
		if err := writeHeader(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("wal: write header: %w", err)
		}
	} else if err := readHeader(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	lastValidEnd, lastOffset, hadAny, err := scanToEnd(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Truncate(lastValidEnd); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: truncate torn tail: %w", err)
	}
	if _, err := f.Seek(lastValidEnd, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: seek to tail: %w", err)
	}

	var index *storage.BoltIndexStore
	if cfg.IndexPath != "" {
		index, err = storage.OpenBoltIndexStore(cfg.IndexPath)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	nextOffset := uint64(0)
	if hadAny {
		nextOffset = lastOffset + 1
	}

	w := &WAL{
		cfg:        cfg,
		file:       f,
		index:      index,
		nextOffset: nextOffset,
		requests:   make(chan appendRequest, 1024),
		closing:    make(chan struct{}),
		closed:     make(chan struct{}),
	}
	go w.writerLoop()
	return w, nil
}

// writeHeader stamps a new WAL file with the SYNAP magic marker and format
// version byte (spec.md §3, §6), so a reader can tell this file apart from
// a stray or unrelated file before trusting its frames.
func writeHeader(f *os.File) error {
	if _, err := f.WriteString(walMagic); err != nil {
		return err
	}
	_, err := f.Write([]byte{walVersion})
	return err
}

// readHeader validates the SYNAP magic marker and format version at the
// start of an existing WAL file, leaving the file positioned just past the
// header.
func readHeader(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek start: %w", err)
	}
	buf := make([]byte, len(walMagic))
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("wal: read magic: %w", err)
	}
	if string(buf) != walMagic {
		return fmt.Errorf("wal: bad magic %q, expected %q", buf, walMagic)
	}
	var v [1]byte
	if _, err := io.ReadFull(f, v[:]); err != nil {
		return fmt.Errorf("wal: read version: %w", err)
	}
	if v[0] != walVersion {
		return fmt.Errorf("wal: unsupported format version %d", v[0])
	}
	return nil
}

// scanToEnd reads every framed entry after the file header, stopping at the
// first short read or checksum mismatch (spec.md §4.G's corruption
// policy), and returns the byte offset just past the last valid entry and
// that entry's WAL offset.
func scanToEnd(f *os.File) (validEnd int64, lastOffset uint64, hadAny bool, err error) {
	if _, err = f.Seek(int64(headerLen), io.SeekStart); err != nil {
		return 0, 0, false, fmt.Errorf("wal: seek past header: %w", err)
	}
	r := bufio.NewReader(f)
	pos := int64(headerLen)
	for {
		frame, n, ferr := readFrame(r)
		if ferr != nil {
			break
		}
		rec, derr := decodeRecord(frame)
		if derr != nil {
			break
		}
		pos += int64(n)
		lastOffset = rec.Offset
		hadAny = true
	}
	return pos, lastOffset, hadAny, nil
}

func decodeRecord(frame []byte) (record, error) {
	var rec record
	if err := msgpack.Unmarshal(frame, &rec); err != nil {
		return record{}, err
	}
	return rec, nil
}

func readFrame(r *bufio.Reader) ([]byte, int, error) {
	var sizeBuf [8]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, 0, err
	}
	size := binary.LittleEndian.Uint64(sizeBuf[:])

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, 0, err
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, err
	}
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, 0, fmt.Errorf("wal: checksum mismatch")
	}
	return body, 8 + 4 + int(size), nil
}

func frameBytes(body []byte) []byte {
	buf := make([]byte, 8+4+len(body))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(body)))
	binary.LittleEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(body))
	copy(buf[12:], body)
	return buf
}

// Append enqueues operation for the group-commit writer and blocks until
// it has been durably written according to FsyncMode, returning its
// assigned offset.
func (w *WAL) Append(operation op.Operation) (uint64, error) {
	reply := make(chan appendResult, 1)
	select {
	case w.requests <- appendRequest{operation: operation, reply: reply}:
	case <-w.closing:
		return 0, fmt.Errorf("wal: closed")
	}
	result := <-reply
	return result.offset, result.err
}

// CurrentOffset returns the next offset that will be assigned.
func (w *WAL) CurrentOffset() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextOffset
}

func (w *WAL) writerLoop() {
	defer close(w.closed)
	batch := make([]appendRequest, 0, w.cfg.BatchMax)
	timer := time.NewTimer(w.cfg.BatchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.writeBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case req := <-w.requests:
			batch = append(batch, req)
			if len(batch) >= w.cfg.BatchMax {
				flush()
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.cfg.BatchTimeout)
		case <-timer.C:
			flush()
			timer.Reset(w.cfg.BatchTimeout)
		case <-w.closing:
			flush()
			return
		}
	}
}

func (w *WAL) writeBatch(batch []appendRequest) {
	w.mu.Lock()
	startOffset := w.nextOffset
	w.mu.Unlock()

	offsets := make([]uint64, len(batch))
	var writeErr error
	pos, posErr := w.file.Seek(0, io.SeekCurrent)
	if posErr != nil {
		writeErr = posErr
	}

	for i, req := range batch {
		offsets[i] = startOffset + uint64(i)
		if writeErr != nil {
			continue
		}
		encodedOp, err := op.Encode(req.operation)
		if err != nil {
			writeErr = err
			continue
		}
		body, err := msgpack.Marshal(record{Offset: offsets[i], Timestamp: req.operation.Timestamp, Encoded: encodedOp})
		if err != nil {
			writeErr = err
			continue
		}
		frame := frameBytes(body)
		n, err := w.file.Write(frame)
		if err != nil {
			writeErr = err
			continue
		}
		if w.index != nil {
			_ = w.index.Put(strconv.FormatUint(offsets[i], 10), posBytes(pos))
		}
		pos += int64(n)
	}

	if writeErr == nil {
		switch w.cfg.FsyncMode {
		case FsyncAlways:
			writeErr = w.file.Sync()
		case FsyncPeriodic:
			if time.Since(w.lastFsync) > time.Duration(w.cfg.FsyncIntervalMS)*time.Millisecond {
				writeErr = w.file.Sync()
				w.lastFsync = time.Now()
			}
		}
	}

	if writeErr == nil {
		w.mu.Lock()
		w.nextOffset = startOffset + uint64(len(batch))
		w.mu.Unlock()
	}

	for i, req := range batch {
		req.reply <- appendResult{offset: offsets[i], err: writeErr}
	}
}

func posBytes(pos int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(pos))
	return b
}

// Flush forces an fsync of everything written so far, bypassing the batch
// timeout (used by snapshot creation and clean shutdown).
func (w *WAL) Flush() error {
	return w.file.Sync()
}

// Close stops the writer goroutine after draining pending requests and
// closes the underlying file and index.
func (w *WAL) Close() error {
	close(w.closing)
	<-w.closed
	if w.index != nil {
		_ = w.index.Close()
	}
	return w.file.Close()
}

// Replay streams every entry with offset > fromOffset from the start of
// the file, stopping at the first corrupt or short record (spec.md §4.G,
// §4.A "end of valid data" semantics).
func (w *WAL) Replay(fromOffset uint64) ([]Entry, error) {
	f, err := os.Open(w.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("wal: reopen for replay: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(headerLen), io.SeekStart); err != nil {
		return nil, fmt.Errorf("wal: seek past header: %w", err)
	}
	r := bufio.NewReader(f)
	var out []Entry
	for {
		frame, _, ferr := readFrame(r)
		if ferr != nil {
			break
		}
		rec, derr := decodeRecord(frame)
		if derr != nil {
			break
		}
		if rec.Offset <= fromOffset {
			continue
		}
		operation, derr := op.Decode(rec.Encoded)
		if derr != nil {
			break
		}
		out = append(out, Entry{Offset: rec.Offset, Timestamp: rec.Timestamp, Operation: operation})
	}
	return out, nil
}

// Truncate rewrites the WAL file keeping only entries with offset >
// keepAfterOffset, atomically replacing the original (spec.md §4.G,
// triggered by the snapshot engine, never from the hot path). Kept
// entries retain their original offsets.
func (w *WAL) Truncate(keepAfterOffset uint64) error {
	entries, err := w.Replay(keepAfterOffset)
	if err != nil {
		return err
	}
	tmpPath := w.cfg.Path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open truncate temp: %w", err)
	}
	if err := writeHeader(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("wal: write header: %w", err)
	}
	for _, e := range entries {
		encodedOp, err := op.Encode(e.Operation)
		if err != nil {
			_ = tmp.Close()
			return err
		}
		body, err := msgpack.Marshal(record{Offset: e.Offset, Timestamp: e.Timestamp, Encoded: encodedOp})
		if err != nil {
			_ = tmp.Close()
			return err
		}
		if _, err := tmp.Write(frameBytes(body)); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.cfg.Path); err != nil {
		return fmt.Errorf("wal: rename truncated file: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	w.file = f
	return nil
}
