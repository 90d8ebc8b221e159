package replication

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/synaplabs/synap/internal/op"
)

// wireEntry is one {offset, operation} frame on the replication stream,
// framed identically to WAL entries (spec.md §6: "persistent TCP stream of
// {offset, operation-bytes} frames identical in framing to WAL entries").
type wireEntry struct {
	Offset  uint64
	Encoded []byte
}

func writeFrame(w io.Writer, body []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(body)))
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(body))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint64(header[0:8])
	wantCRC := binary.LittleEndian.Uint32(header[8:12])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, fmt.Errorf("replication: frame checksum mismatch")
	}
	return body, nil
}

func writeEntry(w io.Writer, e Entry) error {
	encoded, err := op.Encode(e.Operation)
	if err != nil {
		return err
	}
	body, err := msgpack.Marshal(wireEntry{Offset: e.Offset, Encoded: encoded})
	if err != nil {
		return err
	}
	return writeFrame(w, body)
}

func readEntry(r *bufio.Reader) (Entry, error) {
	body, err := readFrame(r)
	if err != nil {
		return Entry{}, err
	}
	var we wireEntry
	if err := msgpack.Unmarshal(body, &we); err != nil {
		return Entry{}, err
	}
	operation, err := op.Decode(we.Encoded)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Offset: we.Offset, Operation: operation}, nil
}

// syncRequest is the first frame a replica sends after connecting.
type syncRequest struct {
	FromOffset uint64
}

// syncResponse tells the replica whether it got a full snapshot (in which
// case SnapshotBody/SnapshotCRC32 are populated) or can resume streaming
// directly from FromOffset (partial sync).
type syncResponse struct {
	FullSync      bool
	SnapshotBody  []byte
	SnapshotCRC32 uint32
	FromOffset    uint64
}

func writeMsgpack(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return writeFrame(w, body)
}

func readMsgpack(r *bufio.Reader, v any) error {
	body, err := readFrame(r)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(body, v)
}

// wrapNetErr wraps net errors uniformly as op.ErrReplication for callers
// that only care "can I keep talking to the other side".
func wrapNetErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", op.ErrReplication, err)
}
