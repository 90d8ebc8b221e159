// Package op defines Operation, the canonical serializable representation of
// every mutation the engine can perform. Every store that accepts writes
// (kv, collections, queue, stream) produces exactly one Operation per
// accepted command; the WAL, the replication log, and the snapshot/recovery
// pipeline all move Operations around without needing to know anything about
// the store that produced them.
//
// See doc.go for the wire format and the full variant catalogue.
package op

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies an Operation variant. It is serialized as a field of the
// msgpack document Encode produces, next to the timestamp and payload, and
// Decode uses it to pick the concrete payload type.
type Kind uint8

const (
	KindUnknown Kind = iota

	// Key/value.
	KindKVSet
	KindKVDel
	KindKVIncr

	// Hash.
	KindHashSet
	KindHashDel
	KindHashIncrBy
	KindHashIncrByFloat

	// List.
	KindListPush
	KindListPop
	KindListSet
	KindListTrim
	KindListRem
	KindListInsert
	KindListRpoplpush

	// Set.
	KindSetAdd
	KindSetRem
	KindSetMove

	// Sorted set.
	KindZAdd
	KindZRem
	KindZIncrBy
	KindZPop

	// Bitmap.
	KindBitSet
	KindBitOp
	KindBitField

	// HyperLogLog.
	KindPFAdd
	KindPFMerge

	// Geospatial (layered on zset, kept distinct for replay clarity).
	KindGeoAdd

	// Queue.
	KindQueuePublish
	KindQueueAck
	KindQueueNack
	KindQueueReclaim

	// Stream.
	KindStreamPublish
)

// String renders a Kind for logs and error messages.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

var kindNames = map[Kind]string{
	KindKVSet:           "KVSet",
	KindKVDel:           "KVDel",
	KindKVIncr:          "KVIncr",
	KindHashSet:         "HashSet",
	KindHashDel:         "HashDel",
	KindHashIncrBy:      "HashIncrBy",
	KindHashIncrByFloat: "HashIncrByFloat",
	KindListPush:        "ListPush",
	KindListPop:         "ListPop",
	KindListSet:         "ListSet",
	KindListTrim:        "ListTrim",
	KindListRem:         "ListRem",
	KindListInsert:      "ListInsert",
	KindListRpoplpush:   "ListRpoplpush",
	KindSetAdd:          "SetAdd",
	KindSetRem:          "SetRem",
	KindSetMove:         "SetMove",
	KindZAdd:            "ZAdd",
	KindZRem:            "ZRem",
	KindZIncrBy:         "ZIncrBy",
	KindZPop:            "ZPop",
	KindBitSet:          "BitSet",
	KindBitOp:           "BitOp",
	KindBitField:        "BitField",
	KindPFAdd:           "PFAdd",
	KindPFMerge:         "PFMerge",
	KindGeoAdd:          "GeoAdd",
	KindQueuePublish:    "QueuePublish",
	KindQueueAck:        "QueueAck",
	KindQueueNack:       "QueueNack",
	KindQueueReclaim:    "QueueReclaim",
	KindStreamPublish:   "StreamPublish",
}

// Operation is the closed sum type flowing through every write path: the
// dispatcher in internal/engine, the WAL, and the replication log (snapshots
// hold plain state records, not Operations). An Operation carries no offset itself:
// the WAL and the replication log each assign their own offset to the entry
// that wraps it, and track those offsets independently. Timestamp is set by
// the store call that produced the Operation.
type Operation struct {
	// Payload is exactly one of the *Payload types below, chosen by Kind.
	// Kept as `any` in memory; Encode/Decode narrow it through the Kind tag
	// rather than a type registry, so a corrupt Kind byte fails fast instead
	// of silently decoding into the wrong struct.
	Payload   any
	Timestamp int64
	Kind      Kind
}

// Payload variants. Field names match spec.md §3 verbatim; TTL/expiry are
// seconds-since-epoch per the spec's StoredValue definition.

type KVSetPayload struct {
	Key   string
	Value []byte
	TTL   *int64 `msgpack:"ttl,omitempty"`
}

type KVDelPayload struct {
	Keys []string
}

type KVIncrPayload struct {
	Key    string
	Amount int64
}

type HashSetPayload struct {
	Key    string
	Fields map[string][]byte
}

type HashDelPayload struct {
	Key    string
	Fields []string
}

type HashIncrByPayload struct {
	Key    string
	Field  string
	Amount int64
}

type HashIncrByFloatPayload struct {
	Key    string
	Field  string
	Amount float64
}

type ListPushPayload struct {
	Key    string
	Values [][]byte
	Left   bool
}

type ListPopPayload struct {
	Key   string
	Left  bool
	Count int
}

type ListSetPayload struct {
	Key   string
	Index int
	Value []byte
}

type ListTrimPayload struct {
	Key        string
	Start, Stop int
}

type ListRemPayload struct {
	Key   string
	Count int
	Value []byte
}

type ListInsertPayload struct {
	Key      string
	Pivot    []byte
	Value    []byte
	Before   bool
}

type ListRpoplpushPayload struct {
	Source      string
	Destination string
}

type SetAddPayload struct {
	Key     string
	Members [][]byte
}

type SetRemPayload struct {
	Key     string
	Members [][]byte
}

type SetMovePayload struct {
	Source      string
	Destination string
	Member      []byte
}

type ZAddPayload struct {
	Key     string
	Members map[string]float64
}

type ZRemPayload struct {
	Key     string
	Members []string
}

type ZIncrByPayload struct {
	Key    string
	Member string
	Delta  float64
}

type ZPopPayload struct {
	Key string
	Min bool
	N   int
}

type BitSetPayload struct {
	Key    string
	Offset int64
	Value  bool
}

type BitOpPayload struct {
	Op          string // AND|OR|XOR|NOT
	Destination string
	Sources     []string
}

type BitFieldPayload struct {
	Key string
	Ops []BitFieldSubOp
}

type BitFieldSubOp struct {
	Kind     string // GET|SET|INCRBY
	Signed   bool
	Width    int
	Offset   int64
	Value    int64
	Overflow string // WRAP|SAT|FAIL
}

type PFAddPayload struct {
	Key      string
	Elements [][]byte
}

type PFMergePayload struct {
	Destination string
	Sources     []string
}

type GeoAddPayload struct {
	Key   string
	Items []GeoItem
}

type GeoItem struct {
	Member string
	Lon    float64
	Lat    float64
}

type QueuePublishPayload struct {
	Queue      string
	MessageID  string
	Payload    []byte
	Priority   uint8
	MaxRetries int
}

type QueueAckPayload struct {
	Queue     string
	MessageID string
}

type QueueNackPayload struct {
	Queue     string
	MessageID string
	Requeue   bool
}

type QueueReclaimPayload struct {
	Queue      string
	MessageIDs []string
}

type StreamPublishPayload struct {
	Room      string
	EventType string
	Payload   []byte
	Offset    uint64
}

// payloadFactory returns a fresh zero-value pointer for a Kind so Decode can
// unmarshal into it without a giant switch at every call site.
func payloadFactory(k Kind) (any, error) {
	switch k {
	case KindKVSet:
		return &KVSetPayload{}, nil
	case KindKVDel:
		return &KVDelPayload{}, nil
	case KindKVIncr:
		return &KVIncrPayload{}, nil
	case KindHashSet:
		return &HashSetPayload{}, nil
	case KindHashDel:
		return &HashDelPayload{}, nil
	case KindHashIncrBy:
		return &HashIncrByPayload{}, nil
	case KindHashIncrByFloat:
		return &HashIncrByFloatPayload{}, nil
	case KindListPush:
		return &ListPushPayload{}, nil
	case KindListPop:
		return &ListPopPayload{}, nil
	case KindListSet:
		return &ListSetPayload{}, nil
	case KindListTrim:
		return &ListTrimPayload{}, nil
	case KindListRem:
		return &ListRemPayload{}, nil
	case KindListInsert:
		return &ListInsertPayload{}, nil
	case KindListRpoplpush:
		return &ListRpoplpushPayload{}, nil
	case KindSetAdd:
		return &SetAddPayload{}, nil
	case KindSetRem:
		return &SetRemPayload{}, nil
	case KindSetMove:
		return &SetMovePayload{}, nil
	case KindZAdd:
		return &ZAddPayload{}, nil
	case KindZRem:
		return &ZRemPayload{}, nil
	case KindZIncrBy:
		return &ZIncrByPayload{}, nil
	case KindZPop:
		return &ZPopPayload{}, nil
	case KindBitSet:
		return &BitSetPayload{}, nil
	case KindBitOp:
		return &BitOpPayload{}, nil
	case KindBitField:
		return &BitFieldPayload{}, nil
	case KindPFAdd:
		return &PFAddPayload{}, nil
	case KindPFMerge:
		return &PFMergePayload{}, nil
	case KindGeoAdd:
		return &GeoAddPayload{}, nil
	case KindQueuePublish:
		return &QueuePublishPayload{}, nil
	case KindQueueAck:
		return &QueueAckPayload{}, nil
	case KindQueueNack:
		return &QueueNackPayload{}, nil
	case KindQueueReclaim:
		return &QueueReclaimPayload{}, nil
	case KindStreamPublish:
		return &StreamPublishPayload{}, nil
	default:
		return nil, fmt.Errorf("op: unknown kind %d", k)
	}
}

// Encode serializes an Operation's Kind and Payload into a single msgpack
// document: a map of wireOperation's fields (payload, kind, timestamp). This is the value that the WAL
// and replication log frame with their own length+checksum envelope (see
// internal/wal and internal/replication) — Encode itself never touches a
// file or a socket.
func Encode(o Operation) ([]byte, error) {
	return msgpack.Marshal(wireOperation{
		Kind:      o.Kind,
		Timestamp: o.Timestamp,
		Payload:   o.Payload,
	})
}

// Decode is the inverse of Encode. A malformed Kind or a payload that
// doesn't match its Kind's shape returns an error; callers (WAL replay,
// replica receive) treat that as "end of valid data" per
// spec.md §4.A, not as a fatal process error.
func Decode(b []byte) (Operation, error) {
	var raw struct {
		Kind      Kind
		Timestamp int64
		Payload   msgpack.RawMessage
	}
	if err := msgpack.Unmarshal(b, &raw); err != nil {
		return Operation{}, fmt.Errorf("op: decode envelope: %w", err)
	}
	payload, err := payloadFactory(raw.Kind)
	if err != nil {
		return Operation{}, err
	}
	if err := msgpack.Unmarshal(raw.Payload, payload); err != nil {
		return Operation{}, fmt.Errorf("op: decode payload for %s: %w", raw.Kind, err)
	}
	return Operation{Kind: raw.Kind, Timestamp: raw.Timestamp, Payload: payload}, nil
}

// wireOperation is the concrete msgpack shape used by Encode; kept distinct
// from Operation so Operation.Payload can stay `any` while the wire form
// never has to special-case a Go interface value.
type wireOperation struct {
	Payload   any
	Kind      Kind
	Timestamp int64
}
