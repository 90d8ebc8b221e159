package engine

import (
	"fmt"

	"github.com/synaplabs/synap/internal/op"
)

// Dispatch applies one already-accepted Operation to the matching store,
// per spec.md §9's "a single dispatch function maps Operation variants to
// store calls". It is the one switch over op.Kind in the whole module;
// internal/recovery's WAL replay and a replica's applyReplicated both call
// it instead of duplicating this table. Dispatch never appends to the WAL
// or replication log itself — callers that need that (the live command
// methods in commands.go) call recordWrite separately.
//
// An Apply failure for a replayed operation (e.g. a type error against
// state that has since changed shape) is reported but, per spec.md §4.I,
// must never abort the caller's replay loop; recovery and replica-apply
// both already treat a non-nil return as "skip and continue", not "stop".
func (e *Engine) Dispatch(operation op.Operation) error {
	ts := operation.Timestamp
	switch operation.Kind {

	case op.KindKVSet:
		p := operation.Payload.(*op.KVSetPayload)
		e.KV.Set(ts, p.Key, p.Value, p.TTL)
		return nil
	case op.KindKVDel:
		p := operation.Payload.(*op.KVDelPayload)
		for _, k := range p.Keys {
			e.KV.Delete(ts, k)
		}
		return nil
	case op.KindKVIncr:
		p := operation.Payload.(*op.KVIncrPayload)
		_, _, err := e.KV.Incr(ts, p.Key, p.Amount)
		return err

	case op.KindHashSet:
		p := operation.Payload.(*op.HashSetPayload)
		_, _ = e.Hash.Set(ts, p.Key, p.Fields)
		return nil
	case op.KindHashDel:
		p := operation.Payload.(*op.HashDelPayload)
		_, _ = e.Hash.Del(ts, p.Key, p.Fields)
		return nil
	case op.KindHashIncrBy:
		p := operation.Payload.(*op.HashIncrByPayload)
		_, _, err := e.Hash.IncrBy(ts, p.Key, p.Field, p.Amount)
		return err
	case op.KindHashIncrByFloat:
		p := operation.Payload.(*op.HashIncrByFloatPayload)
		_, _, err := e.Hash.IncrByFloat(ts, p.Key, p.Field, p.Amount)
		return err

	case op.KindListPush:
		p := operation.Payload.(*op.ListPushPayload)
		_, _ = e.List.Push(ts, p.Key, p.Values, p.Left)
		return nil
	case op.KindListPop:
		p := operation.Payload.(*op.ListPopPayload)
		_, _ = e.List.Pop(ts, p.Key, p.Left, p.Count)
		return nil
	case op.KindListSet:
		p := operation.Payload.(*op.ListSetPayload)
		_, _ = e.List.Set(ts, p.Key, p.Index, p.Value)
		return nil
	case op.KindListTrim:
		p := operation.Payload.(*op.ListTrimPayload)
		_ = e.List.Trim(ts, p.Key, p.Start, p.Stop)
		return nil
	case op.KindListRem:
		p := operation.Payload.(*op.ListRemPayload)
		_, _ = e.List.Rem(ts, p.Key, p.Count, p.Value)
		return nil
	case op.KindListInsert:
		p := operation.Payload.(*op.ListInsertPayload)
		_, _ = e.List.Insert(ts, p.Key, p.Pivot, p.Value, p.Before)
		return nil
	case op.KindListRpoplpush:
		p := operation.Payload.(*op.ListRpoplpushPayload)
		_, _ = e.List.Rpoplpush(ts, p.Source, p.Destination)
		return nil

	case op.KindSetAdd:
		p := operation.Payload.(*op.SetAddPayload)
		_, _ = e.Set.Add(ts, p.Key, p.Members)
		return nil
	case op.KindSetRem:
		p := operation.Payload.(*op.SetRemPayload)
		_, _ = e.Set.Rem(ts, p.Key, p.Members)
		return nil
	case op.KindSetMove:
		p := operation.Payload.(*op.SetMovePayload)
		_, _ = e.Set.Move(ts, p.Source, p.Destination, p.Member)
		return nil

	case op.KindZAdd:
		p := operation.Payload.(*op.ZAddPayload)
		_, _ = e.ZSet.Add(ts, p.Key, p.Members)
		return nil
	case op.KindZRem:
		p := operation.Payload.(*op.ZRemPayload)
		_, _ = e.ZSet.Rem(ts, p.Key, p.Members)
		return nil
	case op.KindZIncrBy:
		p := operation.Payload.(*op.ZIncrByPayload)
		_, _ = e.ZSet.IncrBy(ts, p.Key, p.Member, p.Delta)
		return nil
	case op.KindZPop:
		p := operation.Payload.(*op.ZPopPayload)
		_, _ = e.ZSet.Pop(ts, p.Key, p.Min, p.N)
		return nil

	case op.KindBitSet:
		p := operation.Payload.(*op.BitSetPayload)
		_, _ = e.Bitmap.SetBit(ts, p.Key, p.Offset, p.Value)
		return nil
	case op.KindBitOp:
		p := operation.Payload.(*op.BitOpPayload)
		_, _ = e.Bitmap.BitOp(ts, p.Op, p.Destination, p.Sources)
		return nil
	case op.KindBitField:
		p := operation.Payload.(*op.BitFieldPayload)
		_, _ = e.Bitmap.BitField(ts, p.Key, p.Ops)
		return nil

	case op.KindPFAdd:
		p := operation.Payload.(*op.PFAddPayload)
		_, _ = e.HLL.Add(ts, p.Key, p.Elements)
		return nil
	case op.KindPFMerge:
		p := operation.Payload.(*op.PFMergePayload)
		_ = e.HLL.Merge(ts, p.Destination, p.Sources)
		return nil

	case op.KindGeoAdd:
		p := operation.Payload.(*op.GeoAddPayload)
		_, _ = e.Geo.Add(ts, p.Key, p.Items)
		return nil

	case op.KindQueuePublish:
		p := operation.Payload.(*op.QueuePublishPayload)
		e.Queues.ApplyPublish(p.Queue, p.MessageID, p.Payload, p.Priority, p.MaxRetries)
		return nil
	case op.KindQueueAck:
		p := operation.Payload.(*op.QueueAckPayload)
		_, err := e.Queues.Ack(ts, p.Queue, p.MessageID)
		return err
	case op.KindQueueNack:
		p := operation.Payload.(*op.QueueNackPayload)
		_, err := e.Queues.Nack(ts, p.Queue, p.MessageID, p.Requeue)
		return err
	case op.KindQueueReclaim:
		p := operation.Payload.(*op.QueueReclaimPayload)
		e.Queues.ApplyReclaim(p.Queue, p.MessageIDs)
		return nil

	case op.KindStreamPublish:
		p := operation.Payload.(*op.StreamPublishPayload)
		e.Streams.Publish(ts, p.Room, p.EventType, p.Payload)
		return nil

	default:
		return fmt.Errorf("engine: dispatch: unhandled kind %s", operation.Kind)
	}
}
