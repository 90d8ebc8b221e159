package engine

import (
	"github.com/synaplabs/synap/internal/collections/geo"
	"github.com/synaplabs/synap/internal/collections/zset"
	"github.com/synaplabs/synap/internal/op"
	"github.com/synaplabs/synap/internal/pubsub"
	"github.com/synaplabs/synap/internal/queue"
	"github.com/synaplabs/synap/internal/stream"
)

// The methods below are the command-envelope surface spec.md §6 describes
// (`kv.set`, `queue.publish`, `bitmap.bitfield`, ...): each one runs the
// cluster routing check, performs the mutation against its store, records
// the resulting Operation (WAL + replication), and bumps the key's
// transaction version. internal/txn's WATCH/MULTI/EXEC sits in front of
// these for transactional clients (see Exec below); non-transactional
// clients call them directly.

// --- kv.* ---

func (e *Engine) KVSet(key string, value []byte, ttlSecs *int64) error {
	if err := e.checkRoute(key); err != nil {
		return err
	}
	o := e.KV.Set(nowUnix(), key, value, ttlSecs)
	e.Txn.Bump(key)
	return e.recordWrite(o)
}

func (e *Engine) KVGet(key string) ([]byte, bool, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, false, err
	}
	v, ok := e.KV.Get(nowUnix(), key)
	return v, ok, nil
}

func (e *Engine) KVDel(keys ...string) (int, error) {
	for _, k := range keys {
		if err := e.checkRoute(k); err != nil {
			return 0, err
		}
	}
	n, ops := e.KV.MDel(nowUnix(), keys)
	for _, k := range keys {
		e.Txn.Bump(k)
	}
	for _, o := range ops {
		if err := e.recordWrite(o); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (e *Engine) KVIncr(key string, amount int64) (int64, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	result, o, err := e.KV.Incr(nowUnix(), key, amount)
	if err != nil {
		return 0, err
	}
	e.Txn.Bump(key)
	return result, e.recordWrite(o)
}

// --- hash.* ---

func (e *Engine) HashSet(key string, fields map[string][]byte) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	n, o := e.Hash.Set(nowUnix(), key, fields)
	e.Txn.Bump(key)
	return n, e.recordWrite(o)
}

func (e *Engine) HashGet(key, field string) ([]byte, bool, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, false, err
	}
	v, ok := e.Hash.Get(key, field)
	return v, ok, nil
}

func (e *Engine) HashGetAll(key string) (map[string][]byte, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, err
	}
	return e.Hash.GetAll(key), nil
}

func (e *Engine) HashDel(key string, fields []string) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	n, o := e.Hash.Del(nowUnix(), key, fields)
	e.Txn.Bump(key)
	return n, e.recordWrite(o)
}

func (e *Engine) HashIncrBy(key, field string, amount int64) (int64, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	result, o, err := e.Hash.IncrBy(nowUnix(), key, field, amount)
	if err != nil {
		return 0, err
	}
	e.Txn.Bump(key)
	return result, e.recordWrite(o)
}

func (e *Engine) HashIncrByFloat(key, field string, amount float64) (float64, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	result, o, err := e.Hash.IncrByFloat(nowUnix(), key, field, amount)
	if err != nil {
		return 0, err
	}
	e.Txn.Bump(key)
	return result, e.recordWrite(o)
}

// --- list.* ---

func (e *Engine) ListPush(key string, values [][]byte, left bool) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	n, o := e.List.Push(nowUnix(), key, values, left)
	e.Txn.Bump(key)
	return n, e.recordWrite(o)
}

func (e *Engine) ListPop(key string, left bool, count int) ([][]byte, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, err
	}
	vals, o := e.List.Pop(nowUnix(), key, left, count)
	e.Txn.Bump(key)
	return vals, e.recordWrite(o)
}

func (e *Engine) ListRange(key string, start, stop int) ([][]byte, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, err
	}
	return e.List.Range(key, start, stop), nil
}

func (e *Engine) ListTrim(key string, start, stop int) error {
	if err := e.checkRoute(key); err != nil {
		return err
	}
	o := e.List.Trim(nowUnix(), key, start, stop)
	e.Txn.Bump(key)
	return e.recordWrite(o)
}

func (e *Engine) ListRem(key string, count int, value []byte) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	n, o := e.List.Rem(nowUnix(), key, count, value)
	e.Txn.Bump(key)
	return n, e.recordWrite(o)
}

func (e *Engine) ListInsert(key string, pivot, value []byte, before bool) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	n, o := e.List.Insert(nowUnix(), key, pivot, value, before)
	e.Txn.Bump(key)
	return n, e.recordWrite(o)
}

func (e *Engine) ListRpoplpush(source, destination string) ([]byte, error) {
	if err := e.checkRoute(source); err != nil {
		return nil, err
	}
	if err := e.checkRoute(destination); err != nil {
		return nil, err
	}
	v, o := e.List.Rpoplpush(nowUnix(), source, destination)
	e.Txn.Bump(source)
	e.Txn.Bump(destination)
	return v, e.recordWrite(o)
}


// --- set.* ---

func (e *Engine) SetAdd(key string, members [][]byte) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	n, o := e.Set.Add(nowUnix(), key, members)
	e.Txn.Bump(key)
	return n, e.recordWrite(o)
}

func (e *Engine) SetRem(key string, members [][]byte) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	n, o := e.Set.Rem(nowUnix(), key, members)
	e.Txn.Bump(key)
	return n, e.recordWrite(o)
}

func (e *Engine) SetMembers(key string) ([][]byte, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, err
	}
	return e.Set.Members(key), nil
}

func (e *Engine) SetMove(source, destination string, member []byte) (bool, error) {
	if err := e.checkRoute(source); err != nil {
		return false, err
	}
	if err := e.checkRoute(destination); err != nil {
		return false, err
	}
	moved, o := e.Set.Move(nowUnix(), source, destination, member)
	e.Txn.Bump(source)
	e.Txn.Bump(destination)
	return moved, e.recordWrite(o)
}

// --- zset.* ---

func (e *Engine) ZAdd(key string, members map[string]float64) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	n, o := e.ZSet.Add(nowUnix(), key, members)
	e.Txn.Bump(key)
	return n, e.recordWrite(o)
}

func (e *Engine) ZRem(key string, members []string) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	n, o := e.ZSet.Rem(nowUnix(), key, members)
	e.Txn.Bump(key)
	return n, e.recordWrite(o)
}

func (e *Engine) ZIncrBy(key, member string, delta float64) (float64, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	score, o := e.ZSet.IncrBy(nowUnix(), key, member, delta)
	e.Txn.Bump(key)
	return score, e.recordWrite(o)
}

func (e *Engine) ZRange(key string, start, stop int) ([]zset.Entry, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, err
	}
	return e.ZSet.Range(key, start, stop), nil
}

func (e *Engine) ZRangeByScore(key string, min, max float64) ([]zset.Entry, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, err
	}
	return e.ZSet.RangeByScore(key, min, max), nil
}

func (e *Engine) ZPop(key string, min bool, n int) ([]zset.Entry, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, err
	}
	entries, o := e.ZSet.Pop(nowUnix(), key, min, n)
	e.Txn.Bump(key)
	return entries, e.recordWrite(o)
}

// --- bitmap.* ---

func (e *Engine) BitSet(key string, offset int64, value bool) (bool, error) {
	if err := e.checkRoute(key); err != nil {
		return false, err
	}
	prev, o := e.Bitmap.SetBit(nowUnix(), key, offset, value)
	e.Txn.Bump(key)
	return prev, e.recordWrite(o)
}

func (e *Engine) BitGet(key string, offset int64) (bool, error) {
	if err := e.checkRoute(key); err != nil {
		return false, err
	}
	return e.Bitmap.GetBit(key, offset), nil
}

func (e *Engine) BitCount(key string) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	return e.Bitmap.Count(key), nil
}

func (e *Engine) BitOp(operator, destination string, sources []string) (int, error) {
	if err := e.checkRoute(destination); err != nil {
		return 0, err
	}
	n, o := e.Bitmap.BitOp(nowUnix(), operator, destination, sources)
	e.Txn.Bump(destination)
	return n, e.recordWrite(o)
}

func (e *Engine) BitField(key string, ops []op.BitFieldSubOp) ([]int64, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, err
	}
	results, o := e.Bitmap.BitField(nowUnix(), key, ops)
	e.Txn.Bump(key)
	return results, e.recordWrite(o)
}


// --- hll.* ---

func (e *Engine) PFAdd(key string, elements [][]byte) (bool, error) {
	if err := e.checkRoute(key); err != nil {
		return false, err
	}
	grew, o := e.HLL.Add(nowUnix(), key, elements)
	e.Txn.Bump(key)
	return grew, e.recordWrite(o)
}

func (e *Engine) PFCount(key string) (int64, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	return e.HLL.Count(key), nil
}

func (e *Engine) PFMerge(destination string, sources []string) error {
	if err := e.checkRoute(destination); err != nil {
		return err
	}
	o := e.HLL.Merge(nowUnix(), destination, sources)
	e.Txn.Bump(destination)
	return e.recordWrite(o)
}


// --- geo.* ---

func (e *Engine) GeoAdd(key string, items []op.GeoItem) (int, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, err
	}
	n, o := e.Geo.Add(nowUnix(), key, items)
	e.Txn.Bump(key)
	return n, e.recordWrite(o)
}

func (e *Engine) GeoSearch(key string, lon, lat, radiusMeters float64) ([]geo.SearchResult, error) {
	if err := e.checkRoute(key); err != nil {
		return nil, err
	}
	return e.Geo.Search(key, lon, lat, radiusMeters), nil
}

func (e *Engine) GeoDist(key, memberA, memberB string) (float64, bool, error) {
	if err := e.checkRoute(key); err != nil {
		return 0, false, err
	}
	d, ok := e.Geo.Dist(key, memberA, memberB)
	return d, ok, nil
}

// --- queue.* ---

func (e *Engine) QueueCreate(name string, maxDepth int, ackDeadlineSec int64) {
	e.Queues.CreateQueue(name, maxDepth, ackDeadlineSec)
}

func (e *Engine) QueuePublish(queueName string, payload []byte, priority uint8, maxRetries int) (string, error) {
	id, o, err := e.Queues.Publish(nowUnix(), queueName, payload, priority, maxRetries)
	if err != nil {
		return "", err
	}
	return id, e.recordWrite(o)
}

func (e *Engine) QueueConsume(queueName, consumerID string) (queue.Message, bool, error) {
	return e.Queues.Consume(nowUnix(), queueName, consumerID)
}

func (e *Engine) QueueAck(queueName, messageID string) error {
	o, err := e.Queues.Ack(nowUnix(), queueName, messageID)
	if err != nil {
		return err
	}
	return e.recordWrite(o)
}

func (e *Engine) QueueNack(queueName, messageID string, requeue bool) error {
	o, err := e.Queues.Nack(nowUnix(), queueName, messageID, requeue)
	if err != nil {
		return err
	}
	return e.recordWrite(o)
}

func (e *Engine) QueueStats(queueName string) (queue.Stats, error) {
	return e.Queues.Stats(queueName)
}

// ReclaimExpired runs spec.md §4.D's visibility-timeout sweep over a
// single queue's pending entries that are past their ack deadline. The
// caller (Engine.RunReclaimLoop) is responsible for the scan cadence and
// for visiting every queue; this just runs one pass over one queue.
func (e *Engine) ReclaimExpired(queueName string) ([]string, error) {
	ids, o, err := e.Queues.ReclaimExpired(nowUnix(), queueName)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, e.recordWrite(o)
}

// --- stream.* ---

func (e *Engine) StreamCreateRoom(name string, maxBufferSize int) {
	e.Streams.CreateRoom(name, maxBufferSize)
}

func (e *Engine) StreamPublish(roomName, eventType string, payload []byte) (uint64, error) {
	offset, o := e.Streams.Publish(nowUnix(), roomName, eventType, payload)
	return offset, e.recordWrite(o)
}

func (e *Engine) StreamConsume(roomName string, fromOffset uint64, limit int) []stream.Event {
	return e.Streams.Consume(roomName, fromOffset, limit)
}

func (e *Engine) StreamSubscribe(roomName string, bufferSize int) (uint64, <-chan stream.Event) {
	return e.Streams.Subscribe(roomName, bufferSize)
}

func (e *Engine) StreamUnsubscribe(roomName string, subID uint64) {
	e.Streams.Unsubscribe(roomName, subID)
}

// --- pubsub.* ---

func (e *Engine) Subscribe(patterns []string, bufferSize int) (uint64, <-chan pubsub.Message) {
	return e.PubSub.Subscribe(patterns, bufferSize)
}

func (e *Engine) Unsubscribe(id uint64) {
	e.PubSub.Unsubscribe(id)
}

func (e *Engine) Publish(topic string, payload []byte, metadata map[string]string) int {
	return e.PubSub.Publish(topic, payload, metadata)
}
