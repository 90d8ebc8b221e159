// Package queue implements spec.md §4.D's work-queue manager: per-queue
// priority heap, pending-ACK map, DLQ, and a visibility-timeout reclaimer.
package queue

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"
	"github.com/synaplabs/synap/internal/op"
)

// Message is spec.md §3's QueueMessage.
type Message struct {
	ID         string
	Payload    []byte
	Priority   uint8
	RetryCount int
	MaxRetries int
	EnqueueSeq uint64
}

// Pending tracks a message that has been consumed but not yet acked.
type Pending struct {
	Message      Message
	ConsumerID   string
	AckDeadline  int64
}

// Stats mirrors spec.md §4.D's stats(queue) contract.
type Stats struct {
	Depth     int
	Pending   int
	Published uint64
	Consumed  uint64
	Acked     uint64
	Nacked    uint64
	DLQCount  int
}

// Queue is one named priority-ordered work queue.
type Queue struct {
	mu sync.Mutex

	name           string
	maxDepth       int
	ackDeadlineSec int64

	ready      readyHeap
	pending    map[string]*Pending
	dlq        []Message
	seq        uint64

	published uint64
	consumed  uint64
	acked     uint64
	nacked    uint64
}

func newQueue(name string, maxDepth int, ackDeadlineSec int64) *Queue {
	q := &Queue{name: name, maxDepth: maxDepth, ackDeadlineSec: ackDeadlineSec}
	heap.Init(&q.ready)
	q.pending = make(map[string]*Pending)
	return q
}

// readyHeap orders by (priority DESC, EnqueueSeq ASC), spec.md §4.D.
type readyHeap []Message

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueueSeq < h[j].EnqueueSeq
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(Message)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Manager owns every named queue.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*Queue
	idFunc func() string
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{queues: make(map[string]*Queue), idFunc: uuid.NewString}
}

// CreateQueue registers a queue; maxDepth<=0 means unbounded, ackDeadlineSec
// defaults to 30 if <=0.
func (m *Manager) CreateQueue(name string, maxDepth int, ackDeadlineSec int64) {
	if ackDeadlineSec <= 0 {
		ackDeadlineSec = 30
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[name]; !ok {
		m.queues[name] = newQueue(name, maxDepth, ackDeadlineSec)
	}
}

func (m *Manager) get(name string) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[name]
	return q, ok
}

func (m *Manager) getOrCreate(name string) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = newQueue(name, 0, 30)
		m.queues[name] = q
	}
	return q
}

// Publish enqueues payload with the given priority and max retry budget,
// returning the generated message id and the Operation reproducing the
// write. Returns op.ErrQueueFull if the queue is at max_depth.
//
// max_depth is checked against the ready heap only, not ready+pending:
// a message that has been delivered and is awaiting ack no longer counts
// against the limit. This matches the spec's normative max_depth text, but
// it means a depth-1 queue accepts a second publish as soon as the first
// message is consumed (moved to pending) even though it hasn't been acked
// yet — consumed-but-unacked capacity is reusable, not reserved.
func (m *Manager) Publish(now int64, queueName string, payload []byte, priority uint8, maxRetries int) (string, op.Operation, error) {
	q := m.getOrCreate(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxDepth > 0 && q.ready.Len() >= q.maxDepth {
		return "", op.Operation{}, op.ErrQueueFull
	}
	id := m.idFunc()
	q.seq++
	msg := Message{ID: id, Payload: payload, Priority: priority, MaxRetries: maxRetries, EnqueueSeq: q.seq}
	heap.Push(&q.ready, msg)
	q.published++

	return id, op.Operation{Kind: op.KindQueuePublish, Timestamp: now, Payload: &op.QueuePublishPayload{
		Queue: queueName, MessageID: id, Payload: payload, Priority: priority, MaxRetries: maxRetries,
	}}, nil
}

// ApplyPublish re-enqueues a publish that was already accepted once (WAL
// replay or replica receipt), using the original message id instead of
// minting a new one and skipping the max_depth check: a publish recorded in
// the log already passed it once, and depth may legitimately look
// different mid-replay than it did live.
func (m *Manager) ApplyPublish(queueName, id string, payload []byte, priority uint8, maxRetries int) {
	q := m.getOrCreate(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	msg := Message{ID: id, Payload: payload, Priority: priority, MaxRetries: maxRetries, EnqueueSeq: q.seq}
	heap.Push(&q.ready, msg)
	q.published++
}

// ApplyReclaim re-applies a previously recorded batch reclaim (WAL replay or
// replica receipt) by id rather than by re-evaluating ack deadlines, which
// would no longer match the original reclaim after a restart.
func (m *Manager) ApplyReclaim(queueName string, ids []string) {
	q, ok := m.get(queueName)
	if !ok {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		p, ok := q.pending[id]
		if !ok {
			continue
		}
		delete(q.pending, id)
		q.requeueOrDLQLocked(p.Message, true)
	}
}

// Consume removes the highest-priority ready message (FIFO within a
// priority tier) and moves it to pending. Returns ok=false if the queue is
// empty or unknown.
func (m *Manager) Consume(now int64, queueName, consumerID string) (Message, bool, error) {
	q, ok := m.get(queueName)
	if !ok {
		return Message{}, false, op.ErrQueueNotFound
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready.Len() == 0 {
		return Message{}, false, nil
	}
	msg := heap.Pop(&q.ready).(Message)
	q.pending[msg.ID] = &Pending{Message: msg, ConsumerID: consumerID, AckDeadline: now + q.ackDeadlineSec}
	q.consumed++
	return msg, true, nil
}

// Ack removes a message from pending. Unknown ids are a no-op (idempotent).
func (m *Manager) Ack(now int64, queueName, messageID string) (op.Operation, error) {
	q, ok := m.get(queueName)
	if !ok {
		return op.Operation{}, op.ErrQueueNotFound
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[messageID]; ok {
		delete(q.pending, messageID)
		q.acked++
	}
	return op.Operation{Kind: op.KindQueueAck, Timestamp: now, Payload: &op.QueueAckPayload{
		Queue: queueName, MessageID: messageID,
	}}, nil
}

// Nack removes a message from pending; if requeue is set and the message
// hasn't exhausted its retry budget, it re-enters ready with a fresh
// enqueue_seq and incremented retry_count; otherwise it moves to the DLQ.
func (m *Manager) Nack(now int64, queueName, messageID string, requeue bool) (op.Operation, error) {
	q, ok := m.get(queueName)
	if !ok {
		return op.Operation{}, op.ErrQueueNotFound
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[messageID]
	if !ok {
		return op.Operation{Kind: op.KindQueueNack, Timestamp: now, Payload: &op.QueueNackPayload{
			Queue: queueName, MessageID: messageID, Requeue: requeue,
		}}, nil
	}
	delete(q.pending, messageID)
	q.nacked++
	q.requeueOrDLQLocked(p.Message, requeue)
	return op.Operation{Kind: op.KindQueueNack, Timestamp: now, Payload: &op.QueueNackPayload{
		Queue: queueName, MessageID: messageID, Requeue: requeue,
	}}, nil
}

func (q *Queue) requeueOrDLQLocked(msg Message, requeue bool) {
	if requeue && msg.RetryCount < msg.MaxRetries {
		msg.RetryCount++
		q.seq++
		msg.EnqueueSeq = q.seq
		heap.Push(&q.ready, msg)
		return
	}
	q.dlq = append(q.dlq, msg)
}

// ReclaimExpired scans pending messages past their ack deadline and treats
// them as an implicit nack-with-requeue, returning the ids reclaimed and
// the Operation reproducing the batch reclaim.
func (m *Manager) ReclaimExpired(now int64, queueName string) ([]string, op.Operation, error) {
	q, ok := m.get(queueName)
	if !ok {
		return nil, op.Operation{}, op.ErrQueueNotFound
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var reclaimed []string
	for id, p := range q.pending {
		if p.AckDeadline <= now {
			reclaimed = append(reclaimed, id)
			delete(q.pending, id)
			q.requeueOrDLQLocked(p.Message, true)
		}
	}
	return reclaimed, op.Operation{Kind: op.KindQueueReclaim, Timestamp: now, Payload: &op.QueueReclaimPayload{
		Queue: queueName, MessageIDs: reclaimed,
	}}, nil
}

// Dump mirrors every queue's full state for internal/snapshot, in a
// recovery-friendly shape: internal/recovery adapts these into
// snapshot.QueueEntry values without this package importing snapshot.
type Dump struct {
	Name           string
	MaxDepth       int
	AckDeadlineSec int64
	Seq            uint64
	Ready          []Message
	Pending        []Pending
	DLQ            []Message
}

// Dump returns the full state of every queue, for snapshotting.
func (m *Manager) Dump() []Dump {
	m.mu.RLock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make([]Dump, 0, len(names))
	for _, name := range names {
		q, ok := m.get(name)
		if !ok {
			continue
		}
		q.mu.Lock()
		d := Dump{
			Name: q.name, MaxDepth: q.maxDepth, AckDeadlineSec: q.ackDeadlineSec, Seq: q.seq,
			Ready: append([]Message(nil), q.ready...),
			DLQ:   append([]Message(nil), q.dlq...),
		}
		for _, p := range q.pending {
			d.Pending = append(d.Pending, *p)
		}
		q.mu.Unlock()
		out = append(out, d)
	}
	return out
}

// Restore replaces the Manager's state with dumps, for recovery. Existing
// queues are discarded; this must run before any live traffic is accepted.
func (m *Manager) Restore(dumps []Dump) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = make(map[string]*Queue, len(dumps))
	for _, d := range dumps {
		q := newQueue(d.Name, d.MaxDepth, d.AckDeadlineSec)
		q.seq = d.Seq
		q.ready = append(readyHeap(nil), d.Ready...)
		heap.Init(&q.ready)
		q.dlq = append([]Message(nil), d.DLQ...)
		for _, p := range d.Pending {
			pending := p
			q.pending[p.Message.ID] = &pending
		}
		m.queues[d.Name] = q
	}
}

// Stats returns the current counters for a queue.
func (m *Manager) Stats(queueName string) (Stats, error) {
	q, ok := m.get(queueName)
	if !ok {
		return Stats{}, op.ErrQueueNotFound
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:     q.ready.Len(),
		Pending:   len(q.pending),
		Published: q.published,
		Consumed:  q.consumed,
		Acked:     q.acked,
		Nacked:    q.nacked,
		DLQCount:  len(q.dlq),
	}, nil
}
