// Package stream implements spec.md §4.E's append-only event-stream
// manager: a bounded ring buffer per room with monotonic dense offsets and
// independent per-consumer cursors.
package stream

import (
	"sync"

	"github.com/synaplabs/synap/internal/op"
)

// Event is one published stream entry.
type Event struct {
	Offset    uint64
	EventType string
	Payload   []byte
}

// RoomStats mirrors spec.md §4.E's room_stats contract.
type RoomStats struct {
	NextOffset   uint64
	OldestOffset uint64
	Count        int
}

// room is a bounded ring buffer of the most recent maxBufferSize events.
type room struct {
	mu sync.RWMutex

	maxBufferSize int
	nextOffset    uint64
	events        []Event // logically ordered oldest-to-newest, capped at maxBufferSize

	subscribers map[uint64]chan Event
	nextSubID   uint64
}

func newRoom(maxBufferSize int) *room {
	if maxBufferSize <= 0 {
		maxBufferSize = 1024
	}
	return &room{maxBufferSize: maxBufferSize, subscribers: make(map[uint64]chan Event)}
}

func (r *room) oldestOffset() uint64 {
	if len(r.events) == 0 {
		return r.nextOffset
	}
	return r.events[0].Offset
}

// Manager owns every named room.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func NewManager() *Manager {
	return &Manager{rooms: make(map[string]*room)}
}

// CreateRoom registers a room with the given ring capacity; idempotent.
func (m *Manager) CreateRoom(name string, maxBufferSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[name]; !ok {
		m.rooms[name] = newRoom(maxBufferSize)
	}
}

func (m *Manager) getOrCreate(name string) *room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[name]
	if !ok {
		r = newRoom(0)
		m.rooms[name] = r
	}
	return r
}

func (m *Manager) get(name string) (*room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[name]
	return r, ok
}

// Publish appends an event to room, returning its assigned monotonic
// offset and the Operation reproducing the write. When the ring is full
// the oldest slot is overwritten; next_offset still advances so
// from_offset semantics stay meaningful.
func (m *Manager) Publish(now int64, roomName, eventType string, payload []byte) (uint64, op.Operation) {
	r := m.getOrCreate(roomName)
	r.mu.Lock()
	offset := r.nextOffset
	r.nextOffset++
	ev := Event{Offset: offset, EventType: eventType, Payload: payload}
	if len(r.events) >= r.maxBufferSize {
		r.events = r.events[1:]
	}
	r.events = append(r.events, ev)
	subs := make([]chan Event, 0, len(r.subscribers))
	for _, ch := range r.subscribers {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default: // slow subscriber drops a live event; it can still catch up via Consume
		}
	}

	return offset, op.Operation{Kind: op.KindStreamPublish, Timestamp: now, Payload: &op.StreamPublishPayload{
		Room: roomName, EventType: eventType, Payload: payload, Offset: offset,
	}}
}

// Consume returns up to limit events with offset >= max(fromOffset,
// oldest_retained).
func (m *Manager) Consume(roomName string, fromOffset uint64, limit int) []Event {
	r, ok := m.get(roomName)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := fromOffset
	if oldest := r.oldestOffset(); start < oldest {
		start = oldest
	}
	var out []Event
	for _, ev := range r.events {
		if ev.Offset < start {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Subscribe registers a live-push channel for a room, returning a
// subscription id and the channel. Late subscribers should call Consume to
// catch up before relying on the channel, since the channel only forwards
// events published after Subscribe returns.
func (m *Manager) Subscribe(roomName string, bufferSize int) (uint64, <-chan Event) {
	r := m.getOrCreate(roomName)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubID++
	id := r.nextSubID
	ch := make(chan Event, bufferSize)
	r.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a push subscription.
func (m *Manager) Unsubscribe(roomName string, subID uint64) {
	r, ok := m.get(roomName)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subscribers[subID]; ok {
		close(ch)
		delete(r.subscribers, subID)
	}
}

// RoomStats returns the current counters for a room.
func (m *Manager) RoomStats(roomName string) (RoomStats, bool) {
	r, ok := m.get(roomName)
	if !ok {
		return RoomStats{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoomStats{NextOffset: r.nextOffset, OldestOffset: r.oldestOffset(), Count: len(r.events)}, true
}

// Dump mirrors a room's full state for internal/snapshot; internal/recovery
// adapts these into snapshot.StreamEntry values without this package
// importing snapshot.
type Dump struct {
	Name          string
	MaxBufferSize int
	NextOffset    uint64
	Events        []Event
}

// Dump returns the full state of every room, for snapshotting.
func (m *Manager) Dump() []Dump {
	m.mu.RLock()
	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make([]Dump, 0, len(names))
	for _, name := range names {
		r, ok := m.get(name)
		if !ok {
			continue
		}
		r.mu.RLock()
		out = append(out, Dump{
			Name: name, MaxBufferSize: r.maxBufferSize, NextOffset: r.nextOffset,
			Events: append([]Event(nil), r.events...),
		})
		r.mu.RUnlock()
	}
	return out
}

// Restore replaces the Manager's rooms with dumps, for recovery. Existing
// rooms are discarded; this must run before any live traffic is accepted.
func (m *Manager) Restore(dumps []Dump) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = make(map[string]*room, len(dumps))
	for _, d := range dumps {
		r := newRoom(d.MaxBufferSize)
		r.nextOffset = d.NextOffset
		r.events = append([]Event(nil), d.Events...)
		m.rooms[d.Name] = r
	}
}

// ListRooms returns every registered room name.
func (m *Manager) ListRooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		out = append(out, name)
	}
	return out
}
