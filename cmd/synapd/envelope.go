package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/synaplabs/synap/internal/engine"
	"github.com/synaplabs/synap/internal/stream"
)

// envelopeServer implements the minimal demo front end spec.md §6 describes
// as "consumed by the front end, not by the core": a thin command-envelope
// HTTP endpoint and the three WebSocket push channels, wired directly
// against *engine.Engine to prove the seam end-to-end. It deliberately
// covers a handful of namespaces rather than the full command surface — the
// exhaustive parser is explicitly out of scope (spec.md §1).
type envelopeServer struct {
	eng *engine.Engine
	log zerolog.Logger
	up  websocket.Upgrader
}

func newEnvelopeServer(eng *engine.Engine, log zerolog.Logger) *envelopeServer {
	return &envelopeServer{eng: eng, log: log, up: websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}}
}

type commandEnvelope struct {
	Command   string          `json:"command"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

type commandResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Payload   any    `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *envelopeServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	var env commandEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.writeJSON(w, commandResponse{Success: false, Error: "bad json: " + err.Error()})
		return
	}

	payload, err := s.dispatch(env.Command, env.Payload)
	if err != nil {
		s.writeJSON(w, commandResponse{Success: false, RequestID: env.RequestID, Error: err.Error()})
		return
	}
	s.writeJSON(w, commandResponse{Success: true, RequestID: env.RequestID, Payload: payload})
}

func (s *envelopeServer) writeJSON(w http.ResponseWriter, resp commandResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// dispatch maps a "namespace.verb" command onto the corresponding Engine
// method. kv/queue/stream/pubsub are covered as the demo's representative
// namespaces; every other store is reachable the same way but isn't wired
// here.
func (s *envelopeServer) dispatch(command string, raw json.RawMessage) (any, error) {
	switch command {
	case "kv.set":
		var p struct {
			Key   string `json:"key"`
			Value []byte `json:"value"`
			TTL   *int64 `json:"ttl_secs"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.eng.KVSet(p.Key, p.Value, p.TTL)

	case "kv.get":
		var p struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		value, ok, err := s.eng.KVGet(p.Key)
		if err != nil {
			return nil, err
		}
		return struct {
			Value []byte `json:"value"`
			Found bool   `json:"found"`
		}{value, ok}, nil

	case "kv.del":
		var p struct {
			Keys []string `json:"keys"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		n, err := s.eng.KVDel(p.Keys...)
		return struct {
			Deleted int `json:"deleted"`
		}{n}, err

	case "queue.publish":
		var p struct {
			Queue      string `json:"queue"`
			Payload    []byte `json:"payload"`
			Priority   uint8  `json:"priority"`
			MaxRetries int    `json:"max_retries"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		id, err := s.eng.QueuePublish(p.Queue, p.Payload, p.Priority, p.MaxRetries)
		return struct {
			MessageID string `json:"message_id"`
		}{id}, err

	case "stream.publish":
		var p struct {
			Room      string `json:"room"`
			EventType string `json:"event_type"`
			Payload   []byte `json:"payload"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		offset, err := s.eng.StreamPublish(p.Room, p.EventType, p.Payload)
		return struct {
			Offset uint64 `json:"offset"`
		}{offset}, err

	case "pubsub.publish":
		var p struct {
			Topic    string            `json:"topic"`
			Payload  []byte            `json:"payload"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		n := s.eng.Publish(p.Topic, p.Payload, p.Metadata)
		return struct {
			Delivered int `json:"delivered"`
		}{n}, nil

	default:
		return nil, &unknownCommandError{command}
	}
}

type unknownCommandError struct{ command string }

func (e *unknownCommandError) Error() string { return "unknown command: " + e.command }

// handleQueueWS serves /queue/<q>/ws/<consumer>: pushes each consumed
// message as {type:"message", ...} and applies client acks/nacks as they
// arrive, per spec.md §6's queue channel.
func (s *envelopeServer) handleQueueWS(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// parts: ["queue", "<q>", "ws", "<consumer>"]
	if len(parts) != 4 || parts[2] != "ws" {
		http.NotFound(w, r)
		return
	}
	queueName, consumerID := parts[1], parts[3]

	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	clientMsgs := make(chan map[string]any, 16)
	go readClientCommands(conn, clientMsgs)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-clientMsgs:
			if !ok {
				return
			}
			s.applyQueueAck(queueName, msg)
		case <-ticker.C:
			m, ok, err := s.eng.QueueConsume(queueName, consumerID)
			if err != nil || !ok {
				continue
			}
			push := map[string]any{
				"type":       "message",
				"message_id": m.ID,
				"payload":    m.Payload,
				"priority":   m.Priority,
			}
			if conn.WriteJSON(push) != nil {
				return
			}
		}
	}
}

func (s *envelopeServer) applyQueueAck(queueName string, msg map[string]any) {
	command, _ := msg["command"].(string)
	messageID, _ := msg["message_id"].(string)
	switch command {
	case "ack":
		_ = s.eng.QueueAck(queueName, messageID)
	case "nack":
		requeue, _ := msg["requeue"].(bool)
		_ = s.eng.QueueNack(queueName, messageID, requeue)
	}
}

// handleStreamWS serves /stream/<room>/ws/<sub>[?from_offset=N], replaying
// backlog from from_offset and then forwarding live events in order.
func (s *envelopeServer) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[2] != "ws" {
		http.NotFound(w, r)
		return
	}
	room := parts[1]

	fromOffset := uint64(0)
	if raw := r.URL.Query().Get("from_offset"); raw != "" {
		if parsed, err := strconv.ParseUint(raw, 10, 64); err == nil {
			fromOffset = parsed
		}
	}

	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for _, evt := range s.eng.StreamConsume(room, fromOffset, 0) {
		if err := conn.WriteJSON(streamPush(evt)); err != nil {
			return
		}
	}

	subID, ch := s.eng.StreamSubscribe(room, 64)
	defer s.eng.StreamUnsubscribe(room, subID)
	for evt := range ch {
		if conn.WriteJSON(streamPush(evt)) != nil {
			return
		}
	}
}

func streamPush(evt stream.Event) map[string]any {
	return map[string]any{
		"type":   "event",
		"offset": evt.Offset,
		"event":  evt.EventType,
		"data":   evt.Payload,
	}
}

// handlePubSubWS serves /pubsub/ws?topics=<csv>.
func (s *envelopeServer) handlePubSubWS(w http.ResponseWriter, r *http.Request) {
	topics := strings.Split(r.URL.Query().Get("topics"), ",")
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID, ch := s.eng.Subscribe(topics, 64)
	defer s.eng.Unsubscribe(subID)
	for msg := range ch {
		push := map[string]any{
			"type":     "message",
			"topic":    msg.Topic,
			"payload":  msg.Payload,
			"metadata": msg.Metadata,
		}
		if conn.WriteJSON(push) != nil {
			return
		}
	}
}

func readClientCommands(conn *websocket.Conn, out chan<- map[string]any) {
	defer close(out)
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		out <- msg
	}
}
