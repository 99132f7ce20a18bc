// Package broadcast implements C7: fanning out a session's terminal buffer
// (snapshot then deltas) to subscribed WebSocket clients, with per-client
// backpressure handling. It is grounded on the teacher's
// handleTerminalWebSocket/session.broadcast loop in
// server/terminal/terminal.go, generalized from that file's single
// package-level sessionManager into a hub that many sessions share through
// explicit Subscribe/Publish calls rather than a global.
package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibetunnel/vibetunneld/internal/config"
	"github.com/vibetunnel/vibetunneld/internal/frame"
	"github.com/vibetunnel/vibetunneld/internal/logging"
)

// SnapshotFunc produces a fresh encoded SNAPSHOT payload on demand, used both
// for the initial frame a new subscriber receives and to recover a client
// that has fallen behind on deltas.
type SnapshotFunc func() []byte

type subscription struct {
	client      *Client
	getSnapshot SnapshotFunc
}

// Hub tracks, per session ID, the set of clients currently subscribed to its
// buffer updates. One Hub instance is constructed per process and shared by
// reference — not a package singleton.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]map[*Client]*subscription
	clients  map[*Client]struct{}
	log      *logging.Logger

	pingInterval time.Duration
	pongWait     time.Duration
	outboxSize   int
}

// New constructs an empty Hub. cfg's PingIntervalSec and BackpressureHighWater
// govern every client it subsequently creates (spec §4.6, SPEC_FULL.md §1); a
// zero Config falls back to config.Default()'s pinned values.
func New(log *logging.Logger, cfg config.Config) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	ping := cfg.PingIntervalSec
	if ping <= 0 {
		ping = config.DefaultPingInterval
	}
	outbox := cfg.BackpressureHighWater
	if outbox <= 0 {
		outbox = config.DefaultBackpressureHighWater
	}
	return &Hub{
		sessions:     make(map[string]map[*Client]*subscription),
		clients:      make(map[*Client]struct{}),
		log:          log,
		pingInterval: time.Duration(ping) * time.Second,
		pongWait:     time.Duration(ping) * 2 * time.Second,
		outboxSize:   outbox,
	}
}

// registerClient tracks c so Shutdown can close it even if it never
// subscribes to any session.
func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Shutdown closes every currently connected client with CloseGoingAway,
// used when the server process itself is shutting down (spec §6's WebSocket
// close code 1001) — it does not touch any session's PTY.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

// Subscribe registers c for sessionID's updates and immediately enqueues a
// full snapshot, satisfying the ordering guarantee that a client never
// receives a delta before its first snapshot (spec §4.6).
func (h *Hub) Subscribe(c *Client, sessionID string, getSnapshot SnapshotFunc) {
	h.mu.Lock()
	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = make(map[*Client]*subscription)
		h.sessions[sessionID] = subs
	}
	sub := &subscription{client: c, getSnapshot: getSnapshot}
	subs[c] = sub
	h.mu.Unlock()

	c.trackSubscription(sessionID)
	h.sendSnapshot(sessionID, sub)
}

// Unsubscribe removes c from sessionID's subscriber set.
func (h *Hub) Unsubscribe(c *Client, sessionID string) {
	h.mu.Lock()
	if subs, ok := h.sessions[sessionID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()
	c.untrackSubscription(sessionID)
}

// RemoveClient drops c from every session it was subscribed to, called when
// its WebSocket connection closes.
func (h *Hub) RemoveClient(c *Client) {
	for _, sessionID := range c.subscribedSessions() {
		h.Unsubscribe(c, sessionID)
	}
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// PublishDelta fans a DELTA payload out to sessionID's subscribers, applying
// per-client backpressure.
func (h *Hub) PublishDelta(sessionID string, payload []byte) {
	h.forEachSubscriber(sessionID, func(sub *subscription) {
		h.deliverDelta(sessionID, sub, payload)
	})
}

// PublishBell fans a BELL notification out to sessionID's subscribers.
func (h *Hub) PublishBell(sessionID string) {
	h.forEachSubscriber(sessionID, func(sub *subscription) {
		sub.client.enqueue(frame.BufferFrame{Type: frame.BufferBell, SessionID: sessionID})
	})
}

// PublishFinalSnapshot sends one last SNAPSHOT to every subscriber of
// sessionID, used when the session exits so clients end on a consistent
// final frame (spec §4.6).
func (h *Hub) PublishFinalSnapshot(sessionID string, payload []byte) {
	h.forEachSubscriber(sessionID, func(sub *subscription) {
		sub.client.enqueueBlocking(frame.BufferFrame{
			Type: frame.BufferSnapshot, SessionID: sessionID, Payload: payload,
		})
	})
}

func (h *Hub) forEachSubscriber(sessionID string, fn func(*subscription)) {
	h.mu.Lock()
	subs := h.sessions[sessionID]
	snapshot := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.Unlock()

	for _, sub := range snapshot {
		fn(sub)
	}
}

func (h *Hub) sendSnapshot(sessionID string, sub *subscription) {
	payload := sub.getSnapshot()
	sub.client.enqueueBlocking(frame.BufferFrame{
		Type: frame.BufferSnapshot, SessionID: sessionID, Payload: payload,
	})
}

// deliverDelta enqueues a delta, or — if the client's outbox is already full —
// coalesces by replacing the queued deltas with one fresh snapshot instead
// (spec §4.6 backpressure handling).
func (h *Hub) deliverDelta(sessionID string, sub *subscription, payload []byte) {
	ok := sub.client.enqueue(frame.BufferFrame{
		Type: frame.BufferDelta, SessionID: sessionID, Payload: payload,
	})
	if ok {
		return
	}

	h.log.Warn(sessionID, "subscriber outbox full, coalescing to snapshot")
	sub.client.drainOutbox()
	h.sendSnapshot(sessionID, sub)
}
