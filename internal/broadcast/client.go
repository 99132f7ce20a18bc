package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibetunnel/vibetunneld/internal/frame"
	"github.com/vibetunnel/vibetunneld/internal/logging"
)

// writeWait bounds a single WebSocket write (spec §4.6); unlike ping interval
// and outbox depth it is not one of SPEC_FULL.md §1's pinned, operator-facing
// values.
const writeWait = 10 * time.Second

// SubscribeRequestFunc is called for each client SUBSCRIBE/UNSUBSCRIBE frame
// received, given the session ID it names.
type SubscribeRequestFunc func(c *Client, sessionID string)

// Client wraps one WebSocket connection on the buffer-broadcast endpoint.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	log  *logging.Logger

	outbox chan frame.BufferFrame
	done   chan struct{}

	closeOnce   sync.Once
	closeMu     sync.Mutex
	closeCode   int
	closeReason string

	mu   sync.Mutex
	subs map[string]bool

	onSubscribe   SubscribeRequestFunc
	onUnsubscribe SubscribeRequestFunc
}

// NewClient wraps conn, registered with hub. onSubscribe/onUnsubscribe are
// invoked as client SUBSCRIBE/UNSUBSCRIBE frames are decoded so the caller
// can wire the session's snapshot source in.
func NewClient(conn *websocket.Conn, hub *Hub, log *logging.Logger, onSubscribe, onUnsubscribe SubscribeRequestFunc) *Client {
	if log == nil {
		log = logging.Nop()
	}
	c := &Client{
		conn:          conn,
		hub:           hub,
		log:           log,
		outbox:        make(chan frame.BufferFrame, hub.outboxSize),
		done:          make(chan struct{}),
		subs:          make(map[string]bool),
		onSubscribe:   onSubscribe,
		onUnsubscribe: onUnsubscribe,
	}
	hub.registerClient(c)
	return c
}

// Close initiates a server-driven shutdown of the connection with the given
// WebSocket close code and reason (e.g. CloseGoingAway on server shutdown).
// Safe to call more than once or concurrently with the connection closing on
// its own; only the first call's code takes effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.closeMu.Unlock()
		close(c.done)
	})
}

// Run drives the client's read and write pumps until the connection closes.
// It blocks until both pumps exit.
func (c *Client) Run() {
	writeDone := make(chan struct{})
	go func() {
		c.writePump()
		close(writeDone)
	}()
	c.readPump()
	c.closeOnce.Do(func() { close(c.done) })
	c.hub.RemoveClient(c)
	<-writeDone
}

func (c *Client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
		return nil
	})

	parser := &frame.BufferParser{}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		parser.Feed(data)
		for {
			f, ok, err := parser.Next()
			if err != nil {
				c.log.Warn("broadcast", "malformed client frame: %v", err)
				return
			}
			if !ok {
				break
			}
			c.handleClientFrame(f)
		}
	}
}

func (c *Client) handleClientFrame(f frame.BufferFrame) {
	switch f.Type {
	case frame.BufferSubscribe:
		if c.onSubscribe != nil {
			c.onSubscribe(c, f.SessionID)
		}
	case frame.BufferUnsubscribe:
		if c.onUnsubscribe != nil {
			c.onUnsubscribe(c, f.SessionID)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame.EncodeBuffer(f)); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.closeMu.Lock()
			code, reason := c.closeCode, c.closeReason
			c.closeMu.Unlock()
			if code == 0 {
				code = websocket.CloseNormalClosure
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
			return
		}
	}
}

// enqueue attempts a non-blocking send, returning false if the outbox is
// full (the caller then decides whether to coalesce).
func (c *Client) enqueue(f frame.BufferFrame) bool {
	select {
	case c.outbox <- f:
		return true
	case <-c.done:
		return true // connection is closing; nothing to coalesce
	default:
		return false
	}
}

// enqueueBlocking sends f even if the outbox is momentarily full, used for
// frames that must not be dropped (the initial and final snapshots).
func (c *Client) enqueueBlocking(f frame.BufferFrame) {
	select {
	case c.outbox <- f:
	case <-c.done:
	case <-time.After(writeWait):
		c.log.Warn("broadcast", "dropped snapshot for a stalled client")
	}
}

// drainOutbox discards every currently queued frame, used right before
// sending a coalesced recovery snapshot.
func (c *Client) drainOutbox() {
	for {
		select {
		case <-c.outbox:
		default:
			return
		}
	}
}

func (c *Client) trackSubscription(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[sessionID] = true
}

func (c *Client) untrackSubscription(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, sessionID)
}

func (c *Client) subscribedSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	return ids
}
