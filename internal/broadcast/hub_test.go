package broadcast

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibetunnel/vibetunneld/internal/config"
	"github.com/vibetunnel/vibetunneld/internal/frame"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize: 4096, WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newTestServer(t *testing.T, hub *Hub, snapshotFor func(string) []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(conn, hub, nil,
			func(c *Client, sessionID string) {
				hub.Subscribe(c, sessionID, func() []byte { return snapshotFor(sessionID) })
			},
			func(c *Client, sessionID string) { hub.Unsubscribe(c, sessionID) },
		)
		client.Run()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestSubscribeReceivesSnapshotFirst(t *testing.T) {
	hub := New(nil, config.Default())
	srv := newTestServer(t, hub, func(sessionID string) []byte { return []byte("snap-" + sessionID) })

	conn := dialWS(t, srv)
	defer conn.Close()

	conn.WriteMessage(websocket.BinaryMessage, frame.EncodeBuffer(frame.BufferFrame{
		Type: frame.BufferSubscribe, SessionID: "abc",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := frame.DecodeBuffer(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != frame.BufferSnapshot || string(f.Payload) != "snap-abc" {
		t.Fatalf("got %+v", f)
	}
}

func TestPublishDeltaReachesSubscriber(t *testing.T) {
	hub := New(nil, config.Default())
	srv := newTestServer(t, hub, func(string) []byte { return []byte("snap") })

	conn := dialWS(t, srv)
	defer conn.Close()

	conn.WriteMessage(websocket.BinaryMessage, frame.EncodeBuffer(frame.BufferFrame{
		Type: frame.BufferSubscribe, SessionID: "s1",
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.ReadMessage() // discard initial snapshot

	// Give the server a moment to register the subscription before publishing.
	time.Sleep(50 * time.Millisecond)
	hub.PublishDelta("s1", []byte("delta-payload"))

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := frame.DecodeBuffer(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != frame.BufferDelta || string(f.Payload) != "delta-payload" {
		t.Fatalf("got %+v", f)
	}
}

func TestUnsubscribeStopsDeltaDelivery(t *testing.T) {
	hub := New(nil, config.Default())
	srv := newTestServer(t, hub, func(string) []byte { return []byte("snap") })

	conn := dialWS(t, srv)
	defer conn.Close()

	conn.WriteMessage(websocket.BinaryMessage, frame.EncodeBuffer(frame.BufferFrame{
		Type: frame.BufferSubscribe, SessionID: "s1",
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.ReadMessage() // discard snapshot
	time.Sleep(50 * time.Millisecond)

	conn.WriteMessage(websocket.BinaryMessage, frame.EncodeBuffer(frame.BufferFrame{
		Type: frame.BufferUnsubscribe, SessionID: "s1",
	}))
	time.Sleep(50 * time.Millisecond)

	hub.PublishDelta("s1", []byte("should-not-arrive"))

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected a read timeout after unsubscribing, got a message")
	}
}
