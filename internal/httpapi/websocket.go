package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibetunnel/vibetunneld/internal/broadcast"
)

// wsUpgrader is shared across connections, following the teacher's
// package-level upgrader in server/terminal/terminal.go (CheckOrigin is
// intentionally permissive — the same contract the teacher's WebSocket
// endpoint uses — because browser clients connecting over a local tunnel or
// a different dev-server origin are expected).
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades to the fixed-path buffer-broadcast endpoint (spec
// §6). The handshake's bearer token is checked after upgrade so an
// authentication failure can be reported with the documented 1008
// policy-violation close code rather than a plain HTTP 401, which the spec
// requires WebSocket clients to never see (§7: "WebSocket never reports
// HTTP-shaped errors").
func (d Deps) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := wsToken(r)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Log.Warn("httpapi", "websocket upgrade failed: %v", err)
		return
	}

	if !d.Verifier.Verify(token) {
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized")
		conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(5*time.Second))
		conn.Close()
		return
	}

	hub := d.Registry.Hub()
	client := broadcast.NewClient(conn, hub, d.Log,
		func(c *broadcast.Client, sessionID string) {
			hub.Subscribe(c, sessionID, func() []byte {
				payload, err := d.Registry.SnapshotPayload(sessionID)
				if err != nil {
					return nil
				}
				return payload
			})
		},
		func(c *broadcast.Client, sessionID string) {
			hub.Unsubscribe(c, sessionID)
		},
	)
	client.Run()
}

// wsToken reads the bearer token from the Authorization header, falling
// back to an "access_token" query parameter — browsers cannot set custom
// headers on the native WebSocket handshake, so the query parameter is the
// only way a browser client can carry the token at all.
func wsToken(r *http.Request) string {
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return r.URL.Query().Get("access_token")
}
