// Package httpapi implements C's external HTTP surface (spec §6): the
// /api/sessions CRUD table and the fixed-path WebSocket upgrade endpoint.
// Handlers are thin adapters over internal/registry.Registry — all session
// lifecycle logic lives there, not here — adapted from the teacher's
// RegisterAPI(mux *http.ServeMux)/handleSessions convention in
// server/terminal/terminal.go, generalized from one hand-written dispatch
// switch per path to Go 1.22's method+pattern ServeMux.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/vibetunnel/vibetunneld/internal/auth"
	"github.com/vibetunnel/vibetunneld/internal/httperr"
	"github.com/vibetunnel/vibetunneld/internal/logging"
	"github.com/vibetunnel/vibetunneld/internal/registry"
)

// DefaultCols/DefaultRows are the pinned POST /api/sessions defaults (spec §6).
const (
	DefaultCols = 120
	DefaultRows = 30
)

// Deps bundles the components route handlers need. Constructed once in main
// and passed to RegisterRoutes — no package-level state.
type Deps struct {
	Registry     *registry.Registry
	Verifier     auth.Verifier
	Log          *logging.Logger
	DefaultShell string
}

// RegisterRoutes wires spec §6's HTTP route table and the WebSocket upgrade
// endpoint onto mux. GET /api/health is intentionally unauthenticated; every
// other route requires a verified bearer token.
func RegisterRoutes(mux *http.ServeMux, deps Deps) {
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	if deps.DefaultShell == "" {
		deps.DefaultShell = "/bin/sh"
	}

	requireAuth := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(h, deps.Verifier, nil)
	}

	mux.Handle("GET /api/sessions", requireAuth(deps.handleListSessions))
	mux.Handle("POST /api/sessions", requireAuth(deps.handleCreateSession))
	mux.Handle("GET /api/sessions/{id}", requireAuth(deps.handleGetSession))
	mux.Handle("DELETE /api/sessions/{id}", requireAuth(deps.handleDeleteSession))
	mux.Handle("POST /api/sessions/{id}/input", requireAuth(deps.handleInput))
	mux.Handle("POST /api/sessions/{id}/resize", requireAuth(deps.handleResize))

	// The WebSocket handshake carries its own bearer-token check (spec §6:
	// "failure closes with a policy-violation code and no data" — a plain
	// 401 before upgrade would not exercise that close-code contract), so it
	// is registered outside requireAuth.
	mux.HandleFunc("GET /api/ws", deps.handleWebSocket)

	mux.HandleFunc("GET /api/health", deps.handleHealth)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// errorResponse is the {error, details?} JSON shape spec §7 pins for every
// HTTP error.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (d Deps) writeError(w http.ResponseWriter, err error) {
	if ce, ok := httperr.As(err); ok {
		writeJSON(w, ce.Code.HTTPStatus(), errorResponse{Error: string(ce.Code), Details: ce.Message})
		return
	}
	d.Log.Error("httpapi", "unmapped error: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "INTERNAL_ERROR", Details: err.Error()})
}
