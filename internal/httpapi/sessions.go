package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vibetunnel/vibetunneld/internal/httperr"
	"github.com/vibetunnel/vibetunneld/internal/registry"
	"github.com/vibetunnel/vibetunneld/internal/sessionstore"
)

func (d Deps) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := d.Registry.List()
	if err != nil {
		d.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []sessionstore.Meta{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// createSessionRequest mirrors spec §6's POST /api/sessions body. Command is
// decoded lazily as raw JSON because it may be either a string or an array.
type createSessionRequest struct {
	Command       json.RawMessage `json:"command"`
	WorkingDir    string          `json:"workingDir"`
	Name          string          `json:"name,omitempty"`
	Cols          uint16          `json:"cols,omitempty"`
	Rows          uint16          `json:"rows,omitempty"`
	TitleMode     string          `json:"titleMode,omitempty"`
	SpawnTerminal bool            `json:"spawnTerminal,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

func (d Deps) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.writeError(w, httperr.Newf(httperr.MessageProcessingError, "invalid JSON body: %v", err))
		return
	}

	if strings.TrimSpace(req.WorkingDir) == "" {
		d.writeError(w, httperr.New(httperr.MessageProcessingError, "workingDir is required"))
		return
	}

	argv, err := decodeCommand(req.Command)
	if err != nil {
		d.writeError(w, httperr.Newf(httperr.InvalidOperation, "invalid command argv: %v", err))
		return
	}

	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}

	titleMode := sessionstore.TitleModeNone
	if req.TitleMode != "" {
		titleMode, err = parseTitleMode(req.TitleMode)
		if err != nil {
			d.writeError(w, err)
			return
		}
	}

	meta, err := d.Registry.Create(r.Context(), registry.CreateOptions{
		Command:    argv,
		WorkingDir: req.WorkingDir,
		Name:       req.Name,
		Cols:       cols,
		Rows:       rows,
		TitleMode:  titleMode,
		UserShell:  d.DefaultShell,
	})
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: meta.SessionID})
}

func parseTitleMode(s string) (sessionstore.TitleMode, error) {
	switch sessionstore.TitleMode(s) {
	case sessionstore.TitleModeNone, sessionstore.TitleModeFilter, sessionstore.TitleModeStatic:
		return sessionstore.TitleMode(s), nil
	default:
		return "", httperr.Newf(httperr.InvalidOperation, "unknown titleMode %q", s)
	}
}

func (d Deps) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := d.Registry.Get(id)
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (d Deps) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := d.Registry.Get(id)
	if err != nil {
		d.writeError(w, err)
		return
	}

	if meta.Status == sessionstore.StatusRunning {
		if err := d.Registry.Kill(id); err != nil {
			d.writeError(w, err)
			return
		}
	} else {
		if err := d.Registry.Cleanup(id); err != nil {
			d.writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type inputRequest struct {
	Data string `json:"data"`
}

func (d Deps) handleInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := d.Registry.Get(id)
	if err != nil {
		d.writeError(w, err)
		return
	}
	// A session that exists on disk but is no longer running gets its own
	// 409, distinct from the generic 400 ptysuper returns for other
	// not-running operations (spec §6 POST .../input: "404, 409 session not
	// running").
	if meta.Status != sessionstore.StatusRunning {
		d.writeError(w, httperr.New(httperr.ControlMessageFailed, "session is not running"))
		return
	}

	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.writeError(w, httperr.Newf(httperr.MessageProcessingError, "invalid JSON body: %v", err))
		return
	}
	if err := d.Registry.WriteStdin(id, []byte(req.Data)); err != nil {
		d.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func (d Deps) handleResize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.writeError(w, httperr.Newf(httperr.MessageProcessingError, "invalid JSON body: %v", err))
		return
	}
	if req.Cols == 0 || req.Rows == 0 {
		d.writeError(w, httperr.New(httperr.MessageProcessingError, "cols and rows must be positive"))
		return
	}

	if err := d.Registry.Resize(id, req.Cols, req.Rows); err != nil {
		d.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
