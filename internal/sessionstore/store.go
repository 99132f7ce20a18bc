package sessionstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/vibetunnel/vibetunneld/internal/httperr"
	"github.com/vibetunnel/vibetunneld/internal/jsonfile"
)

// MaxSocketPathBytes is the hard limit from spec §3: the full ipc.sock path
// must fit a 104-byte sockaddr_un, leaving room for the trailing NUL.
const MaxSocketPathBytes = 103

// Store owns the on-disk layout rooted at one controlDir. One Store instance
// is constructed per process and passed to the components that need it — no
// package-level singleton (spec §9).
type Store struct {
	controlDir string
}

// New constructs a Store rooted at controlDir. controlDir is created if
// missing.
func New(controlDir string) (*Store, error) {
	if err := os.MkdirAll(controlDir, 0755); err != nil {
		return nil, fmt.Errorf("create control dir %s: %w", controlDir, err)
	}
	return &Store{controlDir: controlDir}, nil
}

// ControlDir returns the root control directory.
func (s *Store) ControlDir() string { return s.controlDir }

// SessionDir returns {controlDir}/{sessionId}.
func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.controlDir, sessionID)
}

// SocketPath returns {controlDir}/{sessionId}/ipc.sock (spec §3).
func (s *Store) SocketPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), "ipc.sock")
}

// StreamPath returns {controlDir}/{sessionId}/stdout, the append-only stream
// file (spec §4.4).
func (s *Store) StreamPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), "stdout")
}

// MetaPath returns {controlDir}/{sessionId}/meta.json.
func (s *Store) MetaPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), "meta.json")
}

// CreateSessionDir creates the control directory for sessionID, validating
// the socket-path length budget before touching the filesystem so that a
// rejected session leaves no partial state (spec §8 boundary behavior).
func (s *Store) CreateSessionDir(sessionID string) error {
	sockPath := s.SocketPath(sessionID)
	if len(sockPath) > MaxSocketPathBytes {
		return httperr.Newf(httperr.InvalidOperation,
			"socket path %q is %d bytes, exceeds the %d byte sockaddr_un budget",
			sockPath, len(sockPath), MaxSocketPathBytes)
	}
	return os.MkdirAll(s.SessionDir(sessionID), 0755)
}

// RemoveSessionDir deletes the whole control directory for sessionID (spec §3
// I4: cleanup deletes the whole control directory).
func (s *Store) RemoveSessionDir(sessionID string) error {
	return os.RemoveAll(s.SessionDir(sessionID))
}

// MetaFile returns a typed JSON-file handle bound to sessionID's meta.json.
func (s *Store) MetaFile(sessionID string) *jsonfile.JSONFile[Meta] {
	return jsonfile.New[Meta](s.MetaPath(sessionID))
}

// ListSessionIDs enumerates subdirectories of controlDir that look like
// session control directories (i.e. contain a meta.json).
func (s *Store) ListSessionIDs() ([]string, error) {
	entries, err := os.ReadDir(s.controlDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.controlDir, e.Name(), "meta.json")); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// ReapOrphans scans controlDir for session directories whose recorded PID is
// no longer alive and removes them (spec §4.2: "On startup the server scans
// controlDir and reaps orphan directories whose PID is no longer alive").
// Sessions whose status is "exited" are left in place: their PID is cleared
// in that state, and their files remain until an explicit cleanup.
func (s *Store) ReapOrphans() (reaped []string, err error) {
	ids, err := s.ListSessionIDs()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		meta, err := s.MetaFile(id).Get()
		if err != nil {
			// Unreadable metadata: treat the directory as orphaned.
			if rmErr := s.RemoveSessionDir(id); rmErr == nil {
				reaped = append(reaped, id)
			}
			continue
		}

		if meta.Status == StatusExited {
			continue
		}

		if meta.PID == 0 || !processAlive(meta.PID) {
			if rmErr := s.RemoveSessionDir(id); rmErr == nil {
				reaped = append(reaped, id)
			}
		}
	}
	return reaped, nil
}

// processAlive reports whether pid refers to a live process, using signal 0
// (the standard liveness probe: no signal is delivered, only existence and
// permission are checked).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	// EPERM (or similar): the process exists but we can't signal it — still
	// counts as alive.
	return true
}

// ValidateSessionID rejects path-traversal-shaped IDs before they are used to
// build filesystem paths.
func ValidateSessionID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return httperr.Newf(httperr.InvalidOperation, "invalid session id %q", id)
	}
	return nil
}

// FormatExitCode renders an exit code the way stream 'x' events do (spec
// §3: `[t, "x", "<code>"]`).
func FormatExitCode(code int) string {
	return strconv.Itoa(code)
}
