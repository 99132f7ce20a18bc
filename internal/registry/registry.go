// Package registry implements C8: the process-wide session registry that
// wires C2 (on-disk layout), C3 (PTY supervisor), C4 (stream recorder), C5
// (IPC socket server), C6 (terminal state), and C7 (buffer broadcast hub)
// together behind create/list/get/kill/cleanup operations. It replaces the
// teacher's package-level sessionManager singleton (server/terminal/
// terminal.go) with an explicit value constructed once in main and passed to
// the HTTP layer (spec §9).
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibetunnel/vibetunneld/internal/broadcast"
	"github.com/vibetunnel/vibetunneld/internal/config"
	"github.com/vibetunnel/vibetunneld/internal/frame"
	"github.com/vibetunnel/vibetunneld/internal/httperr"
	"github.com/vibetunnel/vibetunneld/internal/ipcserver"
	"github.com/vibetunnel/vibetunneld/internal/logging"
	"github.com/vibetunnel/vibetunneld/internal/ptysuper"
	"github.com/vibetunnel/vibetunneld/internal/recorder"
	"github.com/vibetunnel/vibetunneld/internal/sessionstore"
	"github.com/vibetunnel/vibetunneld/internal/termstate"
)

// CreateOptions describes a new session's spawn parameters (spec §6's
// POST /api/sessions body).
type CreateOptions struct {
	Command    []string
	WorkingDir string
	Name       string
	Cols, Rows uint16
	TitleMode  sessionstore.TitleMode
	Env        []string
	UserShell  string
	Git        *sessionstore.GitContext
}

// session bundles one running session's live components. Meta on disk is
// the durable source of truth; this struct is the in-memory state needed to
// operate on it while it runs.
type session struct {
	mu   sync.Mutex
	id   string
	sup  *ptysuper.Supervisor
	ctrl ipcserver.Controller // sup for a freshly spawned session, a ptysuper.AdoptedController for a re-adopted one
	rec  *recorder.Recorder
	emu  *termstate.Emulator
	ipc  *ipcserver.Server
}

// Registry is the single owner of every running session. One instance is
// constructed per process.
type Registry struct {
	store *sessionstore.Store
	hub   *broadcast.Hub
	log   *logging.Logger
	cfg   config.Config

	mu       sync.Mutex
	sessions map[string]*session
}

// New constructs a Registry rooted at store, broadcasting buffer updates
// through hub.
func New(store *sessionstore.Store, hub *broadcast.Hub, log *logging.Logger, cfg config.Config) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{
		store:    store,
		hub:      hub,
		log:      log,
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// Hub returns the broadcast hub sessions publish updates through, so the
// WebSocket endpoint can wire new client subscriptions to it.
func (r *Registry) Hub() *broadcast.Hub { return r.hub }

// StartupReap scans the control directory for orphaned session directories
// left behind by a prior process (spec §4.2) before the registry starts
// serving requests.
func (r *Registry) StartupReap() ([]string, error) {
	return r.store.ReapOrphans()
}

// AdoptOrphans re-attaches a running IPC socket server and in-memory state
// for every control directory left behind by a prior process whose child is
// still alive (spec §5: "the registry scans control dirs and re-adopts
// control-socket servers for sessions whose PID is still live"). Call this
// after StartupReap, which has already removed the dead orphans; whatever
// remains with status "running" and a live PID is a candidate here.
//
// An adopted session's screen state is reconstructed by replaying its
// stream file through a fresh emulator (spec §4.6's determinism guarantee
// makes this exact), but its control surface is reduced: see
// ptysuper.AdoptedController for why stdin/resize cannot be recovered.
func (r *Registry) AdoptOrphans() ([]string, error) {
	ids, err := r.store.ListSessionIDs()
	if err != nil {
		return nil, err
	}

	var adopted []string
	for _, id := range ids {
		meta, err := r.store.MetaFile(id).Get()
		if err != nil {
			continue
		}
		if meta.Status != sessionstore.StatusRunning || meta.PID == 0 || !ptysuper.ProcessAlive(meta.PID) {
			continue
		}
		if err := r.adoptSession(id, meta); err != nil {
			r.log.Warn(id, "adopt orphaned session: %v", err)
			continue
		}
		adopted = append(adopted, id)
	}
	return adopted, nil
}

func (r *Registry) adoptSession(id string, meta sessionstore.Meta) error {
	emu := termstate.NewEmulator(int(meta.Cols), int(meta.Rows), r.cfg.ScrollbackLines)
	_, events, err := recorder.ReadAll(r.store.StreamPath(id))
	if err != nil {
		return fmt.Errorf("replay stream: %w", err)
	}
	for _, ev := range events {
		if ev.Kind == recorder.KindOutput {
			emu.Write([]byte(ev.Payload))
		}
	}
	emu.TakeDelta() // discard the replay's accumulated delta; new subscribers get a fresh SNAPSHOT instead.

	rec, err := recorder.Attach(r.store.StreamPath(id), meta.StartedAt)
	if err != nil {
		return fmt.Errorf("attach recorder: %w", err)
	}

	ctrl := ptysuper.Adopt(meta.PID, time.Duration(r.cfg.KillGracePeriodSeconds)*time.Second)
	sess := &session{id: id, emu: emu, rec: rec, ctrl: ctrl}

	ipc := ipcserver.New(ipcserver.Options{
		SocketPath:  r.store.SocketPath(id),
		Controller:  ctrl,
		Logger:      r.log,
		Scope:       id,
		MaxConns:    r.cfg.MaxIPCClientsPerSession,
		MaxPayload:  r.cfg.MaxFrameBytes,
		IdleTimeout: time.Duration(r.cfg.HeartbeatIntervalSec) * 2 * time.Second,
	})
	if err := ipc.Listen(); err != nil {
		rec.Close()
		return fmt.Errorf("listen ipc socket: %w", err)
	}
	sess.ipc = ipc

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	go r.watchAdopted(sess, meta.PID)
	return nil
}

// watchAdopted polls an adopted session's PID since this process never
// forked it and cannot Wait on it, and finalizes the session the same way
// onExit does for a normally spawned one once the PID disappears.
func (r *Registry) watchAdopted(sess *session, pid int) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if ptysuper.ProcessAlive(pid) {
			continue
		}
		r.onExit(sess, -1) // the real exit code is unobservable for a process this server never forked
		return
	}
}

// Create spawns a new session end to end. Any failure partway through
// teardown everything already created, so a failed create leaves no partial
// state (spec §8).
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (sessionstore.Meta, error) {
	id := uuid.NewString()

	if err := r.store.CreateSessionDir(id); err != nil {
		return sessionstore.Meta{}, err
	}
	teardown := func() { r.store.RemoveSessionDir(id) }

	now := time.Now().UTC()
	meta := sessionstore.Meta{
		SessionID:  id,
		Command:    opts.Command,
		WorkingDir: opts.WorkingDir,
		Name:       opts.Name,
		Cols:       opts.Cols,
		Rows:       opts.Rows,
		Status:     sessionstore.StatusStarting,
		StartedAt:  now, LastModified: now,
		TitleMode:  opts.TitleMode,
		GitContext: opts.Git,
	}
	if err := r.store.MetaFile(id).Set(meta); err != nil {
		teardown()
		return sessionstore.Meta{}, err
	}

	title := ptysuper.GenerateTitle(opts.WorkingDir, opts.Command, opts.Name)
	rec, err := recorder.New(r.store.StreamPath(id), recorder.HeaderEvent{
		Version: 2, Width: int(opts.Cols), Height: int(opts.Rows),
		Timestamp: now.Unix(), Title: title,
	}, now)
	if err != nil {
		teardown()
		return sessionstore.Meta{}, fmt.Errorf("create recorder: %w", err)
	}
	teardown = func() { rec.Close(); r.store.RemoveSessionDir(id) }

	emu := termstate.NewEmulator(int(opts.Cols), int(opts.Rows), r.cfg.ScrollbackLines)

	sess := &session{id: id, emu: emu, rec: rec}

	sup, err := ptysuper.New(ptysuper.Options{
		Command: opts.Command, WorkingDir: opts.WorkingDir, Env: opts.Env,
		Cols: opts.Cols, Rows: opts.Rows, UserShell: opts.UserShell,
		TitleMode: opts.TitleMode, Name: opts.Name,
		KillGrace: time.Duration(r.cfg.KillGracePeriodSeconds) * time.Second,
		OnOutput:  func(chunk []byte) { r.onOutput(sess, chunk) },
		OnExit:    func(code int) { r.onExit(sess, code) },
	})
	if err != nil {
		teardown()
		return sessionstore.Meta{}, err
	}
	sess.sup = sup
	sess.ctrl = sup

	ipc := ipcserver.New(ipcserver.Options{
		SocketPath:  r.store.SocketPath(id),
		Controller:  sup,
		Logger:      r.log,
		Scope:       id,
		MaxConns:    r.cfg.MaxIPCClientsPerSession,
		MaxPayload:  r.cfg.MaxFrameBytes,
		IdleTimeout: time.Duration(r.cfg.HeartbeatIntervalSec) * 2 * time.Second,
	})
	if err := ipc.Listen(); err != nil {
		teardown()
		return sessionstore.Meta{}, fmt.Errorf("listen ipc socket: %w", err)
	}
	sess.ipc = ipc
	teardown = func() { ipc.Close(); rec.Close(); r.store.RemoveSessionDir(id) }

	if err := sup.Start(ctx); err != nil {
		teardown()
		return sessionstore.Meta{}, err
	}

	meta.Status = sessionstore.StatusRunning
	meta.PID = sup.PID()
	meta.LastModified = time.Now().UTC()
	if err := r.store.MetaFile(id).Set(meta); err != nil {
		sup.Kill()
		teardown()
		return sessionstore.Meta{}, err
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	return meta, nil
}

func (r *Registry) onOutput(sess *session, chunk []byte) {
	sess.rec.RecordOutput(chunk)
	sess.emu.Write(chunk)
	if d, ok := sess.emu.TakeDelta(); ok {
		r.hub.PublishDelta(sess.id, frame.EncodeDelta(d))
	}
}

func (r *Registry) onExit(sess *session, code int) {
	sess.rec.RecordExit(code)

	if meta, err := r.store.MetaFile(sess.id).Get(); err == nil {
		meta.Status = sessionstore.StatusExited
		meta.PID = 0
		meta.ExitCode = &code
		meta.LastModified = time.Now().UTC()
		r.store.MetaFile(sess.id).Set(meta)
	}

	snapshot := frame.EncodeSnapshot(sess.emu.Snapshot())
	r.hub.PublishFinalSnapshot(sess.id, snapshot)

	statusPayload := []byte(fmt.Sprintf(`{"status":"exited","exitCode":%d}`, code))
	sess.ipc.Broadcast(frame.IPCFrame{Type: frame.IPCStatusUpdate, Payload: statusPayload})
}

// List returns metadata for every known session, running or exited.
func (r *Registry) List() ([]sessionstore.Meta, error) {
	ids, err := r.store.ListSessionIDs()
	if err != nil {
		return nil, err
	}
	metas := make([]sessionstore.Meta, 0, len(ids))
	for _, id := range ids {
		m, err := r.store.MetaFile(id).Get()
		if err != nil {
			continue
		}
		metas = append(metas, m)
	}
	return metas, nil
}

// Get returns one session's metadata.
func (r *Registry) Get(id string) (sessionstore.Meta, error) {
	if err := sessionstore.ValidateSessionID(id); err != nil {
		return sessionstore.Meta{}, err
	}
	if !r.store.MetaFile(id).Exists() {
		return sessionstore.Meta{}, httperr.Newf(httperr.SessionNotFound, "no session %q", id)
	}
	return r.store.MetaFile(id).Get()
}

// SnapshotPayload returns a session's current encoded snapshot, for the
// WebSocket hub's initial/recovery frame.
func (r *Registry) SnapshotPayload(id string) ([]byte, error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, httperr.Newf(httperr.SessionNotFound, "no running session %q", id)
	}
	return frame.EncodeSnapshot(sess.emu.Snapshot()), nil
}

// WriteStdin injects input into a running session (spec §6
// POST /api/sessions/:id/input).
func (r *Registry) WriteStdin(id string, data []byte) error {
	sess, err := r.running(id)
	if err != nil {
		return err
	}
	sess.rec.RecordInput(data)
	return sess.ctrl.WriteStdin(data)
}

// Resize changes a running session's terminal size.
func (r *Registry) Resize(id string, cols, rows uint16) error {
	sess, err := r.running(id)
	if err != nil {
		return err
	}
	if err := sess.ctrl.Resize(cols, rows); err != nil {
		return err
	}
	sess.emu.Resize(int(cols), int(rows))
	sess.rec.RecordResize(cols, rows)
	return nil
}

// Kill terminates a running session's process. It does not remove the
// session's on-disk control directory; Cleanup does that once the session
// has exited (spec §6 DELETE /api/sessions/:id).
func (r *Registry) Kill(id string) error {
	sess, err := r.running(id)
	if err != nil {
		return err
	}
	return sess.ctrl.Kill()
}

// Cleanup removes an exited session's control directory entirely (spec §3
// I4). It refuses to remove a still-running session.
func (r *Registry) Cleanup(id string) error {
	meta, err := r.Get(id)
	if err != nil {
		return err
	}
	if meta.Status == sessionstore.StatusRunning {
		return httperr.New(httperr.InvalidOperation, "cannot clean up a running session")
	}
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return r.store.RemoveSessionDir(id)
}

func (r *Registry) running(id string) (*session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, httperr.Newf(httperr.SessionNotFound, "no running session %q", id)
	}
	return sess, nil
}

// Shutdown detaches every running session's IPC server without killing the
// underlying PTY processes, preserving the product invariant that a server
// restart must not interrupt a user's running commands (spec §9's redesign
// flag keeps this behavior, it does not change it).
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.ipc.Close()
	}
	r.hub.Shutdown()
}
