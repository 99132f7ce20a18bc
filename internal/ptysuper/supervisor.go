package ptysuper

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/vibetunnel/vibetunneld/internal/httperr"
	"github.com/vibetunnel/vibetunneld/internal/sessionstore"
)

// defaultKillGrace is how long Kill waits after SIGTERM before escalating to
// SIGKILL when Options.KillGrace is unset, pinned in SPEC_FULL.md §1 and
// grounded on the teacher's subprocess manager's termination grace period.
const defaultKillGrace = 5 * time.Second

// Options configures a single supervised PTY process.
type Options struct {
	Command    []string
	WorkingDir string
	Env        []string
	Cols, Rows uint16
	UserShell  string
	TitleMode  sessionstore.TitleMode
	Name       string // explicit session name, for static title generation

	// KillGrace overrides defaultKillGrace (cfg.KillGracePeriodSeconds);
	// zero selects the default.
	KillGrace time.Duration

	OnOutput func(chunk []byte)
	OnExit   func(exitCode int)
}

// Supervisor owns one PTY-backed child process end to end: spawn, stdin
// writes, resize, and SIGTERM/SIGKILL termination (spec §4.3, C3). It is
// grounded on the teacher's sessionManager.create/session type in
// server/terminal/terminal.go and the grace-period kill logic in
// server/subprocess/manager.go, generalized away from both files' package
// singletons into an explicit per-session value.
type Supervisor struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	ptmx     *os.File
	resolved Resolved
	opts     Options

	state    sessionstore.Status
	cols     uint16
	rows     uint16
	exitCode int
}

// New resolves opts.Command and constructs a Supervisor in StatusStarting.
// The process is not spawned until Start is called.
func New(opts Options) (*Supervisor, error) {
	resolved, err := ResolveCommand(opts.Command, opts.UserShell)
	if err != nil {
		return nil, httperr.Newf(httperr.InvalidOperation, "resolve command: %v", err)
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	return &Supervisor{
		resolved: resolved,
		opts:     opts,
		state:    sessionstore.StatusStarting,
		cols:     opts.Cols,
		rows:     opts.Rows,
	}, nil
}

// ResolvedFrom reports which of the spec §4.3 resolution branches was taken:
// "path", "shell", or "alias".
func (s *Supervisor) ResolvedFrom() string { return s.resolved.ResolvedFrom }

// PID returns the child process's PID, or 0 before Start succeeds.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Start spawns the resolved command under a PTY sized cols x rows and begins
// the read loop that delivers output to opts.OnOutput, applying title
// filtering/injection per opts.TitleMode. It returns once the process has
// been spawned; exit is reported asynchronously via opts.OnExit.
func (s *Supervisor) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.resolved.Binary, s.resolved.Args...)
	cmd.Dir = s.opts.WorkingDir
	cmd.Env = s.buildEnv()
	// Run in its own process group so Kill can signal the whole tree, not
	// just the directly spawned shell (grounded on the teacher's subprocess
	// manager, which sets Setpgid for the same reason).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: s.opts.Cols,
		Rows: s.opts.Rows,
	})
	if err != nil {
		s.mu.Lock()
		s.state = sessionstore.StatusExited
		s.mu.Unlock()
		return httperr.Newf(httperr.InvalidOperation, "spawn %q: %v", s.resolved.Binary, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.ptmx = ptmx
	s.state = sessionstore.StatusRunning
	s.mu.Unlock()

	if title := s.initialTitle(); title != "" && s.opts.TitleMode != sessionstore.TitleModeNone && s.opts.OnOutput != nil {
		s.opts.OnOutput(BuildOSCTitleSequence(title))
	}

	go s.readLoop()
	go s.waitLoop()
	return nil
}

func (s *Supervisor) initialTitle() string {
	if s.opts.TitleMode != sessionstore.TitleModeStatic {
		return ""
	}
	return GenerateTitle(s.opts.WorkingDir, s.opts.Command, s.opts.Name)
}

func (s *Supervisor) buildEnv() []string {
	env := append([]string{}, s.opts.Env...)
	env = append(env,
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)
	return env
}

// readLoop copies PTY output to opts.OnOutput, applying the title filter
// when the session's mode calls for stripping the child's own OSC titles.
func (s *Supervisor) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if s.opts.TitleMode == sessionstore.TitleModeStatic || s.opts.TitleMode == sessionstore.TitleModeFilter {
				chunk = StripOSCTitleSequences(chunk)
			}
			if s.opts.OnOutput != nil && len(chunk) > 0 {
				s.opts.OnOutput(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

// waitLoop blocks for process exit, records the state transition, and
// invokes opts.OnExit.
func (s *Supervisor) waitLoop() {
	err := s.cmd.Wait()
	code := exitCodeFromError(err)

	s.mu.Lock()
	s.state = sessionstore.StatusExited
	s.exitCode = code
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx != nil {
		ptmx.Close()
	}
	if s.opts.OnExit != nil {
		s.opts.OnExit(code)
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// WriteStdin writes data to the child's PTY, as injected input (spec §4.3).
func (s *Supervisor) WriteStdin(data []byte) error {
	s.mu.Lock()
	ptmx, state := s.ptmx, s.state
	s.mu.Unlock()
	if state != sessionstore.StatusRunning || ptmx == nil {
		return httperr.New(httperr.InvalidOperation, "session is not running")
	}
	_, err := ptmx.Write(data)
	if err != nil {
		return httperr.Newf(httperr.ControlMessageFailed, "write stdin: %v", err)
	}
	return nil
}

// Resize changes the PTY's terminal size.
func (s *Supervisor) Resize(cols, rows uint16) error {
	s.mu.Lock()
	ptmx, state := s.ptmx, s.state
	s.mu.Unlock()
	if state != sessionstore.StatusRunning || ptmx == nil {
		return httperr.New(httperr.InvalidOperation, "session is not running")
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return httperr.Newf(httperr.ControlMessageFailed, "resize: %v", err)
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	return nil
}

// ResetSize restores the PTY to the last size Resize (or Start) established,
// used to recover from a client that reports a stale size (spec §4.3,
// RESET_SIZE_FAILED when the size cannot be applied; INVALID_OPERATION when
// the session is not running).
func (s *Supervisor) ResetSize() error {
	s.mu.Lock()
	cols, rows := s.cols, s.rows
	s.mu.Unlock()
	if err := s.Resize(cols, rows); err != nil {
		if ce, ok := httperr.As(err); ok && ce.Code != httperr.ControlMessageFailed {
			return ce.WithDetails("reset-size")
		}
		return httperr.Newf(httperr.ResetSizeFailed, "reset size: %v", err)
	}
	return nil
}

// Size returns the current terminal dimensions.
func (s *Supervisor) Size() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() sessionstore.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExitCode returns the child's exit code. Valid only once State() is
// StatusExited.
func (s *Supervisor) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Kill signals the child's whole process group with SIGTERM, then escalates
// to SIGKILL after opts.KillGrace if it has not exited, mirroring the
// teacher's subprocess manager's grace-period termination.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	cmd, state := s.cmd, s.state
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil || state == sessionstore.StatusExited {
		return nil
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		pgid = cmd.Process.Pid
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return httperr.Newf(httperr.InvalidOperation, "sigterm: %v", err)
	}

	exited := make(chan struct{})
	go func() {
		cmd.Process.Wait()
		close(exited)
	}()

	select {
	case <-exited:
		return nil
	case <-time.After(s.opts.KillGrace):
	}

	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return httperr.Newf(httperr.InvalidOperation, "sigkill: %v", err)
	}
	return nil
}
