package ptysuper

import (
	"syscall"

	"github.com/vibetunnel/vibetunneld/internal/httperr"
	"github.com/vibetunnel/vibetunneld/internal/sessionstore"
)

// allowedSignals is the POSIX signal whitelist a CONTROL_CMD kill request may
// name (spec §8 Open Questions: "recommend accepting POSIX names only and
// returning INVALID_OPERATION elsewhere").
var allowedSignals = map[string]syscall.Signal{
	"SIGTERM":  syscall.SIGTERM,
	"SIGINT":   syscall.SIGINT,
	"SIGKILL":  syscall.SIGKILL,
	"SIGHUP":   syscall.SIGHUP,
	"SIGQUIT":  syscall.SIGQUIT,
	"SIGUSR1":  syscall.SIGUSR1,
	"SIGUSR2":  syscall.SIGUSR2,
	"SIGWINCH": syscall.SIGWINCH,
}

// KillSignal sends exactly the named signal to the child's process group,
// with no grace-period escalation — the caller asked for a specific signal,
// not the default terminate sequence. Unknown or non-POSIX names are
// rejected with INVALID_OPERATION rather than silently ignored.
func (s *Supervisor) KillSignal(name string) error {
	sig, ok := allowedSignals[name]
	if !ok {
		return httperr.Newf(httperr.InvalidOperation, "unsupported signal %q", name)
	}

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
	if err := syscall.Kill(-pgid, sig); err != nil && err != syscall.ESRCH {
		return httperr.Newf(httperr.ControlMessageFailed, "signal %s: %v", name, err)
	}
	return nil
}
