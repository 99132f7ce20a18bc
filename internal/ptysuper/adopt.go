package ptysuper

import (
	"syscall"
	"time"

	"github.com/vibetunnel/vibetunneld/internal/httperr"
)

// AdoptedController implements the same control surface as Supervisor for a
// session whose child process survived a server restart (spec §5: "the
// registry scans control dirs and re-adopts control-socket servers for
// sessions whose PID is still live"). Unlike a Supervisor, it was never the
// process that called pty.Start, so it never held that PTY's master file
// descriptor; a plain file descriptor does not survive the process that
// held it exiting, and recovering one would require OS-level fd-passing
// between the old and new server process, which is out of scope (see
// DESIGN.md). Only PID-based operations work here: signaling and observing
// liveness. WriteStdin/Resize/ResetSize fail until the client reconnects to
// a freshly spawned session.
type AdoptedController struct {
	pid       int
	killGrace time.Duration
}

// Adopt wraps an already-running process for termination-only control.
// killGrace <= 0 selects defaultKillGrace.
func Adopt(pid int, killGrace time.Duration) *AdoptedController {
	if killGrace <= 0 {
		killGrace = defaultKillGrace
	}
	return &AdoptedController{pid: pid, killGrace: killGrace}
}

const noHandleMsg = "session was re-adopted after a server restart; its PTY handle could not be recovered, so %s is unavailable"

func (a *AdoptedController) WriteStdin(data []byte) error {
	return httperr.Newf(httperr.ControlMessageFailed, noHandleMsg, "stdin")
}

func (a *AdoptedController) Resize(cols, rows uint16) error {
	return httperr.Newf(httperr.ControlMessageFailed, noHandleMsg, "resize")
}

func (a *AdoptedController) ResetSize() error {
	return httperr.Newf(httperr.ResetSizeFailed, noHandleMsg, "reset-size")
}

func (a *AdoptedController) pgid() int {
	pgid, err := syscall.Getpgid(a.pid)
	if err != nil {
		return a.pid
	}
	return pgid
}

// Kill mirrors Supervisor.Kill's SIGTERM-then-SIGKILL grace period, but
// polls liveness by PID instead of calling Wait (this process never forked
// the child, so it is not eligible to reap it).
func (a *AdoptedController) Kill() error {
	pgid := a.pgid()
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return httperr.Newf(httperr.InvalidOperation, "sigterm: %v", err)
	}

	deadline := time.Now().Add(a.killGrace)
	for time.Now().Before(deadline) {
		if !ProcessAlive(a.pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return httperr.Newf(httperr.InvalidOperation, "sigkill: %v", err)
	}
	return nil
}

// KillSignal sends one named signal to the process group, same whitelist as
// Supervisor.KillSignal.
func (a *AdoptedController) KillSignal(name string) error {
	sig, ok := allowedSignals[name]
	if !ok {
		return httperr.Newf(httperr.InvalidOperation, "unsupported signal %q", name)
	}
	pgid := a.pgid()
	if err := syscall.Kill(-pgid, sig); err != nil && err != syscall.ESRCH {
		return httperr.Newf(httperr.ControlMessageFailed, "signal %s: %v", name, err)
	}
	return nil
}

// ProcessAlive reports whether pid refers to a live process, probed with
// signal 0 (delivers nothing, only checks existence/permission).
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil || err != syscall.ESRCH {
		return true
	}
	return false
}
