// Package ipcserver implements C5: one Unix-domain socket listener per
// session, dispatching decoded IPC frames (spec §4.1) to a session's PTY
// supervisor and echoing heartbeats, grounded on the teacher's
// handleTerminalWebSocket connection-handling loop in
// server/terminal/terminal.go, adapted from a WebSocket transport to a raw
// Unix socket one.
package ipcserver

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/vibetunnel/vibetunneld/internal/frame"
	"github.com/vibetunnel/vibetunneld/internal/httperr"
	"github.com/vibetunnel/vibetunneld/internal/logging"
)

// DefaultMaxConns is the default per-session connection limit (spec §4.1).
const DefaultMaxConns = 16

// DefaultIdleTimeout is how long a connection may go without a received
// frame before it is dropped, when Options.IdleTimeout is unset: 2x
// config.DefaultHeartbeatInterval (spec §5: "IPC client with no heartbeat
// for 2 x heartbeat interval is disconnected").
const DefaultIdleTimeout = 30 * time.Second

// Controller is the subset of a PTY supervisor's operations the IPC server
// needs to dispatch CONTROL_CMD and STDIN_DATA frames to.
type Controller interface {
	WriteStdin(data []byte) error
	Resize(cols, rows uint16) error
	ResetSize() error
	Kill() error
	KillSignal(signal string) error
}

// Server listens on one session's ipc.sock and dispatches frames from every
// connected client to a Controller. One Server is constructed per session —
// no package-level registry.
type Server struct {
	socketPath string
	controller Controller
	log        *logging.Logger
	scope       string
	maxPayload  int
	maxConns    int
	idleTimeout time.Duration

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// Options configures a Server.
type Options struct {
	SocketPath string
	Controller Controller
	Logger     *logging.Logger
	Scope      string // log scope, typically the session ID
	MaxPayload int    // 0 selects frame.DefaultMaxIPCPayload
	MaxConns   int    // 0 selects DefaultMaxConns

	// IdleTimeout overrides DefaultIdleTimeout (2 x cfg.HeartbeatIntervalSec);
	// zero selects the default.
	IdleTimeout time.Duration
}

// New constructs a Server bound to opts.SocketPath. The socket is not created
// until Listen is called.
func New(opts Options) *Server {
	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Server{
		socketPath:  opts.SocketPath,
		controller:  opts.Controller,
		log:         log,
		scope:       opts.Scope,
		maxPayload:  opts.MaxPayload,
		maxConns:    maxConns,
		idleTimeout: idleTimeout,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Listen creates the Unix socket (removing any stale file at the same path
// first) and begins accepting connections in a background goroutine. It
// returns once the socket is ready to accept.
func (s *Server) Listen() error {
	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed
		}

		s.mu.Lock()
		if len(s.conns) >= s.maxConns {
			s.mu.Unlock()
			s.rejectConnectionLimit(conn)
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

func (s *Server) rejectConnectionLimit(conn net.Conn) {
	payload := frame.EncodeErrorPayload(frame.ErrorPayload{
		Code:    string(httperr.ConnectionLimit),
		Message: fmt.Sprintf("session already has %d connections", s.maxConns),
	})
	conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCError, Payload: payload}))
	conn.Close()
}

// handleConn reads frames from one connection until it closes, errors, or
// goes idle. A read deadline set to s.idleTimeout is refreshed before every
// read so a connection that never sends so much as a HEARTBEAT frame for
// 2 x the heartbeat interval is dropped (spec §5).
func (s *Server) handleConn(conn net.Conn) {
	defer s.dropConn(conn)
	parser := frame.NewIPCParser(s.maxPayload)
	buf := make([]byte, 32*1024)

	for {
		conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
			if !s.drainFrames(conn, parser) {
				return
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.log.Info(s.scope, "ipc connection idle for %s, disconnecting", s.idleTimeout)
				return
			}
			if err != io.EOF {
				s.log.Warn(s.scope, "ipc read error: %v", err)
			}
			return
		}
	}
}

// drainFrames processes every complete frame currently buffered. It returns
// false if the connection was closed as a result. Per spec §4.5, an unknown
// frame type gets ERROR(INVALID_MESSAGE_TYPE) and the connection stays open
// for subsequent frames; only an oversized payload closes the connection.
func (s *Server) drainFrames(conn net.Conn, parser *frame.IPCParser) bool {
	for {
		f, ok, err := parser.Next()
		if err != nil {
			s.sendProtocolError(conn, err)
			if ce, asOk := httperr.As(err); asOk && ce.Code == httperr.InvalidMessageType {
				continue
			}
			conn.Close()
			return false
		}
		if !ok {
			return true
		}
		s.dispatch(conn, f)
	}
}

func (s *Server) sendProtocolError(conn net.Conn, err error) {
	code := httperr.MessageProcessingError
	if ce, ok := httperr.As(err); ok {
		code = ce.Code
	}
	payload := frame.EncodeErrorPayload(frame.ErrorPayload{
		Code:    string(code),
		Message: err.Error(),
	})
	conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCError, Payload: payload}))
}

func (s *Server) dispatch(conn net.Conn, f frame.IPCFrame) {
	switch f.Type {
	case frame.IPCStdinData:
		if err := s.controller.WriteStdin(f.Payload); err != nil {
			s.sendProtocolError(conn, err)
		}
	case frame.IPCControlCmd:
		s.dispatchControl(conn, f.Payload)
	case frame.IPCHeartbeat:
		conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCHeartbeat}))
	case frame.IPCStatusUpdate, frame.IPCError:
		// These are server-to-client only; a client sending one is ignored
		// rather than treated as a protocol violation.
	}
}

func (s *Server) dispatchControl(conn net.Conn, payload []byte) {
	cmd, err := frame.DecodeControlCommand(payload)
	if err != nil {
		s.sendProtocolError(conn, httperr.Newf(httperr.ControlMessageFailed, "malformed control command: %v", err))
		return
	}

	var opErr error
	switch cmd.Cmd {
	case frame.CmdResize:
		opErr = s.controller.Resize(cmd.Cols, cmd.Rows)
	case frame.CmdKill:
		if cmd.Signal != "" {
			opErr = s.controller.KillSignal(cmd.Signal)
		} else {
			opErr = s.controller.Kill()
		}
	case frame.CmdResetSize:
		opErr = s.controller.ResetSize()
	default:
		opErr = httperr.Newf(httperr.ControlMessageFailed, "unknown control command %q", cmd.Cmd)
	}
	if opErr != nil {
		s.sendProtocolError(conn, opErr)
	}
}

// Broadcast writes raw IPC frame bytes to every currently connected client,
// used to fan out STATUS_UPDATE frames (e.g. on exit).
func (s *Server) Broadcast(f frame.IPCFrame) {
	encoded := frame.EncodeIPC(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Write(encoded)
	}
}

func (s *Server) dropConn(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Close stops accepting new connections, closes every open one, and removes
// the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for conn := range conns {
		conn.Close()
	}
	_ = os.Remove(s.socketPath)
	return nil
}
