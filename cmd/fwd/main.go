// Command fwd is the forwarder CLI from spec §6: it connects to an already
// running session's IPC socket and proxies the caller's own tty to it.
// Stdin becomes STDIN_DATA frames, and the session's recorded stream is
// tailed straight to stdout. It does not talk to the HTTP API at all; it is
// a thin local client of C5/C4, grounded on the raw-mode terminal handling
// in ehrlich-b-wingthing's cmd/wt/egg.go and built as a cobra command to
// match vibetunneld's own CLI surface.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vibetunnel/vibetunneld/internal/config"
	"github.com/vibetunnel/vibetunneld/internal/frame"
	"github.com/vibetunnel/vibetunneld/internal/recorder"
	"github.com/vibetunnel/vibetunneld/internal/sessionstore"
)

// Exit codes per spec §6.
const (
	exitOK             = 0
	exitArgumentError  = 1
	exitSessionMissing = 2
	exitProtocolError  = 64
)

var (
	configFile string
	controlDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fwd <session-id>",
		Short: "Forward this terminal to a running vibetunneld session",
		RunE:  runForward,
	}
	rootCmd.Flags().StringVar(&configFile, "config", "", "path to an optional YAML config file")
	rootCmd.Flags().StringVar(&controlDir, "control-dir", "", "control directory override (defaults to the server's)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fwd: %v\n", err)
		if _, ok := err.(argCountError); ok {
			os.Exit(exitArgumentError)
		}
		os.Exit(exitProtocolError)
	}
}

// argCountError marks an argument or setup failure (wrong argument count,
// invalid session id, config load error) so main can map it to exit code 1
// instead of the catch-all 64.
type argCountError struct{ error }

func runForward(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return argCountError{fmt.Errorf("expected exactly one session id, got %d", len(args))}
	}
	sessionID := args[0]
	if err := sessionstore.ValidateSessionID(sessionID); err != nil {
		return argCountError{fmt.Errorf("invalid session id %q: %w", sessionID, err)}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return argCountError{fmt.Errorf("load config: %w", err)}
	}
	if controlDir != "" {
		cfg.ControlDir = controlDir
	}

	store, err := sessionstore.New(cfg.ControlDir)
	if err != nil {
		return fmt.Errorf("open control dir %s: %w", cfg.ControlDir, err)
	}

	if !store.MetaFile(sessionID).Exists() {
		fmt.Fprintf(os.Stderr, "fwd: no such session %s\n", sessionID)
		os.Exit(exitSessionMissing)
	}

	conn, err := net.Dial("unix", store.SocketPath(sessionID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fwd: connect to %s: %v\n", sessionID, err)
		os.Exit(exitSessionMissing)
	}
	defer conn.Close()

	fd := int(os.Stdin.Fd())
	raw := term.IsTerminal(fd)
	var oldState *term.State
	if raw {
		oldState, err = term.MakeRaw(fd)
		if err != nil {
			raw = false
		} else {
			defer term.Restore(fd, oldState)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exitCode := make(chan int, 1)
	streamDone := make(chan struct{})

	go tailStream(ctx, store.StreamPath(sessionID), exitCode, streamDone)
	go readHeartbeatsAndErrors(conn, exitCode)
	go pumpStdin(conn)
	go sendHeartbeats(ctx, conn)
	if raw {
		go watchResize(ctx, conn, fd)
	}

	select {
	case code := <-exitCode:
		if code == exitProtocolError {
			os.Exit(exitProtocolError)
		}
		os.Exit(code)
	case <-streamDone:
		os.Exit(exitOK)
	}
	return nil
}

// tailStream follows the session's recorded stream to stdout, exactly as a
// locally attached terminal would see it, and reports the recorded exit code
// once an 'x' event arrives.
func tailStream(ctx context.Context, path string, exitCode chan<- int, done chan<- struct{}) {
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	recorder.Follow(ctx, path, ctx.Done(), func(ev recorder.Event) {
		switch ev.Kind {
		case recorder.KindOutput:
			out.WriteString(ev.Payload)
			out.Flush()
		case recorder.KindExit:
			out.Flush()
			var code int
			fmt.Sscanf(ev.Payload, "%d", &code)
			select {
			case exitCode <- code:
			default:
			}
			close(done)
		}
	})
}

// pumpStdin reads the caller's stdin and forwards every chunk as a
// STDIN_DATA frame (spec §4.1).
func pumpStdin(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCStdinData, Payload: buf[:n]}))
		}
		if err != nil {
			return
		}
	}
}

// sendHeartbeats keeps the IPC connection from being treated as idle by the
// server's 2x heartbeat-interval disconnect policy (SPEC_FULL.md §1: 15s
// interval, 30s idle disconnect).
func sendHeartbeats(ctx context.Context, conn net.Conn) {
	const interval = 10 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCHeartbeat})); err != nil {
				return
			}
		}
	}
}

// watchResize forwards the caller's own SIGWINCH as a resize control
// command, so the remote PTY tracks the local terminal's size.
func watchResize(ctx context.Context, conn net.Conn, fd int) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	sendSize := func() {
		w, h, err := term.GetSize(fd)
		if err != nil {
			return
		}
		payload := frame.EncodeControlCommand(frame.ControlCommand{
			Cmd: frame.CmdResize, Cols: uint16(w), Rows: uint16(h),
		})
		conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCControlCmd, Payload: payload}))
	}
	sendSize()

	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			sendSize()
		}
	}
}

// readHeartbeatsAndErrors reads server-to-client frames off the IPC socket.
// A protocol ERROR frame reported here is surfaced to the caller and maps to
// exit code 64 (spec §6); anything else (heartbeat echoes, status updates)
// is discarded. The session's actual output comes from the stream file, not
// this connection.
func readHeartbeatsAndErrors(conn net.Conn, exitCode chan<- int) {
	parser := frame.NewIPCParser(0)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
			frames, errs := parser.Drain()
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "fwd: %v\n", e)
			}
			for _, f := range frames {
				if f.Type == frame.IPCError {
					p, decodeErr := frame.DecodeErrorPayload(f.Payload)
					if decodeErr == nil {
						fmt.Fprintf(os.Stderr, "fwd: %s: %s\n", p.Code, p.Message)
					}
					select {
					case exitCode <- exitProtocolError:
					default:
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}
