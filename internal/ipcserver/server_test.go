package ipcserver

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vibetunnel/vibetunneld/internal/frame"
)

type fakeController struct {
	mu         sync.Mutex
	stdin      []byte
	resized    [2]uint16
	resetErr   error
	killed     bool
	lastSignal string
}

func (f *fakeController) WriteStdin(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stdin = append(f.stdin, data...)
	return nil
}

func (f *fakeController) Resize(cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resized = [2]uint16{cols, rows}
	return nil
}

func (f *fakeController) ResetSize() error {
	return f.resetErr
}

func (f *fakeController) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	return nil
}

func (f *fakeController) KillSignal(signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSignal = signal
	return nil
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestStdinDataDispatch(t *testing.T) {
	dir := t.TempDir()
	ctrl := &fakeController{}
	srv := New(Options{SocketPath: filepath.Join(dir, "ipc.sock"), Controller: ctrl})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn := dial(t, filepath.Join(dir, "ipc.sock"))
	defer conn.Close()

	conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCStdinData, Payload: []byte("ls\n")}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ctrl.mu.Lock()
		got := string(ctrl.stdin)
		ctrl.mu.Unlock()
		if got == "ls\n" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stdin not delivered to controller")
}

func TestControlResizeDispatch(t *testing.T) {
	dir := t.TempDir()
	ctrl := &fakeController{}
	srv := New(Options{SocketPath: filepath.Join(dir, "ipc.sock"), Controller: ctrl})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn := dial(t, filepath.Join(dir, "ipc.sock"))
	defer conn.Close()

	payload := frame.EncodeControlCommand(frame.ControlCommand{Cmd: frame.CmdResize, Cols: 120, Rows: 40})
	conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCControlCmd, Payload: payload}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ctrl.mu.Lock()
		got := ctrl.resized
		ctrl.mu.Unlock()
		if got == [2]uint16{120, 40} {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("resize not dispatched to controller")
}

func TestControlKillWithSignalDispatch(t *testing.T) {
	dir := t.TempDir()
	ctrl := &fakeController{}
	srv := New(Options{SocketPath: filepath.Join(dir, "ipc.sock"), Controller: ctrl})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn := dial(t, filepath.Join(dir, "ipc.sock"))
	defer conn.Close()

	payload := frame.EncodeControlCommand(frame.ControlCommand{Cmd: frame.CmdKill, Signal: "SIGTERM"})
	conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCControlCmd, Payload: payload}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ctrl.mu.Lock()
		got := ctrl.lastSignal
		ctrl.mu.Unlock()
		if got == "SIGTERM" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("kill signal not dispatched to controller")
}

func TestHeartbeatEcho(t *testing.T) {
	dir := t.TempDir()
	ctrl := &fakeController{}
	srv := New(Options{SocketPath: filepath.Join(dir, "ipc.sock"), Controller: ctrl})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn := dial(t, filepath.Join(dir, "ipc.sock"))
	defer conn.Close()
	conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCHeartbeat}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	parser := frame.NewIPCParser(0)
	parser.Feed(buf[:n])
	f, ok, err := parser.Next()
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if f.Type != frame.IPCHeartbeat {
		t.Fatalf("got type %v, want heartbeat", f.Type)
	}
}

// TestUnrecognizedTypeStaysOpen locks in spec §4.5 ("Unknown type ->
// ERROR(INVALID_MESSAGE_TYPE), continue") and spec §8 scenario 4: the
// connection must remain usable for a subsequent valid STDIN_DATA frame
// after a bad-type frame, unlike an oversized payload which closes it.
func TestUnrecognizedTypeStaysOpen(t *testing.T) {
	dir := t.TempDir()
	ctrl := &fakeController{}
	srv := New(Options{SocketPath: filepath.Join(dir, "ipc.sock"), Controller: ctrl})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn := dial(t, filepath.Join(dir, "ipc.sock"))
	defer conn.Close()

	// Hand-craft a frame with an invalid type byte (0xff), bypassing
	// frame.EncodeIPC's typed constant.
	raw := []byte{0xff, 0, 0, 0, 0}
	conn.Write(raw)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	parser := frame.NewIPCParser(0)
	parser.Feed(buf[:n])
	f, ok, err := parser.Next()
	if err != nil || !ok || f.Type != frame.IPCError {
		t.Fatalf("expected an ERROR frame, got ok=%v err=%v f=%+v", ok, err, f)
	}

	// The connection must still accept a valid frame afterward.
	conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCStdinData, Payload: []byte("hi")}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ctrl.mu.Lock()
		got := string(ctrl.stdin)
		ctrl.mu.Unlock()
		if got == "hi" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected stdin %q to reach the controller after the bad-type frame, got %q", "hi", ctrl.stdin)
}

// TestIdleConnectionIsDisconnected locks in spec §5: "IPC client with no
// heartbeat for 2 x heartbeat interval is disconnected."
func TestIdleConnectionIsDisconnected(t *testing.T) {
	dir := t.TempDir()
	ctrl := &fakeController{}
	srv := New(Options{
		SocketPath:  filepath.Join(dir, "ipc.sock"),
		Controller:  ctrl,
		IdleTimeout: 30 * time.Millisecond,
	})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn := dial(t, filepath.Join(dir, "ipc.sock"))
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	_, err := conn.Read(buf)
	if err == nil {
		t.Fatalf("expected the server to close an idle connection")
	}
}

// TestHeartbeatsKeepConnectionAlive proves a client sending periodic frames
// before the idle deadline is not disconnected.
func TestHeartbeatsKeepConnectionAlive(t *testing.T) {
	dir := t.TempDir()
	ctrl := &fakeController{}
	srv := New(Options{
		SocketPath:  filepath.Join(dir, "ipc.sock"),
		Controller:  ctrl,
		IdleTimeout: 60 * time.Millisecond,
	})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn := dial(t, filepath.Join(dir, "ipc.sock"))
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			conn.Write(frame.EncodeIPC(frame.IPCFrame{Type: frame.IPCHeartbeat}))
			time.Sleep(20 * time.Millisecond)
		}
	}()
	<-done

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("expected the connection to still be alive after periodic heartbeats: %v", err)
	}
}

func TestConnectionLimitRejectsExtraConns(t *testing.T) {
	dir := t.TempDir()
	ctrl := &fakeController{}
	srv := New(Options{SocketPath: filepath.Join(dir, "ipc.sock"), Controller: ctrl, MaxConns: 1})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	first := dial(t, filepath.Join(dir, "ipc.sock"))
	defer first.Close()
	time.Sleep(20 * time.Millisecond) // let the accept loop register the first conn

	second := dial(t, filepath.Join(dir, "ipc.sock"))
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	n, err := second.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	parser := frame.NewIPCParser(0)
	parser.Feed(buf[:n])
	f, ok, err := parser.Next()
	if err != nil || !ok || f.Type != frame.IPCError {
		t.Fatalf("expected a CONNECTION_LIMIT ERROR frame, got ok=%v err=%v f=%+v", ok, err, f)
	}
	errPayload, err := frame.DecodeErrorPayload(f.Payload)
	if err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if errPayload.Code != "CONNECTION_LIMIT" {
		t.Fatalf("got code %q, want CONNECTION_LIMIT", errPayload.Code)
	}
}
