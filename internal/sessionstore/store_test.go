package sessionstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateAndMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id := "11111111-1111-1111-1111-111111111111"
	if err := store.CreateSessionDir(id); err != nil {
		t.Fatalf("CreateSessionDir: %v", err)
	}

	meta := Meta{
		SessionID: id, Command: []string{"bash"}, WorkingDir: "/tmp",
		Cols: 80, Rows: 24, Status: StatusRunning, PID: 123,
		StartedAt: time.Now().UTC(), LastModified: time.Now().UTC(),
	}
	if err := meta.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := store.MetaFile(id).Set(meta); err != nil {
		t.Fatalf("Set meta: %v", err)
	}

	got, err := store.MetaFile(id).Get()
	if err != nil {
		t.Fatalf("Get meta: %v", err)
	}
	if got.SessionID != id || got.PID != 123 {
		t.Fatalf("meta mismatch: %+v", got)
	}

	// The write must be atomic: no stray temp files left behind.
	entries, _ := os.ReadDir(store.SessionDir(id))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestSocketPathBudgetRejected(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	longID := strings.Repeat("a", 200)
	err = store.CreateSessionDir(longID)
	if err == nil {
		t.Fatalf("expected error for overlong socket path")
	}
	if _, statErr := os.Stat(store.SessionDir(longID)); statErr == nil {
		t.Fatalf("session dir must not exist after a rejected create")
	}
}

func TestInvariantValidation(t *testing.T) {
	running := Meta{Status: StatusRunning}
	if err := running.Validate(); err == nil {
		t.Fatalf("expected error: running without pid")
	}

	code := 0
	exited := Meta{Status: StatusExited, ExitCode: &code}
	if err := exited.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReapOrphans(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	orphan := "22222222-2222-2222-2222-222222222222"
	if err := store.CreateSessionDir(orphan); err != nil {
		t.Fatalf("create orphan dir: %v", err)
	}
	if err := store.MetaFile(orphan).Set(Meta{
		SessionID: orphan, Status: StatusRunning, PID: 999999937, // very unlikely to be alive
	}); err != nil {
		t.Fatalf("set meta: %v", err)
	}

	live := "33333333-3333-3333-3333-333333333333"
	if err := store.CreateSessionDir(live); err != nil {
		t.Fatalf("create live dir: %v", err)
	}
	if err := store.MetaFile(live).Set(Meta{
		SessionID: live, Status: StatusRunning, PID: os.Getpid(),
	}); err != nil {
		t.Fatalf("set meta: %v", err)
	}

	reaped, err := store.ReapOrphans()
	if err != nil {
		t.Fatalf("ReapOrphans: %v", err)
	}
	if len(reaped) != 1 || reaped[0] != orphan {
		t.Fatalf("got reaped=%v, want [%s]", reaped, orphan)
	}
	if _, err := os.Stat(filepath.Join(dir, live)); err != nil {
		t.Fatalf("live session dir should remain: %v", err)
	}
}
