package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vibetunnel/vibetunneld/internal/auth"
	"github.com/vibetunnel/vibetunneld/internal/broadcast"
	"github.com/vibetunnel/vibetunneld/internal/config"
	"github.com/vibetunnel/vibetunneld/internal/registry"
	"github.com/vibetunnel/vibetunneld/internal/sessionstore"
)

type testEnv struct {
	mux   *http.ServeMux
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sessionstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("sessionstore.New: %v", err)
	}
	hub := broadcast.New(nil, config.Default())
	reg := registry.New(store, hub, nil, config.Default())

	verifier := auth.NewFileVerifier(t.TempDir() + "/tokens")
	token, err := auth.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if err := verifier.AddToken(token); err != nil {
		t.Fatalf("AddToken: %v", err)
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, Deps{Registry: reg, Verifier: verifier, DefaultShell: "/bin/sh"})
	return &testEnv{mux: mux, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if auth {
		r.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, r)
	return rec
}

func TestHealthIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
}

func TestListSessionsRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/sessions", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestCreateSessionRequiresWorkingDir(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"command": []string{"true"},
	}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestCreateSessionRejectsUnterminatedQuote(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"command":    "echo 'unterminated",
		"workingDir": t.TempDir(),
	}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestGetUnknownSessionIs404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/sessions/does-not-exist", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	createRec := env.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"command":    "cat",
		"workingDir": t.TempDir(),
	}, true)
	if createRec.Code != http.StatusCreated {
		t.Skipf("pty unavailable in this environment: %d %s", createRec.Code, createRec.Body.String())
	}
	var created createSessionResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	id := created.SessionID
	if id == "" {
		t.Fatalf("expected a non-empty sessionId")
	}

	listRec := env.do(t, http.MethodGet, "/api/sessions", nil, true)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list: got %d", listRec.Code)
	}

	getRec := env.do(t, http.MethodGet, "/api/sessions/"+id, nil, true)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get: got %d", getRec.Code)
	}

	inputRec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/input", map[string]any{"data": "hi\n"}, true)
	if inputRec.Code != http.StatusNoContent {
		t.Fatalf("input: got %d, body=%s", inputRec.Code, inputRec.Body.String())
	}

	resizeRec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/resize", map[string]any{"cols": 100, "rows": 40}, true)
	if resizeRec.Code != http.StatusNoContent {
		t.Fatalf("resize: got %d, body=%s", resizeRec.Code, resizeRec.Body.String())
	}

	deleteRec := env.do(t, http.MethodDelete, "/api/sessions/"+id, nil, true)
	if deleteRec.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d, body=%s", deleteRec.Code, deleteRec.Body.String())
	}
}

func TestResizeInvalidDimensionsIs400(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/sessions/whatever/resize", map[string]any{"cols": 0, "rows": 0}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}
