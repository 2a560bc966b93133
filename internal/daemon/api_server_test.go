package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"datamill/internal/api"
	"datamill/internal/logging"
	"datamill/internal/queue"
	"datamill/internal/statusfeed"
	"datamill/internal/testsupport"
	"datamill/internal/workflow"
)

func newTestAPIServer(t *testing.T) (*apiServer, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, store, logger, statusfeed.New())
	d, err := New(cfg, store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d.api, store
}

func TestAPIServerHandleRuns(t *testing.T) {
	srv, store := newTestAPIServer(t)
	run := testsupport.NewRun(t, store, "/data/example.csv", "sha256:example:4")

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	w := httptest.NewRecorder()
	srv.handleRuns(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.RunListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(resp.Runs))
	}
	if resp.Runs[0].UUID != run.UUID {
		t.Fatalf("unexpected run uuid: %q", resp.Runs[0].UUID)
	}
	if len(resp.Runs[0].Stages) != 4 {
		t.Fatalf("expected 4 stage records, got %d", len(resp.Runs[0].Stages))
	}
}

func TestAPIServerHandleRunsRejectsUnknownStatus(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?status=bogus", nil)
	w := httptest.NewRecorder()
	srv.handleRuns(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAPIServerHandleRunNotFound(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/42", nil)
	w := httptest.NewRecorder()
	srv.handleRun(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAPIServerHandleTrigger(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	dataset := filepath.Join(srv.daemon.cfg.Paths.WatchDir, "sales.csv")
	testsupport.WriteFile(t, dataset, 64)

	body := strings.NewReader(`{"path":"` + dataset + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/trigger", body)
	w := httptest.NewRecorder()
	srv.handleTrigger(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.TriggerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Created {
		t.Fatal("expected created=true")
	}
	if resp.Run.Status != string(queue.StatusPending) {
		t.Fatalf("expected pending run, got %s", resp.Run.Status)
	}

	// Re-triggering the same file without force is a dedup hit.
	req = httptest.NewRequest(http.MethodPost, "/api/trigger", strings.NewReader(`{"path":"`+dataset+`"}`))
	w = httptest.NewRecorder()
	srv.handleTrigger(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", w.Code)
	}
}

func TestAPIServerHandleTriggerRequiresPath(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/trigger", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	srv.handleTrigger(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAPIServerHandleModelEmpty(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/model", nil)
	w := httptest.NewRecorder()
	srv.handleModel(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	handler := authMiddleware("secret", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", w.Code)
	}
}

func TestAuthMiddlewareNoTokenConfigured(t *testing.T) {
	handler := authMiddleware("", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
