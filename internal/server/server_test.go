package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/plugforge/plugforge/internal/config"
	"github.com/plugforge/plugforge/pkg/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		ServerAddr:       ":0",
		DataDir:          dir,
		DatabasePath:     filepath.Join(dir, "test.db"),
		AnthropicAPIKey:  "test-key",
		MaxAttempts:      1,
		MaxContinuations: 1,
		FileErrorWait:    time.Second,
		AgenticMaxSteps:  5,
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() {
		s.manager.Stop()
		s.store.Close()
	})
	return s
}

func (s *Server) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func seedBuild(t *testing.T, s *Server, id, sessionID string, status model.BuildStatus) {
	t.Helper()
	now := time.Now()
	b := &model.Build{
		ID:          id,
		SessionID:   sessionID,
		Status:      status,
		UserRequest: "a homes plugin",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateBuild(b); err != nil {
		t.Fatalf("seeding build: %v", err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", w.Code, w.Body.String())
	}
}

func TestGetBuild_NotFound(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/builds/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetBuild(t *testing.T) {
	s := newTestServer(t)
	seedBuild(t, s, "b1", "s1", model.StatusComplete)

	w := s.do(t, http.MethodGet, "/api/builds/b1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"id":"b1"`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestCreateBuild_Validation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/builds", "not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/builds", `{"sessionId":"s1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing userRequest, got %d", w.Code)
	}
}

func TestCreateBuild_ConflictWithActiveBuild(t *testing.T) {
	s := newTestServer(t)
	seedBuild(t, s, "b1", "s1", model.StatusBuilding)

	w := s.do(t, http.MethodPost, "/api/builds", `{"sessionId":"s1","userRequest":"another plugin"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestApproval_Validation(t *testing.T) {
	s := newTestServer(t)
	seedBuild(t, s, "b1", "s1", model.StatusAwaitingApproval)

	w := s.do(t, http.MethodPost, "/api/builds/b1/approval", `{"action":"maybe"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/builds/b1/approval", `{"action":"edit"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for edit without instructions, got %d", w.Code)
	}

	// No live runner is driving this build, so a valid approval is rejected.
	w = s.do(t, http.MethodPost, "/api/builds/b1/approval", `{"action":"approve"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a live runner, got %d", w.Code)
	}
}

func TestDecision_Validation(t *testing.T) {
	s := newTestServer(t)
	seedBuild(t, s, "b1", "s1", model.StatusBuilding)

	w := s.do(t, http.MethodPost, "/api/builds/b1/decision", `{"decision":"shrug"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown decision, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/builds/b1/decision", `{"decision":"retry"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a suspended runner, got %d", w.Code)
	}
}

func TestCancel_NotFound(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/builds/missing/cancel", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCancel_SettlesOrphanedBuild(t *testing.T) {
	s := newTestServer(t)
	seedBuild(t, s, "b1", "s1", model.StatusBuilding)

	w := s.do(t, http.MethodPost, "/api/builds/b1/cancel", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	b, err := s.store.GetBuild("b1")
	if err != nil {
		t.Fatalf("GetBuild error: %v", err)
	}
	if b.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", b.Status)
	}
}

func TestResume_NotFound(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/builds/missing/resume", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestResume_RejectsNonResumable(t *testing.T) {
	s := newTestServer(t)
	seedBuild(t, s, "b1", "s1", model.StatusComplete)

	w := s.do(t, http.MethodPost, "/api/builds/b1/resume", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSessionListEndpoints_Empty(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{
		"/api/sessions/s1/builds",
		"/api/sessions/s1/files",
		"/api/sessions/s1/messages",
	} {
		w := s.do(t, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		if strings.TrimSpace(w.Body.String()) != "[]" {
			t.Fatalf("%s: expected empty array, got %s", path, w.Body.String())
		}
	}

	w := s.do(t, http.MethodGet, "/api/sessions/s1/build", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for latest build of empty session, got %d", w.Code)
	}
}

func TestExport_NotConfigured(t *testing.T) {
	s := newTestServer(t)
	seedBuild(t, s, "b1", "s1", model.StatusComplete)

	w := s.do(t, http.MethodPost, "/api/builds/b1/export", `{"repoName":"homes"}`)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without GITHUB_TOKEN, got %d", w.Code)
	}
}

func TestBuildEvents_SettledBuildGetsSnapshotThenDone(t *testing.T) {
	s := newTestServer(t)
	seedBuild(t, s, "b1", "s1", model.StatusComplete)

	w := s.do(t, http.MethodGet, "/api/builds/b1/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	body := w.Body.String()
	snapIdx := strings.Index(body, "event: snapshot")
	doneIdx := strings.Index(body, "event: done")
	if snapIdx == -1 || doneIdx == -1 {
		t.Fatalf("expected snapshot and done events, got:\n%s", body)
	}
	if snapIdx > doneIdx {
		t.Fatal("snapshot must precede done")
	}
}

func TestBuildEvents_UnknownBuild(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/builds/missing/events", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
