package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/plugforge/plugforge/pkg/model"
	"github.com/plugforge/plugforge/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBuild(id, sessionID string) *model.Build {
	now := time.Now()
	return &model.Build{
		ID:          id,
		SessionID:   sessionID,
		Status:      model.StatusPlanning,
		UserRequest: "a homes plugin",
		Framework:   "Spigot",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestBuildRoundTrip(t *testing.T) {
	s := newTestStore(t)

	b := testBuild("b1", "s1")
	b.Plan = &model.BuildPlan{
		PluginName:  "Homes",
		PackageName: "com.example.homes",
		Phases: []model.Phase{{
			Name:  "Scaffolding",
			Files: []model.PlannedFile{{Path: "plugin.yml", Name: "plugin.yml"}},
		}},
	}
	b.Phases = model.PhaseStatesFromPlan(b.Plan)
	b.FileMemory = map[string]string{"plugin.yml": "name: Homes"}
	b.InputChars = 120
	b.OutputChars = 450

	if err := s.CreateBuild(b); err != nil {
		t.Fatalf("CreateBuild error: %v", err)
	}

	got, err := s.GetBuild("b1")
	if err != nil {
		t.Fatalf("GetBuild error: %v", err)
	}
	if got.Plan == nil || got.Plan.PluginName != "Homes" {
		t.Fatalf("plan not persisted: %+v", got.Plan)
	}
	if len(got.Phases) != 1 || got.Phases[0].Files[0].Path != "plugin.yml" {
		t.Fatalf("phases not persisted: %+v", got.Phases)
	}
	if got.FileMemory["plugin.yml"] != "name: Homes" {
		t.Fatalf("file memory not persisted: %+v", got.FileMemory)
	}
	if got.InputChars != 120 || got.OutputChars != 450 {
		t.Fatalf("usage not persisted: %d/%d", got.InputChars, got.OutputChars)
	}
}

func TestGetBuild_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetBuild("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateBuild_OneActivePerSession(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateBuild(testBuild("b1", "s1")); err != nil {
		t.Fatalf("CreateBuild error: %v", err)
	}
	if err := s.CreateBuild(testBuild("b2", "s1")); !errors.Is(err, store.ErrActiveBuildExists) {
		t.Fatalf("expected ErrActiveBuildExists, got %v", err)
	}

	// Another session is unaffected.
	if err := s.CreateBuild(testBuild("b3", "s2")); err != nil {
		t.Fatalf("CreateBuild error for other session: %v", err)
	}

	// Settling the first build frees the session.
	b, _ := s.GetBuild("b1")
	b.Status = model.StatusComplete
	if err := s.UpdateBuild(b); err != nil {
		t.Fatalf("UpdateBuild error: %v", err)
	}
	if err := s.CreateBuild(testBuild("b4", "s1")); err != nil {
		t.Fatalf("expected create to succeed after completion, got %v", err)
	}
}

func TestGetLatestBuild(t *testing.T) {
	s := newTestStore(t)

	b1 := testBuild("b1", "s1")
	b1.CreatedAt = time.Now().Add(-time.Hour)
	b1.Status = model.StatusComplete
	if err := s.CreateBuild(b1); err != nil {
		t.Fatalf("CreateBuild error: %v", err)
	}
	if err := s.CreateBuild(testBuild("b2", "s1")); err != nil {
		t.Fatalf("CreateBuild error: %v", err)
	}

	got, err := s.GetLatestBuild("s1")
	if err != nil {
		t.Fatalf("GetLatestBuild error: %v", err)
	}
	if got.ID != "b2" {
		t.Fatalf("expected b2, got %s", got.ID)
	}

	if _, err := s.GetLatestBuild("empty"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListBuilds(t *testing.T) {
	s := newTestStore(t)
	b1 := testBuild("b1", "s1")
	b1.Status = model.StatusComplete
	s.CreateBuild(b1)
	s.CreateBuild(testBuild("b2", "s1"))

	builds, err := s.ListBuilds("s1")
	if err != nil {
		t.Fatalf("ListBuilds error: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("expected 2 builds, got %d", len(builds))
	}
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	s.CreateBuild(testBuild("b1", "s1"))

	for _, typ := range []model.EventType{model.EventPlanning, model.EventPlanReady, model.EventPhaseStart} {
		if err := s.AddEvent(&model.Event{BuildID: "b1", Type: typ, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("AddEvent error: %v", err)
		}
	}

	events, err := s.GetEvents("b1", 0)
	if err != nil {
		t.Fatalf("GetEvents error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != model.EventPlanning {
		t.Fatalf("expected insertion order, got %q first", events[0].Type)
	}

	after, err := s.GetEvents("b1", events[1].ID)
	if err != nil {
		t.Fatalf("GetEvents error: %v", err)
	}
	if len(after) != 1 || after[0].Type != model.EventPhaseStart {
		t.Fatalf("expected only the last event, got %+v", after)
	}
}

func TestFiles(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertFile("s1", "plugin.yml", "name: Homes"); err != nil {
		t.Fatalf("UpsertFile error: %v", err)
	}
	// Upsert with the same path overwrites.
	if err := s.UpsertFile("s1", "plugin.yml", "name: Homes\nversion: 2"); err != nil {
		t.Fatalf("UpsertFile error: %v", err)
	}
	if err := s.UpsertFile("s1", "pom.xml", "<project/>"); err != nil {
		t.Fatalf("UpsertFile error: %v", err)
	}

	f, err := s.GetFile("s1", "plugin.yml")
	if err != nil {
		t.Fatalf("GetFile error: %v", err)
	}
	if f.Content != "name: Homes\nversion: 2" {
		t.Fatalf("unexpected content %q", f.Content)
	}

	files, err := s.ListFiles("s1")
	if err != nil {
		t.Fatalf("ListFiles error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}

	if err := s.DeleteFile("s1", "pom.xml"); err != nil {
		t.Fatalf("DeleteFile error: %v", err)
	}
	if _, err := s.GetFile("s1", "pom.xml"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMessages(t *testing.T) {
	s := newTestStore(t)

	msgs := []*model.Message{
		{SessionID: "s1", Role: "user", Content: "build a homes plugin", CreatedAt: time.Now()},
		{SessionID: "s1", Role: "assistant", Content: "Here is your plugin.", CreatedAt: time.Now()},
	}
	for _, m := range msgs {
		if err := s.AddMessage(m); err != nil {
			t.Fatalf("AddMessage error: %v", err)
		}
	}

	got, err := s.GetMessages("s1")
	if err != nil {
		t.Fatalf("GetMessages error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "assistant" {
		t.Fatalf("unexpected order: %+v", got)
	}
}
