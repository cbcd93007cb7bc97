package model

import (
	"strings"
	"testing"
)

func TestStatusTerminal(t *testing.T) {
	for _, s := range []BuildStatus{StatusComplete, StatusError, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.Active() {
			t.Errorf("%s should not be active", s)
		}
	}
	for _, s := range []BuildStatus{StatusPlanning, StatusAwaitingApproval, StatusBuilding, StatusReviewing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPhaseStatesFromPlan(t *testing.T) {
	plan := &BuildPlan{
		PluginName: "Homes",
		Phases: []Phase{
			{Name: "Scaffolding", Files: []PlannedFile{{Path: "plugin.yml", Name: "plugin.yml"}}},
			{Name: "Core", Files: []PlannedFile{
				{Path: "src/Homes.java", Name: "Homes.java", Description: "main class"},
				{Path: "src/HomeCommand.java", Name: "HomeCommand.java"},
			}},
		},
	}

	states := PhaseStatesFromPlan(plan)
	if len(states) != 2 {
		t.Fatalf("expected 2 phase states, got %d", len(states))
	}
	if states[0].Status != PhasePending || states[1].Status != PhasePending {
		t.Fatal("expected all phases pending")
	}
	if len(states[1].Files) != 2 {
		t.Fatalf("expected 2 files in phase 1, got %d", len(states[1].Files))
	}
	f := states[1].Files[0]
	if f.Path != "src/Homes.java" || f.Description != "main class" || f.Status != FilePending {
		t.Fatalf("unexpected file state %+v", f)
	}

	if plan.FileCount() != 3 {
		t.Fatalf("expected 3 planned files, got %d", plan.FileCount())
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	got := Truncate("a long string that needs cutting", 10)
	if len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected %q", got)
	}
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "rate limited", "rate limited"},
		{"strips markup", "<html><body>502 Bad Gateway</body></html>", "502 Bad Gateway"},
		{"collapses whitespace", "line one\n\n\tline two", "line one line two"},
		{"empty after cleanup", "<br/>", "generation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeError(tt.raw); got != tt.want {
				t.Fatalf("SanitizeError(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}

	long := SanitizeError(strings.Repeat("x", 1000))
	if len(long) != 300 {
		t.Fatalf("expected bounded error, got %d chars", len(long))
	}
}
