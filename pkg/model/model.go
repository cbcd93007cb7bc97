// Package model defines the persisted build aggregate and its state machine
// vocabulary: plans, phases, file states, and lifecycle events.
package model

import (
	"regexp"
	"strings"
	"time"
)

// BuildStatus is the build-wide state machine.
type BuildStatus string

const (
	StatusPlanning         BuildStatus = "planning"
	StatusAwaitingApproval BuildStatus = "awaiting-approval"
	StatusBuilding         BuildStatus = "building"
	StatusReviewing        BuildStatus = "reviewing"
	StatusComplete         BuildStatus = "complete"
	StatusError            BuildStatus = "error"
	StatusCancelled        BuildStatus = "cancelled"
)

// Terminal reports whether a build in this status will never progress again
// on its own. Error is terminal for the current run but resumable by a fresh
// runner, so it is not terminal here.
func (s BuildStatus) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled || s == StatusError
}

// Active reports whether a build in this status blocks creation of another
// build for the same session.
func (s BuildStatus) Active() bool {
	return !s.Terminal()
}

// PhaseStatus is the per-phase runtime state, forward-only within a run.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseActive    PhaseStatus = "active"
	PhaseReviewing PhaseStatus = "reviewing"
	PhaseComplete  PhaseStatus = "complete"
)

// FileStatus is the per-file runtime state.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileGenerating FileStatus = "generating"
	FileCreated    FileStatus = "created"
	FileUpdating   FileStatus = "updating"
	FileUpdated    FileStatus = "updated"
	FileReading    FileStatus = "reading"
	FileRead       FileStatus = "read"
	FileDeleting   FileStatus = "deleting"
	FileDeleted    FileStatus = "deleted"
	FileError      FileStatus = "error"
)

// PlannedFile describes a single file in the plan. Declarative only.
type PlannedFile struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Phase is a named, ordered group of planned files with a shared purpose.
type Phase struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Files       []PlannedFile `json:"files"`
}

// BuildPlan is the structured plan produced by the planning step. Immutable
// after approval; an explicit edit before approval replaces it wholesale.
type BuildPlan struct {
	PluginName  string  `json:"pluginName"`
	PackageName string  `json:"packageName"`
	Description string  `json:"description"`
	Phases      []Phase `json:"phases"`
}

// FileCount returns the total number of planned files across all phases.
func (p *BuildPlan) FileCount() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Files)
	}
	return n
}

// FileState tracks one file's progress through generation. Files appended at
// runtime by the agentic loop follow the same state machine as planned ones.
type FileState struct {
	Path        string     `json:"path"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      FileStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// PhaseState is the runtime twin of a Phase, same index in the plan.
type PhaseState struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      PhaseStatus `json:"status"`
	Files       []FileState `json:"files"`
}

// Done reports whether every file in the phase reached a settled state.
func (p *PhaseState) Done() bool {
	return p.Status == PhaseComplete
}

// PhaseStatesFromPlan derives the initial runtime state array for a plan.
func PhaseStatesFromPlan(plan *BuildPlan) []PhaseState {
	states := make([]PhaseState, len(plan.Phases))
	for i, ph := range plan.Phases {
		files := make([]FileState, len(ph.Files))
		for j, f := range ph.Files {
			files[j] = FileState{
				Path:        f.Path,
				Name:        f.Name,
				Description: f.Description,
				Status:      FilePending,
			}
		}
		states[i] = PhaseState{
			Name:        ph.Name,
			Description: ph.Description,
			Status:      PhasePending,
			Files:       files,
		}
	}
	return states
}

// Build is the persisted aggregate: the durable twin of an in-memory runner.
// Every in-memory transition is checkpointed here before the next step begins.
type Build struct {
	ID              string            `json:"id"`
	SessionID       string            `json:"session_id"`
	UserID          string            `json:"user_id,omitempty"`
	Status          BuildStatus       `json:"status"`
	UserRequest     string            `json:"user_request"`
	ModelID         string            `json:"model_id,omitempty"`
	Framework       string            `json:"framework,omitempty"`
	Plan            *BuildPlan        `json:"plan,omitempty"`
	Phases          []PhaseState      `json:"phases,omitempty"`
	FileMemory      map[string]string `json:"file_memory,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	Error           string            `json:"error,omitempty"`
	ThinkingMessage string            `json:"thinking_message,omitempty"`
	InputChars      int64             `json:"input_chars,omitempty"`
	OutputChars     int64             `json:"output_chars,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ProjectFile is a durable generated file, keyed by session and path.
type ProjectFile struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a conversation entry persisted alongside a session.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType tags the lifecycle events a build emits.
type EventType string

const (
	EventPlanning       EventType = "planning"
	EventPlanReady      EventType = "plan-ready"
	EventThinking       EventType = "thinking"
	EventPhaseStart     EventType = "phase-start"
	EventFileGenerating EventType = "file-generating"
	EventFileCreated    EventType = "file-created"
	EventFileUpdated    EventType = "file-updated"
	EventFileDeleted    EventType = "file-deleted"
	EventFileError      EventType = "file-error"
	EventPhaseComplete  EventType = "phase-complete"
	EventBuildComplete  EventType = "build-complete"
	EventBuildError     EventType = "build-error"
	EventBuildCancelled EventType = "build-cancelled"
	EventSnapshot       EventType = "snapshot"
	EventDone           EventType = "done"
)

// Event is a single entry in a build's event stream.
type Event struct {
	ID         int64     `json:"id,omitempty"`
	BuildID    string    `json:"build_id"`
	Type       EventType `json:"type"`
	Data       string    `json:"data,omitempty"`
	PhaseIndex int       `json:"phase_index,omitempty"`
	FilePath   string    `json:"file_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Snapshot is the full current state of a build, sent to a newly connecting
// observer in lieu of replaying history.
type Snapshot struct {
	BuildID          string       `json:"build_id"`
	Status           BuildStatus  `json:"status"`
	Plan             *BuildPlan   `json:"plan,omitempty"`
	Phases           []PhaseState `json:"phases,omitempty"`
	PendingFileError string       `json:"pending_file_error,omitempty"`
	Summary          string       `json:"summary,omitempty"`
	Error            string       `json:"error,omitempty"`
}

// Truncate shortens s to at most maxLen characters, appending an ellipsis.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	spacesPattern = regexp.MustCompile(`\s+`)
)

// maxErrorLen bounds the user-visible error string stored on a build.
const maxErrorLen = 300

// SanitizeError converts a raw upstream error string into a bounded,
// markup-free message safe to surface on the event stream. HTML error pages
// and stack traces must never leak through.
func SanitizeError(raw string) string {
	s := tagPattern.ReplaceAllString(raw, " ")
	s = spacesPattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		s = "generation failed"
	}
	return Truncate(s, maxErrorLen)
}
