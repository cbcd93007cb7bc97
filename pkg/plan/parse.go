// Package plan parses structured model output for the build pipeline: the
// planning outcome (conversation / quick-change / build), phase review
// verdicts, dependency file lists, and agentic step actions.
//
// Model output is JSON-ish at best. Every parser here attempts a strict
// parse first, then a repair pass (strip code fences, extract the outermost
// braces, normalize quotes, drop trailing commas) before failing with a
// typed ParseError, never a silently-empty default.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/plugforge/plugforge/pkg/model"
)

// Outcome kinds returned by the planning step.
const (
	OutcomeConversation = "conversation"
	OutcomeQuickChange  = "quick-change"
	OutcomeBuild        = "build"
)

// Outcome is the tagged union a planning response parses into.
type Outcome struct {
	Type string
	// Reply is set for conversation outcomes: the user's request wasn't a
	// build request and this is the answer to persist.
	Reply string
	// Description is set for quick-change outcomes.
	Description string
	// Plan is set for build outcomes.
	Plan *model.BuildPlan
}

// ParseError is model output that could not be coerced into valid
// structured data even after the repair pass.
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s output: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrEmptyPlan marks a validated plan with no files across all phases;
// always fatal to the build.
var ErrEmptyPlan = errors.New("plan contains no files")

// ParseOutcome parses a planning response into one of the three known
// shapes and validates it.
func ParseOutcome(raw string) (*Outcome, error) {
	var parsed struct {
		Type        string        `json:"type"`
		Reply       string        `json:"reply"`
		Description string        `json:"description"`
		PluginName  string        `json:"pluginName"`
		PackageName string        `json:"packageName"`
		Phases      []model.Phase `json:"phases"`
	}
	if err := unmarshalObject(raw, &parsed); err != nil {
		return nil, &ParseError{Stage: "planning", Err: err}
	}

	switch parsed.Type {
	case OutcomeConversation:
		if parsed.Reply == "" {
			return nil, &ParseError{Stage: "planning", Err: fmt.Errorf("conversation outcome missing reply")}
		}
		return &Outcome{Type: OutcomeConversation, Reply: parsed.Reply}, nil

	case OutcomeQuickChange:
		desc := parsed.Description
		if desc == "" {
			return nil, &ParseError{Stage: "planning", Err: fmt.Errorf("quick-change outcome missing description")}
		}
		return &Outcome{Type: OutcomeQuickChange, Description: desc}, nil

	case OutcomeBuild:
		p := &model.BuildPlan{
			PluginName:  parsed.PluginName,
			PackageName: parsed.PackageName,
			Description: parsed.Description,
			Phases:      parsed.Phases,
		}
		if p.FileCount() == 0 {
			return nil, ErrEmptyPlan
		}
		return &Outcome{Type: OutcomeBuild, Plan: p}, nil

	default:
		return nil, &ParseError{Stage: "planning", Err: fmt.Errorf("unknown outcome type %q", parsed.Type)}
	}
}

// Fix is a single correction a phase review requested.
type Fix struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ReviewResult is a parsed phase review verdict.
type ReviewResult struct {
	Passed bool  `json:"passed"`
	Fixes  []Fix `json:"fixes,omitempty"`
}

// ParseReview parses a review response. Callers treat failures as a passed
// review; review is advisory and never blocks completion.
func ParseReview(raw string) (*ReviewResult, error) {
	var result ReviewResult
	if err := unmarshalObject(raw, &result); err != nil {
		return nil, &ParseError{Stage: "review", Err: err}
	}
	return &result, nil
}

// ParseFileList parses a dependency-read response: which already-existing
// files are relevant context for the upcoming phase.
func ParseFileList(raw string) ([]string, error) {
	var parsed struct {
		Files []string `json:"files"`
	}
	if err := unmarshalObject(raw, &parsed); err != nil {
		return nil, &ParseError{Stage: "dependency-read", Err: err}
	}
	return parsed.Files, nil
}

// Agentic step actions.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionDone   = "done"
)

// Step is one parsed action from the agentic quick-change loop.
type Step struct {
	Action  string `json:"action"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ParseStep parses an agentic step response and validates the action's
// required fields.
func ParseStep(raw string) (*Step, error) {
	var step Step
	if err := unmarshalObject(raw, &step); err != nil {
		return nil, &ParseError{Stage: "agentic-step", Err: err}
	}

	switch step.Action {
	case ActionRead, ActionDelete:
		if step.Path == "" {
			return nil, &ParseError{Stage: "agentic-step", Err: fmt.Errorf("%s action missing path", step.Action)}
		}
	case ActionCreate, ActionUpdate:
		if step.Path == "" || step.Content == "" {
			return nil, &ParseError{Stage: "agentic-step", Err: fmt.Errorf("%s action missing path or content", step.Action)}
		}
	case ActionDone:
	default:
		return nil, &ParseError{Stage: "agentic-step", Err: fmt.Errorf("unknown action %q", step.Action)}
	}

	return &step, nil
}

// --- JSON repair ---

// unmarshalObject tries a strict parse, then repairs and retries.
func unmarshalObject(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	repaired := Repair(raw)
	if repaired == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("invalid JSON after repair: %w", err)
	}
	return nil
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

var smartQuotes = strings.NewReplacer(
	"“", `"`, "”", `"`, // curly double quotes
	"‘", "'", "’", "'", // curly single quotes
)

// Repair applies best-effort fixes to JSON-ish model output: strips markdown
// code fences, extracts the outermost {...}, normalizes curly quotes, and
// removes trailing commas. Returns "" if no object can be located.
func Repair(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	s = s[start : end+1]

	s = smartQuotes.Replace(s)
	s = trailingComma.ReplaceAllString(s, "$1")
	return s
}
