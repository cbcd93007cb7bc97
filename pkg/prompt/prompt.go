// Package prompt builds the prompt strings for every pipeline stage. Pure
// string construction with no state and no orchestration.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/plugforge/plugforge/pkg/model"
)

// Planning builds the user content for the planning call.
func Planning(request, framework string, existingPaths []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Framework: %s\n\n", frameworkOr(framework))
	if len(existingPaths) > 0 {
		b.WriteString("## Existing Project Files\n")
		for _, p := range existingPaths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "## User Request\n%s", request)
	return b.String()
}

// Revision appends edit instructions to the original request for a re-plan.
func Revision(request, instructions string) string {
	return fmt.Sprintf(`%s

## Revision Instructions
The user reviewed the previous plan and asked for changes:

%s`, request, instructions)
}

// FileGeneration builds the user content for generating a single file.
func FileGeneration(p *model.BuildPlan, file model.PlannedFile, phaseName, context string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plugin: %s (package %s)\n%s\n\n", p.PluginName, p.PackageName, p.Description)
	fmt.Fprintf(&b, "Current phase: %s\n\n", phaseName)
	if context != "" {
		fmt.Fprintf(&b, "## Project Context\n%s\n\n", context)
	}
	fmt.Fprintf(&b, "## File To Generate\nPath: %s\nPurpose: %s\n\nOutput only the complete file content — no fences, no commentary.",
		file.Path, file.Description)
	return b.String()
}

// Patch builds the user content for fixing an existing file for a stated
// reason. Cheaper than full regeneration: the model edits, it does not
// recreate.
func Patch(path, content, reason string) string {
	return fmt.Sprintf(`## File
Path: %s

## Current Content
%s

## Problem
%s

Output the complete corrected file content — no fences, no commentary.`, path, content, reason)
}

// Review builds the user content for a phase review. phaseFiles are the
// files produced in this phase (full content); otherPaths lists everything
// else known, since a fix may target earlier, already-completed work.
func Review(phaseName string, phaseFiles map[string]string, otherPaths []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase under review: %s\n\n## Phase Files\n", phaseName)
	for _, path := range sortedKeys(phaseFiles) {
		fmt.Fprintf(&b, "### %s\n%s\n\n", path, phaseFiles[path])
	}
	if len(otherPaths) > 0 {
		b.WriteString("## Other Project Files (paths only)\n")
		for _, p := range otherPaths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}

// DependencyRead asks which already-existing files are relevant context for
// the upcoming phase.
func DependencyRead(phase model.Phase, existingPaths []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Upcoming phase: %s — %s\n\n## Files In This Phase\n", phase.Name, phase.Description)
	for _, f := range phase.Files {
		fmt.Fprintf(&b, "- %s: %s\n", f.Path, f.Description)
	}
	b.WriteString("\n## Existing Files\n")
	for _, p := range existingPaths {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return b.String()
}

// FileRead asks for a short summary of a file's content, used instead of
// injecting the full file into later prompts.
func FileRead(path, content string) string {
	return fmt.Sprintf(`Summarize this file in a few sentences: its purpose, its public surface (classes, methods, config keys), and anything another file would need to know to use it correctly.

Path: %s

%s`, path, content)
}

// AgenticStep builds the user content for one step of the quick-change loop.
func AgenticStep(request string, paths []string, summaries map[string]string, actionLog []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task\n%s\n\n## File Tree\n", request)
	for _, p := range paths {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	if len(summaries) > 0 {
		b.WriteString("\n## File Summaries (from your earlier reads)\n")
		for _, path := range sortedKeys(summaries) {
			fmt.Fprintf(&b, "### %s\n%s\n", path, summaries[path])
		}
	}
	if len(actionLog) > 0 {
		b.WriteString("\n## Actions Taken So Far\n")
		for i, a := range actionLog {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a)
		}
	}
	b.WriteString("\nChoose exactly one next action.")
	return b.String()
}

// Summary builds the user content for the final build summary.
func Summary(request string, p *model.BuildPlan, paths []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Original Request\n%s\n\n", request)
	if p != nil {
		fmt.Fprintf(&b, "## Plan\n%s — %s\n\n", p.PluginName, p.Description)
	}
	b.WriteString("## Files Produced\n")
	for _, path := range paths {
		fmt.Fprintf(&b, "- %s\n", path)
	}
	return b.String()
}

// ActionSummary builds the user content for summarizing a quick-change run
// from its action log (used for the normal `done` path and the forced
// step-cap termination).
func ActionSummary(request string, actionLog []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Original Request\n%s\n\n## Actions Taken\n", request)
	for i, a := range actionLog {
		fmt.Fprintf(&b, "%d. %s\n", i+1, a)
	}
	return b.String()
}

func frameworkOr(framework string) string {
	if framework == "" {
		return "Spigot"
	}
	return framework
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
