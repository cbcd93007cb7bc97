package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/plugforge/plugforge/pkg/model"
	"github.com/plugforge/plugforge/pkg/plan"
	"github.com/plugforge/plugforge/pkg/prompt"
)

// runPhases executes every phase of the approved plan in order. Phases
// already complete (from a resumed build) are skipped wholesale; settled
// files inside a partially-complete phase are skipped individually.
func (r *Runner) runPhases(ctx context.Context) error {
	for i := range r.build.Phases {
		ph := &r.build.Phases[i]
		if ph.Status == model.PhaseComplete {
			continue
		}
		if err := r.checkCancelled(ctx); err != nil {
			return err
		}

		ph.Status = model.PhaseActive
		r.build.ThinkingMessage = fmt.Sprintf("Working on %s...", ph.Name)
		r.checkpoint()
		r.emit(model.EventPhaseStart, ph.Name, i, "")

		deps := r.dependencyPass(ctx, i)

		for j := 0; j < len(ph.Files); j++ {
			f := &ph.Files[j]
			if f.Status == model.FileCreated || f.Status == model.FileUpdated {
				continue
			}
			if err := r.checkCancelled(ctx); err != nil {
				return err
			}

			err := r.generateFile(ctx, i, j, deps)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
				return err
			}

			f.Status = model.FileError
			f.Error = model.SanitizeError(err.Error())
			r.checkpoint()
			r.emit(model.EventFileError, f.Error, i, f.Path)

			switch r.awaitFileError(ctx, f.Path) {
			case DecisionRetry:
				j--
			case DecisionCancel:
				return ErrCancelled
			case DecisionSkip:
				// The file stays in error; the build moves on.
			}
		}

		r.reviewPhase(ctx, i)

		ph.Status = model.PhaseComplete
		r.checkpoint()
		r.emit(model.EventPhaseComplete, ph.Name, i, "")
	}
	return nil
}

// dependencyPass asks which existing files matter for the upcoming phase
// and summarizes them for the generation prompts. Entirely advisory: any
// failure just means generating without summaries.
func (r *Runner) dependencyPass(ctx context.Context, phaseIdx int) map[string]string {
	if r.mem.Len() == 0 {
		return nil
	}

	res, err := r.gateway.Complete(ctx, prompt.DependencySystem,
		prompt.DependencyRead(r.build.Plan.Phases[phaseIdx], r.mem.Paths()))
	if err != nil {
		log.Printf("build %s: dependency read for phase %d: %v", r.build.ID, phaseIdx, err)
		return nil
	}
	r.addUsage(res)

	paths, err := plan.ParseFileList(res.Text)
	if err != nil {
		log.Printf("build %s: dependency read for phase %d: %v", r.build.ID, phaseIdx, err)
		return nil
	}
	if len(paths) > 5 {
		paths = paths[:5]
	}

	summaries := make(map[string]string, len(paths))
	for _, path := range paths {
		content, ok := r.mem.Get(path)
		if !ok {
			continue
		}
		sres, err := r.gateway.Complete(ctx, prompt.ReaderSystem, prompt.FileRead(path, content))
		if err != nil {
			log.Printf("build %s: summarizing %s: %v", r.build.ID, path, err)
			continue
		}
		r.addUsage(sres)
		summaries[path] = sres.Text
	}
	if len(summaries) == 0 {
		return nil
	}
	return summaries
}

// generateFile produces one planned file. The write to the file store is
// the commit point: memory and the durable file state only advance after it
// succeeds, and a cancellation observed first discards the result.
func (r *Runner) generateFile(ctx context.Context, phaseIdx, fileIdx int, deps map[string]string) error {
	ph := &r.build.Phases[phaseIdx]
	f := &ph.Files[fileIdx]

	f.Status = model.FileGenerating
	f.Error = ""
	r.build.ThinkingMessage = fmt.Sprintf("Generating %s...", f.Name)
	r.checkpoint()
	r.emit(model.EventFileGenerating, "", phaseIdx, f.Path)

	priority := make([]string, 0, len(ph.Files))
	for _, pf := range ph.Files {
		priority = append(priority, pf.Path)
	}
	projectCtx := r.mem.Context(priority, r.cfg.ContextBudget)
	if len(deps) > 0 {
		var b strings.Builder
		b.WriteString("## Dependency Summaries\n")
		for path, summary := range deps {
			fmt.Fprintf(&b, "### %s\n%s\n\n", path, summary)
		}
		projectCtx = strings.TrimRight(b.String(), "\n") + "\n\n" + projectCtx
	}

	planned := model.PlannedFile{Path: f.Path, Name: f.Name, Description: f.Description}
	res, err := r.gateway.Complete(ctx, prompt.GeneratorSystem,
		prompt.FileGeneration(r.build.Plan, planned, ph.Name, projectCtx))
	if err != nil {
		return err
	}
	r.addUsage(res)
	if err := r.checkCancelled(ctx); err != nil {
		return err
	}

	content := stripFences(res.Text)
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("model produced empty content for %s", f.Path)
	}

	existing := false
	if _, ok := r.mem.Get(f.Path); ok {
		existing = true
	}
	if err := r.files.UpsertFile(r.build.SessionID, f.Path, content); err != nil {
		return fmt.Errorf("writing %s: %w", f.Path, err)
	}
	r.mem.Put(f.Path, content)

	eventType := model.EventFileCreated
	f.Status = model.FileCreated
	if existing {
		eventType = model.EventFileUpdated
		f.Status = model.FileUpdated
	}
	r.checkpoint()
	r.emit(eventType, "", phaseIdx, f.Path)
	return nil
}

// reviewPhase runs the post-phase review and applies any requested fixes.
// Review is advisory: every failure in here is logged and swallowed, never
// escalated to the build.
func (r *Runner) reviewPhase(ctx context.Context, phaseIdx int) {
	ph := &r.build.Phases[phaseIdx]
	ph.Status = model.PhaseReviewing
	prior := r.build.Status
	r.build.Status = model.StatusReviewing
	r.build.ThinkingMessage = fmt.Sprintf("Reviewing %s...", ph.Name)
	r.checkpoint()
	defer func() {
		r.build.Status = prior
		r.checkpoint()
	}()

	phaseFiles := make(map[string]string, len(ph.Files))
	inPhase := make(map[string]bool, len(ph.Files))
	for _, f := range ph.Files {
		inPhase[f.Path] = true
		if content, ok := r.mem.Get(f.Path); ok {
			phaseFiles[f.Path] = content
		}
	}
	if len(phaseFiles) == 0 {
		return
	}
	var otherPaths []string
	for _, p := range r.mem.Paths() {
		if !inPhase[p] {
			otherPaths = append(otherPaths, p)
		}
	}

	res, err := r.gateway.Complete(ctx, prompt.ReviewerSystem,
		prompt.Review(ph.Name, phaseFiles, otherPaths))
	if err != nil {
		log.Printf("build %s: reviewing phase %d: %v", r.build.ID, phaseIdx, err)
		return
	}
	r.addUsage(res)

	verdict, err := plan.ParseReview(res.Text)
	if err != nil {
		log.Printf("build %s: reviewing phase %d: %v", r.build.ID, phaseIdx, err)
		return
	}
	if verdict.Passed {
		return
	}

	for _, fix := range verdict.Fixes {
		if err := r.checkCancelled(ctx); err != nil {
			return
		}
		if err := r.applyFix(ctx, fix); err != nil {
			log.Printf("build %s: fixing %s: %v", r.build.ID, fix.Path, err)
			owner, _, ok := r.findFile(fix.Path)
			if ok {
				r.emit(model.EventFileError, model.SanitizeError(err.Error()), owner, fix.Path)
			}
		}
	}
}

// applyFix patches one file the review flagged. The target may live in any
// phase, not just the one under review; fixes for unknown paths are
// dropped.
func (r *Runner) applyFix(ctx context.Context, fix plan.Fix) error {
	content, ok := r.mem.Get(fix.Path)
	if !ok {
		log.Printf("build %s: review fix targets unknown file %s, skipping", r.build.ID, fix.Path)
		return nil
	}

	res, err := r.gateway.Complete(ctx, prompt.PatcherSystem,
		prompt.Patch(fix.Path, content, fix.Reason))
	if err != nil {
		return err
	}
	r.addUsage(res)
	if err := r.checkCancelled(ctx); err != nil {
		return err
	}

	fixed := stripFences(res.Text)
	if strings.TrimSpace(fixed) == "" {
		return fmt.Errorf("model produced empty fix for %s", fix.Path)
	}
	if err := r.files.UpsertFile(r.build.SessionID, fix.Path, fixed); err != nil {
		return fmt.Errorf("writing %s: %w", fix.Path, err)
	}
	r.mem.Put(fix.Path, fixed)

	owner, idx, ok := r.findFile(fix.Path)
	if ok {
		r.build.Phases[owner].Files[idx].Status = model.FileUpdated
		r.build.Phases[owner].Files[idx].Error = ""
	}
	r.checkpoint()
	r.emit(model.EventFileUpdated, fix.Reason, owner, fix.Path)
	return nil
}

// findFile locates a path's state entry across all phases.
func (r *Runner) findFile(path string) (phaseIdx, fileIdx int, ok bool) {
	for i := range r.build.Phases {
		for j := range r.build.Phases[i].Files {
			if r.build.Phases[i].Files[j].Path == path {
				return i, j, true
			}
		}
	}
	return -1, -1, false
}

// stripFences removes a wrapping markdown code fence if the model added one
// despite instructions.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	} else {
		return s
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimRight(trimmed, "\n") + "\n"
}
