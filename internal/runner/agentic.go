package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/plugforge/plugforge/pkg/model"
	"github.com/plugforge/plugforge/pkg/plan"
	"github.com/plugforge/plugforge/pkg/prompt"
)

// runAgentic executes a quick-change outcome: a step loop where the model
// chooses one action at a time (read, create, update, delete, done) against
// the existing project. The whole run is a single synthetic phase whose
// file list grows as actions touch files. The loop is capped; hitting the
// cap force-terminates with a summary of what was done.
func (r *Runner) runAgentic(ctx context.Context, description string) error {
	r.build.Status = model.StatusBuilding
	r.build.Phases = []model.PhaseState{{
		Name:        "Quick Change",
		Description: description,
		Status:      model.PhaseActive,
	}}
	r.build.ThinkingMessage = "Making the change..."
	r.checkpoint()
	r.emit(model.EventPhaseStart, "Quick Change", 0, "")

	task := r.build.UserRequest
	if description != "" {
		task = fmt.Sprintf("%s\n\n(Planner's read: %s)", r.build.UserRequest, description)
	}

	summaries := make(map[string]string)
	var actionLog []string

	for step := 0; step < r.cfg.AgenticMaxSteps; step++ {
		if err := r.checkCancelled(ctx); err != nil {
			return err
		}

		res, err := r.gateway.Complete(ctx, prompt.AgenticSystem,
			prompt.AgenticStep(task, r.mem.Paths(), summaries, actionLog))
		if err != nil {
			return fmt.Errorf("quick change step %d: %w", step+1, err)
		}
		r.addUsage(res)

		action, err := plan.ParseStep(res.Text)
		if err != nil {
			// A garbled step costs one slot off the cap and nothing else.
			log.Printf("build %s: quick change step %d: %v", r.build.ID, step+1, err)
			actionLog = append(actionLog, "produced an invalid action (discarded)")
			continue
		}

		if action.Action == plan.ActionDone {
			return r.finishAgentic(ctx, task, action.Summary, actionLog)
		}

		entry, err := r.applyAction(ctx, action, summaries)
		if err != nil {
			if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
				return err
			}
			f := r.agenticFile(action.Path)
			f.Status = model.FileError
			f.Error = model.SanitizeError(err.Error())
			r.checkpoint()
			r.emit(model.EventFileError, f.Error, 0, action.Path)

			switch r.awaitFileError(ctx, action.Path) {
			case DecisionRetry:
				step--
				actionLog = append(actionLog, fmt.Sprintf("%s %s failed, retrying", action.Action, action.Path))
			case DecisionCancel:
				return ErrCancelled
			case DecisionSkip:
				actionLog = append(actionLog, fmt.Sprintf("%s %s failed, skipped", action.Action, action.Path))
			}
			continue
		}
		actionLog = append(actionLog, entry)
	}

	return r.finishAgentic(ctx, task, "", actionLog)
}

// applyAction performs one non-done agentic action and returns the action
// log entry for it.
func (r *Runner) applyAction(ctx context.Context, action *plan.Step, summaries map[string]string) (string, error) {
	switch action.Action {
	case plan.ActionRead:
		return r.readAction(ctx, action.Path, summaries)

	case plan.ActionCreate, plan.ActionUpdate:
		f := r.agenticFile(action.Path)
		transient, status, event := model.FileGenerating, model.FileCreated, model.EventFileCreated
		if _, exists := r.mem.Get(action.Path); exists || action.Action == plan.ActionUpdate {
			transient, status, event = model.FileUpdating, model.FileUpdated, model.EventFileUpdated
		}
		if err := r.checkCancelled(ctx); err != nil {
			return "", err
		}
		f.Status = transient
		f.Error = ""
		r.checkpoint()
		if err := r.files.UpsertFile(r.build.SessionID, action.Path, action.Content); err != nil {
			return "", fmt.Errorf("writing %s: %w", action.Path, err)
		}
		r.mem.Put(action.Path, action.Content)
		f.Status = status
		f.Error = ""
		r.checkpoint()
		r.emit(event, "", 0, action.Path)
		return fmt.Sprintf("%s %s", pastTense(action.Action), action.Path), nil

	case plan.ActionDelete:
		f := r.agenticFile(action.Path)
		if err := r.checkCancelled(ctx); err != nil {
			return "", err
		}
		f.Status = model.FileDeleting
		f.Error = ""
		r.checkpoint()
		if err := r.files.DeleteFile(r.build.SessionID, action.Path); err != nil {
			return "", fmt.Errorf("deleting %s: %w", action.Path, err)
		}
		r.mem.Delete(action.Path)
		delete(summaries, action.Path)
		f.Status = model.FileDeleted
		f.Error = ""
		r.checkpoint()
		r.emit(model.EventFileDeleted, "", 0, action.Path)
		return fmt.Sprintf("deleted %s", action.Path), nil

	default:
		return "", fmt.Errorf("unknown action %q", action.Action)
	}
}

// readAction summarizes a file into the step loop's working set. Reads
// never touch the file store; a failed summary is dropped, not escalated.
func (r *Runner) readAction(ctx context.Context, filePath string, summaries map[string]string) (string, error) {
	content, ok := r.mem.Get(filePath)
	if !ok {
		return fmt.Sprintf("tried to read %s (does not exist)", filePath), nil
	}

	f := r.agenticFile(filePath)
	f.Status = model.FileReading
	r.checkpoint()

	res, err := r.gateway.Complete(ctx, prompt.ReaderSystem, prompt.FileRead(filePath, content))
	if err != nil {
		log.Printf("build %s: reading %s: %v", r.build.ID, filePath, err)
		f.Status = model.FileRead
		r.checkpoint()
		return fmt.Sprintf("read %s (no summary available)", filePath), nil
	}
	r.addUsage(res)
	summaries[filePath] = res.Text
	f.Status = model.FileRead
	r.checkpoint()
	return fmt.Sprintf("read %s", filePath), nil
}

// finishAgentic settles the quick change: phase complete, summary from the
// done action or synthesized from the action log on a forced termination.
func (r *Runner) finishAgentic(ctx context.Context, task, summary string, actionLog []string) error {
	r.build.Phases[0].Status = model.PhaseComplete
	r.checkpoint()
	r.emit(model.EventPhaseComplete, "Quick Change", 0, "")

	if summary == "" {
		summary = r.synthesizeSummary(ctx, task, actionLog)
	}
	r.addMessage("assistant", summary)
	r.build.Summary = summary
	r.complete(summary)
	return nil
}

// synthesizeSummary produces a summary when the loop ended without a done
// action, falling back to the raw action log if the model call fails.
func (r *Runner) synthesizeSummary(ctx context.Context, task string, actionLog []string) string {
	if len(actionLog) == 0 {
		return "No changes were made."
	}
	res, err := r.gateway.Complete(ctx, prompt.SummarizerSystem, prompt.ActionSummary(task, actionLog))
	if err == nil {
		r.addUsage(res)
		return res.Text
	}
	log.Printf("build %s: summarizing quick change: %v", r.build.ID, err)
	return "Changes made:\n- " + strings.Join(actionLog, "\n- ")
}

// agenticFile returns the synthetic phase's state entry for a path,
// appending one if this is the first action to touch it.
func (r *Runner) agenticFile(filePath string) *model.FileState {
	ph := &r.build.Phases[0]
	for i := range ph.Files {
		if ph.Files[i].Path == filePath {
			return &ph.Files[i]
		}
	}
	ph.Files = append(ph.Files, model.FileState{
		Path:   filePath,
		Name:   path.Base(filePath),
		Status: model.FilePending,
	})
	return &ph.Files[len(ph.Files)-1]
}

func pastTense(action string) string {
	switch action {
	case plan.ActionCreate:
		return "created"
	case plan.ActionUpdate:
		return "updated"
	default:
		return action
	}
}
