package runner

import (
	"context"
	"errors"
	"time"
)

// ErrCancelled aborts a run when the user cancels the build.
var ErrCancelled = errors.New("build cancelled")

// ErrNoPendingDecision is returned when a control request arrives and the
// runner is not suspended waiting for that kind of decision.
var ErrNoPendingDecision = errors.New("no pending decision for build")

// ApprovalAction is the user's verdict on a proposed plan.
type ApprovalAction string

const (
	ApprovalApprove ApprovalAction = "approve"
	ApprovalEdit    ApprovalAction = "edit"
	ApprovalCancel  ApprovalAction = "cancel"
)

// ApprovalDecision resolves an awaiting-approval suspension.
type ApprovalDecision struct {
	Action       ApprovalAction `json:"action"`
	Instructions string         `json:"instructions,omitempty"`
}

// FileErrorDecision resolves a file-error suspension.
type FileErrorDecision string

const (
	DecisionRetry  FileErrorDecision = "retry"
	DecisionSkip   FileErrorDecision = "skip"
	DecisionCancel FileErrorDecision = "cancel"
)

// Cancel requests cooperative cancellation. Safe to call any number of
// times from any goroutine; the run goroutine observes it at the next
// checkpoint boundary and before committing any in-flight result.
func (r *Runner) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// checkCancelled is consulted between steps and before committing results.
func (r *Runner) checkCancelled(ctx context.Context) error {
	select {
	case <-r.cancelCh:
		return ErrCancelled
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// armApproval publishes the plan decision channel. It must be called before
// the awaiting-approval status is checkpointed: a client that reads the
// status and immediately approves must never be told there is no pending
// decision.
func (r *Runner) armApproval() chan ApprovalDecision {
	ch := make(chan ApprovalDecision, 1)
	r.mu.Lock()
	r.approvalCh = ch
	r.mu.Unlock()
	return ch
}

// awaitApproval suspends the run until the user decides on the plan. There
// is no timeout: an unapproved plan waits until approved, edited, or the
// build is cancelled.
func (r *Runner) awaitApproval(ctx context.Context, ch chan ApprovalDecision) (ApprovalDecision, error) {
	defer func() {
		r.mu.Lock()
		r.approvalCh = nil
		r.mu.Unlock()
	}()

	select {
	case d := <-ch:
		if err := r.checkCancelled(ctx); err != nil {
			return ApprovalDecision{}, err
		}
		return d, nil
	case <-r.cancelCh:
		return ApprovalDecision{}, ErrCancelled
	case <-ctx.Done():
		return ApprovalDecision{}, ctx.Err()
	}
}

// ResolveApproval delivers the user's plan decision to a runner suspended
// in awaitApproval.
func (r *Runner) ResolveApproval(d ApprovalDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.approvalCh == nil {
		return ErrNoPendingDecision
	}
	select {
	case r.approvalCh <- d:
		r.approvalCh = nil
		return nil
	default:
		return ErrNoPendingDecision
	}
}

// awaitFileError suspends the run after a file-level failure until the user
// picks retry/skip/cancel or the wait times out. Timeout defaults to skip:
// one bad file should not strand an unattended build forever.
func (r *Runner) awaitFileError(ctx context.Context, path string) FileErrorDecision {
	ch := make(chan FileErrorDecision, 1)
	r.mu.Lock()
	r.fileErrCh = ch
	r.pendingFileError = path
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.fileErrCh = nil
		r.pendingFileError = ""
		r.mu.Unlock()
	}()

	timer := time.NewTimer(r.cfg.FileErrorWait)
	defer timer.Stop()

	select {
	case d := <-ch:
		if r.checkCancelled(ctx) != nil {
			return DecisionCancel
		}
		return d
	case <-timer.C:
		return DecisionSkip
	case <-r.cancelCh:
		return DecisionCancel
	case <-ctx.Done():
		return DecisionCancel
	}
}

// ResolveFileError delivers the user's retry/skip/cancel choice to a runner
// suspended in awaitFileError.
func (r *Runner) ResolveFileError(d FileErrorDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fileErrCh == nil {
		return ErrNoPendingDecision
	}
	select {
	case r.fileErrCh <- d:
		r.fileErrCh = nil
		return nil
	default:
		return ErrNoPendingDecision
	}
}
