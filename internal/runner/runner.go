// Package runner drives a build from user request to completion: planning,
// plan approval, phased file generation with review, and final summary. One
// Runner owns one build; it runs on its own goroutine, checkpoints every
// state transition to the store before emitting the matching event, and
// suspends on channels when a user decision is needed.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plugforge/plugforge/pkg/eventbus"
	"github.com/plugforge/plugforge/pkg/llm"
	"github.com/plugforge/plugforge/pkg/memory"
	"github.com/plugforge/plugforge/pkg/model"
	"github.com/plugforge/plugforge/pkg/plan"
	"github.com/plugforge/plugforge/pkg/prompt"
	"github.com/plugforge/plugforge/pkg/store"
)

// Config tunes runner behavior. Zero values get defaults from withDefaults.
type Config struct {
	// FileErrorWait is how long a file-error suspension waits for a user
	// decision before defaulting to skip.
	FileErrorWait time.Duration
	// AgenticMaxSteps caps the quick-change loop.
	AgenticMaxSteps int
	// ContextBudget is the character budget for project context in
	// generation prompts.
	ContextBudget int
}

func (c Config) withDefaults() Config {
	if c.FileErrorWait <= 0 {
		c.FileErrorWait = 2 * time.Minute
	}
	if c.AgenticMaxSteps <= 0 {
		c.AgenticMaxSteps = 20
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = 24000
	}
	return c
}

// Notifier is told when a build reaches a terminal status. Implementations
// must not block; failures are theirs to log.
type Notifier interface {
	BuildFinished(b *model.Build)
}

// Manager creates, resumes, and routes control requests to runners. It is
// the only way the rest of the process touches a live build.
type Manager struct {
	cfg      Config
	builds   store.BuildStore
	files    store.FileStore
	messages store.MessageStore
	bus      eventbus.Bus
	gateway  *llm.Gateway
	notifier Notifier

	registry *Registry
	wg       sync.WaitGroup
}

// NewManager wires a Manager. notifier may be nil.
func NewManager(cfg Config, builds store.BuildStore, files store.FileStore, messages store.MessageStore, bus eventbus.Bus, gateway *llm.Gateway, notifier Notifier) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		builds:   builds,
		files:    files,
		messages: messages,
		bus:      bus,
		gateway:  gateway,
		notifier: notifier,
		registry: NewRegistry(),
	}
}

// StartBuild creates a build record for the session and starts its runner
// in the background. Fails with store.ErrActiveBuildExists if the session
// already has a build in flight.
func (m *Manager) StartBuild(ctx context.Context, sessionID, userID, request, modelID, framework string) (*model.Build, error) {
	now := time.Now()
	b := &model.Build{
		ID:          uuid.New().String()[:8],
		SessionID:   sessionID,
		UserID:      userID,
		Status:      model.StatusPlanning,
		UserRequest: request,
		ModelID:     modelID,
		Framework:   framework,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.builds.CreateBuild(b); err != nil {
		return nil, err
	}

	if err := m.messages.AddMessage(&model.Message{
		SessionID: sessionID,
		Role:      "user",
		Content:   request,
		CreatedAt: now,
	}); err != nil {
		log.Printf("persisting user message for build %s: %v", b.ID, err)
	}

	r := m.newRunner(b)
	files, err := m.files.ListFiles(sessionID)
	if err != nil {
		log.Printf("seeding memory for build %s: %v", b.ID, err)
	}
	r.mem.Seed(files)

	// The runner goroutine owns b from launch onward; hand the caller a
	// detached copy.
	ret := cloneBuild(b)
	m.launch(ctx, r, r.execute)
	return ret, nil
}

// ResumeBuild constructs a fresh runner for a build that previously ended
// in error or cancelled and re-enters the phase loop, skipping work already
// checkpointed as complete. Builds that never produced an approved plan are
// not resumable; start a new build instead.
func (m *Manager) ResumeBuild(ctx context.Context, buildID string) (*model.Build, error) {
	b, err := m.builds.GetBuild(buildID)
	if err != nil {
		return nil, err
	}
	if b.Status != model.StatusError && b.Status != model.StatusCancelled {
		return nil, fmt.Errorf("build %s is %s, only error or cancelled builds can resume", b.ID, b.Status)
	}
	if b.Plan == nil || len(b.Phases) == 0 {
		return nil, fmt.Errorf("build %s has no approved plan to resume", b.ID)
	}

	r := m.newRunner(b)
	r.mem.Restore(b.FileMemory)
	if files, err := m.files.ListFiles(b.SessionID); err == nil {
		r.mem.Seed(files)
	} else {
		log.Printf("rehydrating memory for build %s: %v", b.ID, err)
	}

	b.Status = model.StatusBuilding
	b.Error = ""
	r.checkpoint()

	ret := cloneBuild(b)
	m.launch(ctx, r, r.resume)
	return ret, nil
}

// Approve routes a plan decision to the build's live runner.
func (m *Manager) Approve(buildID string, d ApprovalDecision) error {
	if r, ok := m.registry.Lookup(buildID); ok {
		return r.ResolveApproval(d)
	}
	// No live runner: the process restarted while a plan was pending. The
	// plan cannot proceed without a runner, but a cancel can still settle
	// the record.
	if d.Action == ApprovalCancel {
		return m.settleOrphan(buildID)
	}
	return ErrNoPendingDecision
}

// Decide routes a file-error decision to the build's live runner.
func (m *Manager) Decide(buildID string, d FileErrorDecision) error {
	if r, ok := m.registry.Lookup(buildID); ok {
		return r.ResolveFileError(d)
	}
	return ErrNoPendingDecision
}

// CancelBuild cancels a build: cooperatively if a runner is live, directly
// on the durable record otherwise.
func (m *Manager) CancelBuild(buildID string) error {
	if r, ok := m.registry.Lookup(buildID); ok {
		r.Cancel()
		return nil
	}
	return m.settleOrphan(buildID)
}

// settleOrphan marks a runnerless, non-terminal build cancelled.
func (m *Manager) settleOrphan(buildID string) error {
	b, err := m.builds.GetBuild(buildID)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return nil
	}
	b.Status = model.StatusCancelled
	b.UpdatedAt = time.Now()
	return m.builds.UpdateBuild(b)
}

// Snapshot returns the current state of a build: the live runner's view if
// one exists, otherwise reconstructed from the durable record.
func (m *Manager) Snapshot(buildID string) (*model.Snapshot, error) {
	if r, ok := m.registry.Lookup(buildID); ok {
		return r.Snapshot(), nil
	}
	b, err := m.builds.GetBuild(buildID)
	if err != nil {
		return nil, err
	}
	return snapshotOf(b, ""), nil
}

// Live reports whether a runner goroutine is currently driving the build.
func (m *Manager) Live(buildID string) bool {
	_, ok := m.registry.Lookup(buildID)
	return ok
}

// Stop waits for all run goroutines to exit. Call after cancelling the
// context passed to StartBuild/ResumeBuild.
func (m *Manager) Stop() {
	m.wg.Wait()
}

func (m *Manager) newRunner(b *model.Build) *Runner {
	return &Runner{
		cfg:      m.cfg,
		builds:   m.builds,
		files:    m.files,
		messages: m.messages,
		bus:      m.bus,
		gateway:  m.gateway,
		build:    b,
		mem:      memory.NewProject(),
		cancelCh: make(chan struct{}),
	}
}

func (m *Manager) launch(ctx context.Context, r *Runner, body func(context.Context) error) {
	m.registry.Register(r)
	r.checkpoint()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.registry.Unregister(r.build.ID)
		r.run(ctx, body)
		if m.notifier != nil {
			m.notifier.BuildFinished(r.build)
		}
	}()
}

// Runner executes one build on one goroutine. All mutations of the build
// aggregate happen on that goroutine; other goroutines interact only
// through Cancel, ResolveApproval, ResolveFileError, and Snapshot.
type Runner struct {
	cfg      Config
	builds   store.BuildStore
	files    store.FileStore
	messages store.MessageStore
	bus      eventbus.Bus
	gateway  *llm.Gateway

	build *model.Build
	mem   *memory.Project

	mu               sync.Mutex
	approvalCh       chan ApprovalDecision
	fileErrCh        chan FileErrorDecision
	pendingFileError string
	snap             *model.Snapshot

	cancelCh   chan struct{}
	cancelOnce sync.Once
}

// run executes body and settles the build into a terminal status.
func (r *Runner) run(ctx context.Context, body func(context.Context) error) {
	err := body(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrCancelled):
		r.finishCancelled()
	default:
		r.fail(err)
	}
}

// execute is the full pipeline for a fresh build: plan, gate on approval,
// build phases, summarize.
func (r *Runner) execute(ctx context.Context) error {
	outcome, err := r.planRequest(ctx, r.build.UserRequest)
	if err != nil {
		return err
	}

	for {
		switch outcome.Type {
		case plan.OutcomeConversation:
			return r.finishConversation(outcome.Reply)

		case plan.OutcomeQuickChange:
			return r.runAgentic(ctx, outcome.Description)

		case plan.OutcomeBuild:
			r.build.Plan = outcome.Plan
			r.build.Phases = model.PhaseStatesFromPlan(outcome.Plan)
			ch := r.armApproval()
			r.build.Status = model.StatusAwaitingApproval
			r.checkpoint()
			r.emit(model.EventPlanReady, outcome.Plan.PluginName, -1, "")

			d, err := r.awaitApproval(ctx, ch)
			if err != nil {
				return err
			}
			switch d.Action {
			case ApprovalCancel:
				return ErrCancelled
			case ApprovalEdit:
				outcome, err = r.planRequest(ctx, prompt.Revision(r.build.UserRequest, d.Instructions))
				if err != nil {
					return err
				}
				// Loop: a revised plan is gated again; a revision that
				// collapses to conversation or quick-change resolves
				// directly.
				continue
			case ApprovalApprove:
			default:
				return fmt.Errorf("unknown approval action %q", d.Action)
			}

			r.build.Status = model.StatusBuilding
			r.checkpoint()
			if err := r.runPhases(ctx); err != nil {
				return err
			}
			return r.finishBuild(ctx)

		default:
			return fmt.Errorf("unknown planning outcome %q", outcome.Type)
		}
	}
}

// resume re-enters the phase loop for a previously approved plan. Planning
// and approval are never repeated; complete phases and settled files are
// skipped by the loop itself.
func (r *Runner) resume(ctx context.Context) error {
	if err := r.runPhases(ctx); err != nil {
		return err
	}
	return r.finishBuild(ctx)
}

// planRequest runs the planning call and parses the outcome. Parse failures
// and empty plans are fatal to the build.
func (r *Runner) planRequest(ctx context.Context, request string) (*plan.Outcome, error) {
	r.build.Status = model.StatusPlanning
	r.build.ThinkingMessage = "Planning your plugin..."
	r.checkpoint()
	r.emit(model.EventPlanning, "", -1, "")

	res, err := r.gateway.Complete(ctx, prompt.PlannerSystem, prompt.Planning(request, r.build.Framework, r.mem.Paths()))
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	r.addUsage(res)
	if err := r.checkCancelled(ctx); err != nil {
		return nil, err
	}

	outcome, err := plan.ParseOutcome(res.Text)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	return outcome, nil
}

// finishConversation settles a conversational (non-build) outcome.
func (r *Runner) finishConversation(reply string) error {
	r.addMessage("assistant", reply)
	r.build.Summary = reply
	r.complete(reply)
	return nil
}

// finishBuild runs the summary stage and settles the build as complete. A
// summary failure aborts the run; the build stays resumable.
func (r *Runner) finishBuild(ctx context.Context) error {
	r.build.ThinkingMessage = "Writing the build summary..."
	r.checkpoint()
	r.emit(model.EventThinking, r.build.ThinkingMessage, -1, "")

	res, err := r.gateway.Complete(ctx, prompt.SummarizerSystem,
		prompt.Summary(r.build.UserRequest, r.build.Plan, r.mem.Paths()))
	if err != nil {
		return fmt.Errorf("summarizing: %w", err)
	}
	r.addUsage(res)
	if err := r.checkCancelled(ctx); err != nil {
		return err
	}

	r.addMessage("assistant", res.Text)
	r.build.Summary = res.Text
	r.complete(res.Text)
	return nil
}

// complete moves the build to its happy terminal state.
func (r *Runner) complete(summary string) {
	r.build.Status = model.StatusComplete
	r.build.ThinkingMessage = ""
	r.build.Error = ""
	r.checkpoint()
	r.emit(model.EventBuildComplete, model.Truncate(summary, 500), -1, "")
}

// fail settles the build in error with a sanitized message. The durable
// record keeps plan and phase progress, so the build can be resumed.
func (r *Runner) fail(err error) {
	msg := model.SanitizeError(err.Error())
	log.Printf("build %s failed: %v", r.build.ID, err)
	r.build.Status = model.StatusError
	r.build.Error = msg
	r.build.ThinkingMessage = ""
	r.checkpoint()
	r.emit(model.EventBuildError, msg, -1, "")
}

func (r *Runner) finishCancelled() {
	r.build.Status = model.StatusCancelled
	r.build.ThinkingMessage = ""
	r.checkpoint()
	r.emit(model.EventBuildCancelled, "", -1, "")
}

// checkpoint persists the build aggregate and refreshes the snapshot other
// goroutines read. Every state transition calls this before the matching
// event is emitted, so a restart never loses acknowledged work.
func (r *Runner) checkpoint() {
	r.build.UpdatedAt = time.Now()
	r.build.FileMemory = r.mem.Snapshot()
	if err := r.builds.UpdateBuild(r.build); err != nil {
		log.Printf("checkpointing build %s: %v", r.build.ID, err)
	}

	r.mu.Lock()
	r.snap = snapshotOf(r.build, r.pendingFileError)
	r.mu.Unlock()
}

// emit persists an event and publishes it to live subscribers, in that
// order. Store failures are logged, not fatal: the durable state already
// reflects the transition.
func (r *Runner) emit(t model.EventType, data string, phaseIdx int, filePath string) {
	e := &model.Event{
		BuildID:    r.build.ID,
		Type:       t,
		Data:       data,
		PhaseIndex: phaseIdx,
		FilePath:   filePath,
		CreatedAt:  time.Now(),
	}
	if err := r.builds.AddEvent(e); err != nil {
		log.Printf("persisting %s event for build %s: %v", t, r.build.ID, err)
	}
	r.bus.Publish(r.build.ID, e)
}

// Snapshot returns the state as of the last checkpoint. Safe to call from
// any goroutine.
func (r *Runner) Snapshot() *model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		return snapshotOf(r.build, r.pendingFileError)
	}
	s := *r.snap
	s.PendingFileError = r.pendingFileError
	return &s
}

func snapshotOf(b *model.Build, pendingFileError string) *model.Snapshot {
	phases := make([]model.PhaseState, len(b.Phases))
	for i, ph := range b.Phases {
		files := make([]model.FileState, len(ph.Files))
		copy(files, ph.Files)
		phases[i] = ph
		phases[i].Files = files
	}
	return &model.Snapshot{
		BuildID:          b.ID,
		Status:           b.Status,
		Plan:             b.Plan,
		Phases:           phases,
		PendingFileError: pendingFileError,
		Summary:          b.Summary,
		Error:            b.Error,
	}
}

// cloneBuild deep-copies the aggregate so a caller can keep reading it
// while the runner goroutine mutates its own copy.
func cloneBuild(b *model.Build) *model.Build {
	c := *b
	if b.Plan != nil {
		p := *b.Plan
		p.Phases = make([]model.Phase, len(b.Plan.Phases))
		for i, ph := range b.Plan.Phases {
			p.Phases[i] = ph
			p.Phases[i].Files = append([]model.PlannedFile(nil), ph.Files...)
		}
		c.Plan = &p
	}
	c.Phases = make([]model.PhaseState, len(b.Phases))
	for i, ph := range b.Phases {
		c.Phases[i] = ph
		c.Phases[i].Files = append([]model.FileState(nil), ph.Files...)
	}
	if b.FileMemory != nil {
		mem := make(map[string]string, len(b.FileMemory))
		for k, v := range b.FileMemory {
			mem[k] = v
		}
		c.FileMemory = mem
	}
	return &c
}

func (r *Runner) addUsage(res *llm.Result) {
	r.build.InputChars += int64(res.InputChars)
	r.build.OutputChars += int64(res.OutputChars)
}

func (r *Runner) addMessage(role, content string) {
	if err := r.messages.AddMessage(&model.Message{
		SessionID: r.build.SessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}); err != nil {
		log.Printf("persisting %s message for build %s: %v", role, r.build.ID, err)
	}
}
