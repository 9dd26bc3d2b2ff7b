// Package pipeline drives the checkpointed TDD run: it executes the ordered
// steps, applies human checkpoint decisions, manages the per-run workspace
// and journal, and keeps the durable run record current after every step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/levelup/internal/checkpoint"
	"github.com/hochfrequenz/levelup/internal/config"
	"github.com/hochfrequenz/levelup/internal/detect"
	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/journal"
	"github.com/hochfrequenz/levelup/internal/notify"
)

// Store is the slice of the run store the engine needs.
type Store interface {
	RegisterRun(run *domain.Run) error
	UpdateRun(run *domain.Run) error
	GetRun(id string) (*domain.Run, error)
	PauseRequested(id string) (bool, error)
	ClearPause(id string) error
}

// Workspace isolates a run's file writes on its own branch and worktree.
type Workspace interface {
	Create(pc *domain.PipelineContext) error
	Reattach(pc *domain.PipelineContext) error
	Commit(pc *domain.PipelineContext, step string, revised bool) (string, error)
}

// StepRunner executes one agent-backed step against the run context.
type StepRunner interface {
	Run(ctx context.Context, pc *domain.PipelineContext) error
}

// Engine is the pipeline state machine.
type Engine struct {
	store    Store
	ws       Workspace
	detector detect.Detector
	runners  map[string]StepRunner
	decider  checkpoint.Coordinator
	notifier notify.Notifier
	cfg      config.PipelineConfig
	log      zerolog.Logger
}

func New(
	store Store,
	ws Workspace,
	detector detect.Detector,
	runners map[string]StepRunner,
	decider checkpoint.Coordinator,
	notifier notify.Notifier,
	cfg config.PipelineConfig,
	log zerolog.Logger,
) *Engine {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Engine{
		store:    store,
		ws:       ws,
		detector: detector,
		runners:  runners,
		decider:  decider,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// Run executes the full pipeline for a new task. The returned context holds
// the terminal status; an error is returned only when the run could not be
// registered, in which case nothing durable exists.
func (e *Engine) Run(ctx context.Context, task domain.TaskInput, projectPath string) (*domain.PipelineContext, error) {
	if abs, err := filepath.Abs(projectPath); err == nil {
		projectPath = abs
	}

	pc := domain.NewContext(task, projectPath)
	pc.BranchPattern = e.cfg.BranchPattern
	pc.Status = domain.StatusRunning

	if err := e.store.RegisterRun(e.runRecord(pc)); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("run_id", pc.RunID).
		Str("task", task.Title).
		Str("project", projectPath).
		Msg("run started")

	if e.cfg.CreateGitBranch {
		if err := e.ws.Create(pc); err != nil {
			e.fail(pc, fmt.Errorf("create workspace: %w", err))
			e.persist(pc)
			e.notifyOutcome(pc)
			return pc, nil
		}
	}

	jrn := journal.New(pc, e.log)
	jrn.WriteHeader(pc)

	e.executeSteps(ctx, pc, DefaultPipeline(), jrn)
	e.finish(pc, jrn)
	return pc, nil
}

// Resume continues a paused, failed, or aborted run from its persisted
// context snapshot. fromStep overrides the stored step, allowing a rewind.
func (e *Engine) Resume(ctx context.Context, runID, fromStep string) (*domain.PipelineContext, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case domain.StatusPaused, domain.StatusFailed, domain.StatusAborted:
	default:
		return nil, fmt.Errorf("run %s is %s; only paused, failed or aborted runs can be resumed", runID, run.Status)
	}

	pc, err := domain.RestoreContext(run.ContextJSON)
	if err != nil {
		return nil, fmt.Errorf("run %s has no resumable context: %w", runID, err)
	}

	steps := DefaultPipeline()
	target := fromStep
	if target == "" {
		target = pc.CurrentStep
	}
	if target == "" {
		return nil, fmt.Errorf("run %s has no step to resume from; pass --from-step", runID)
	}
	idx := stepIndex(steps, target)
	if idx == -1 {
		return nil, fmt.Errorf("unknown step %q (valid steps: %s)", target, strings.Join(StepNames(steps), ", "))
	}

	if err := e.ws.Reattach(pc); err != nil {
		return nil, fmt.Errorf("reattach workspace: %w", err)
	}

	pc.Status = domain.StatusRunning
	pc.ErrorMessage = ""
	pc.CurrentStep = target
	if err := e.store.RegisterRun(e.runRecord(pc)); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("run_id", pc.RunID).
		Str("from_step", target).
		Msg("run resumed")

	jrn := journal.New(pc, e.log)
	jrn.Resumed(target)

	e.executeSteps(ctx, pc, steps[idx:], jrn)
	e.finish(pc, jrn)
	return pc, nil
}

func (e *Engine) executeSteps(ctx context.Context, pc *domain.PipelineContext, steps []Step, jrn *journal.Journal) {
	for _, step := range steps {
		pc.CurrentStep = step.Name

		if e.pauseRequested(pc) {
			pc.Status = domain.StatusPaused
			e.persist(pc)
			e.log.Info().
				Str("run_id", pc.RunID).
				Str("next_step", step.Name).
				Msg("run paused")
			return
		}
		e.persist(pc)

		e.log.Info().
			Str("run_id", pc.RunID).
			Str("step", step.Name).
			Msg(step.Description)
		jrn.StepStarted(step.Name)

		switch step.Kind {
		case domain.StepDetection:
			e.runDetection(pc)
		case domain.StepAgent:
			if err := e.runAgent(ctx, pc, step.AgentName); err != nil {
				e.fail(pc, fmt.Errorf("agent %s failed: %w", step.AgentName, err))
				return
			}
			if step.Name == domain.StepNameSecurity && pc.RequiresCodingRework {
				if !e.securityRework(ctx, pc, jrn) {
					return
				}
			}
		}

		jrn.StepCompleted(step.Name, pc)
		e.commitStep(pc, step.Name, false, jrn)
		e.persist(pc)

		if step.CheckpointAfter && e.cfg.RequireCheckpoints {
			if !e.runCheckpoint(ctx, pc, step, jrn) {
				return
			}
		}
	}
}

// finish settles the terminal status, writes the outcome, and notifies.
// A paused run is not terminal: its state was persisted at the pause point.
func (e *Engine) finish(pc *domain.PipelineContext, jrn *journal.Journal) {
	if pc.Status == domain.StatusPaused {
		return
	}
	if pc.Status == domain.StatusRunning {
		pc.Status = domain.StatusCompleted
		pc.CurrentStep = ""
	}

	jrn.Outcome(pc)
	if pc.Status == domain.StatusCompleted {
		if _, err := e.ws.Commit(pc, "documentation", false); err != nil {
			e.log.Warn().Err(err).Str("run_id", pc.RunID).Msg("journal commit failed")
		}
	}

	e.persist(pc)
	e.notifyOutcome(pc)

	e.log.Info().
		Str("run_id", pc.RunID).
		Str("status", string(pc.Status)).
		Float64("cost_usd", pc.TotalUsage.CostUSD).
		Msg("run finished")
}

func (e *Engine) runDetection(pc *domain.PipelineContext) {
	root := pc.EffectivePath()
	info := e.detector.Detect(root)
	pc.Language = info.Language
	pc.Framework = info.Framework
	pc.TestRunner = info.TestRunner
	pc.TestCommand = info.TestCommand

	if err := detect.SeedNote(root, info); err != nil {
		e.log.Warn().Err(err).Str("run_id", pc.RunID).Msg("project context note not written")
	}

	e.log.Info().
		Str("run_id", pc.RunID).
		Str("language", info.Language).
		Str("framework", info.Framework).
		Str("test_runner", info.TestRunner).
		Msg("project detected")
}

// runAgent invokes the named runner, retrying transient failures up to the
// configured bound. Cancellation and a missing claude executable are not
// retried: another attempt cannot change either.
func (e *Engine) runAgent(ctx context.Context, pc *domain.PipelineContext, agentName string) error {
	runner, ok := e.runners[agentName]
	if !ok {
		return fmt.Errorf("no runner registered for agent %q", agentName)
	}

	retries := e.cfg.MaxAgentRetries
	if retries < 0 {
		retries = 0
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = runner.Run(ctx, pc)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, exec.ErrNotFound) {
			return err
		}
		if attempt < retries {
			e.log.Warn().
				Str("run_id", pc.RunID).
				Str("agent", agentName).
				Int("attempt", attempt+1).
				Int("max_attempts", retries+1).
				Err(err).
				Msg("agent attempt failed, retrying")
		}
	}
	return err
}

// runAgentWithFeedback re-invokes an agent with revision feedback appended
// to the task description for the duration of the re-run.
func (e *Engine) runAgentWithFeedback(ctx context.Context, pc *domain.PipelineContext, agentName, feedback string) error {
	original := pc.Task.Description
	pc.Task.Description = fmt.Sprintf("%s\n\nUSER REVISION FEEDBACK: %s", original, feedback)
	err := e.runAgent(ctx, pc, agentName)
	pc.Task.Description = original
	return err
}

// securityRework re-runs the coder with the security feedback and then the
// security scan again, up to the configured number of cycles. Reports false
// when the run failed. Findings that survive the bound are deferred to the
// security checkpoint.
func (e *Engine) securityRework(ctx context.Context, pc *domain.PipelineContext, jrn *journal.Journal) bool {
	for cycle := 0; cycle < e.cfg.MaxSecurityReworkCycles && pc.RequiresCodingRework; cycle++ {
		e.log.Info().
			Str("run_id", pc.RunID).
			Int("cycle", cycle+1).
			Msg("security found major issues, re-running coder")

		original := pc.Task.Description
		pc.Task.Description = fmt.Sprintf("%s\n\n[SECURITY REVIEW FEEDBACK]\n%s", original, pc.SecurityFeedback)
		err := e.runAgent(ctx, pc, "coder")
		pc.Task.Description = original
		if err != nil {
			e.fail(pc, fmt.Errorf("agent coder failed: %w", err))
			return false
		}
		e.commitStep(pc, domain.StepNameCoding, true, jrn)

		pc.RequiresCodingRework = false
		pc.SecurityFeedback = ""
		if err := e.runAgent(ctx, pc, "security"); err != nil {
			e.fail(pc, fmt.Errorf("agent security failed: %w", err))
			return false
		}
		e.commitStep(pc, domain.StepNameSecurity, true, jrn)
		e.persist(pc)
	}

	if pc.RequiresCodingRework {
		e.log.Warn().
			Str("run_id", pc.RunID).
			Msg("security issues remain after rework, deferring to checkpoint")
		pc.RequiresCodingRework = false
	}
	return true
}

// runCheckpoint presents the step's payload until it is approved or the run
// stops. Each revise decision re-invokes the producing agent and presents
// the checkpoint again; the cycle count is bounded. Reports false when the
// pipeline must stop.
func (e *Engine) runCheckpoint(ctx context.Context, pc *domain.PipelineContext, step Step, jrn *journal.Journal) bool {
	revisions := 0
	for {
		payload := checkpoint.BuildPayload(step.Name, pc)
		jrn.CheckpointRequested(step.Name)

		decision, feedback, err := e.decider.RequestDecision(ctx, pc.RunID, pc.Task.Title, payload)
		if err != nil {
			if ctx.Err() != nil {
				pc.Status = domain.StatusAborted
				pc.ErrorMessage = "interrupted while waiting for checkpoint decision"
			} else {
				e.fail(pc, fmt.Errorf("checkpoint %s: %w", step.Name, err))
			}
			return false
		}
		jrn.CheckpointDecided(step.Name, decision, feedback)

		switch decision {
		case domain.DecisionApprove:
			e.log.Info().
				Str("run_id", pc.RunID).
				Str("step", step.Name).
				Msg("checkpoint approved")
			return true

		case domain.DecisionReject:
			e.log.Info().
				Str("run_id", pc.RunID).
				Str("step", step.Name).
				Msg("checkpoint rejected, aborting run")
			pc.Status = domain.StatusAborted
			e.persist(pc)
			return false

		case domain.DecisionRevise:
			revisions++
			if revisions > e.maxRevisions() {
				e.fail(pc, fmt.Errorf("step %s: revision limit (%d) reached", step.Name, e.maxRevisions()))
				return false
			}
			e.log.Info().
				Str("run_id", pc.RunID).
				Str("step", step.Name).
				Str("agent", reviseAgent(step)).
				Int("revision", revisions).
				Msg("revising with feedback")
			if err := e.runAgentWithFeedback(ctx, pc, reviseAgent(step), feedback); err != nil {
				e.fail(pc, fmt.Errorf("agent %s failed: %w", reviseAgent(step), err))
				return false
			}
			e.commitStep(pc, step.Name, true, jrn)
			e.persist(pc)

		default:
			e.fail(pc, fmt.Errorf("checkpoint %s: unknown decision %q", step.Name, decision))
			return false
		}
	}
}

func (e *Engine) maxRevisions() int {
	if e.cfg.MaxRevisionCycles <= 0 {
		return 3
	}
	return e.cfg.MaxRevisionCycles
}

func (e *Engine) commitStep(pc *domain.PipelineContext, step string, revised bool, jrn *journal.Journal) {
	sha, err := e.ws.Commit(pc, step, revised)
	if err != nil {
		e.log.Warn().
			Str("run_id", pc.RunID).
			Str("step", step).
			Err(err).
			Msg("step commit failed")
		return
	}
	if sha != "" {
		jrn.CommitCreated(step, sha)
	}
}

func (e *Engine) pauseRequested(pc *domain.PipelineContext) bool {
	paused, err := e.store.PauseRequested(pc.RunID)
	if err != nil {
		e.log.Warn().Err(err).Str("run_id", pc.RunID).Msg("pause flag check failed")
		return false
	}
	if !paused {
		return false
	}
	if err := e.store.ClearPause(pc.RunID); err != nil {
		e.log.Warn().Err(err).Str("run_id", pc.RunID).Msg("pause flag clear failed")
	}
	return true
}

func (e *Engine) fail(pc *domain.PipelineContext, err error) {
	pc.Status = domain.StatusFailed
	pc.ErrorMessage = err.Error()
	e.log.Error().
		Str("run_id", pc.RunID).
		Str("step", pc.CurrentStep).
		Err(err).
		Msg("pipeline failed")
}

func (e *Engine) persist(pc *domain.PipelineContext) {
	if err := e.store.UpdateRun(e.runRecord(pc)); err != nil {
		e.log.Warn().Err(err).Str("run_id", pc.RunID).Msg("run state not persisted")
	}
}

func (e *Engine) notifyOutcome(pc *domain.PipelineContext) {
	var n notify.Notification
	switch pc.Status {
	case domain.StatusCompleted:
		n = notify.RunCompleted(pc.RunID, pc.Task.Title, pc.TotalUsage.CostUSD)
	case domain.StatusFailed:
		n = notify.RunFailed(pc.RunID, pc.Task.Title, pc.ErrorMessage)
	default:
		return
	}
	if err := e.notifier.Send(n); err != nil {
		e.log.Warn().Err(err).Str("run_id", pc.RunID).Msg("notification not sent")
	}
}

func (e *Engine) runRecord(pc *domain.PipelineContext) *domain.Run {
	snapshot, err := pc.Snapshot()
	if err != nil {
		e.log.Warn().Err(err).Str("run_id", pc.RunID).Msg("context snapshot failed")
	}

	run := &domain.Run{
		ID:              pc.RunID,
		TaskTitle:       pc.Task.Title,
		TaskDescription: pc.Task.Description,
		Source:          pc.Task.Source,
		SourceID:        pc.Task.SourceID,
		ProjectPath:     pc.ProjectPath,
		Language:        pc.Language,
		Framework:       pc.Framework,
		TestCommand:     pc.TestCommand,
		Status:          pc.Status,
		CurrentStep:     pc.CurrentStep,
		ErrorMessage:    pc.ErrorMessage,
		PID:             os.Getpid(),
		ContextJSON:     snapshot,
		BranchPattern:   pc.BranchPattern,
		TotalCostUSD:    pc.TotalUsage.CostUSD,
		InputTokens:     pc.TotalUsage.InputTokens,
		OutputTokens:    pc.TotalUsage.OutputTokens,
		StartedAt:       pc.StartedAt,
	}
	if n, ok := pc.Task.TicketNumber(); ok {
		run.TicketNumber = &n
	}
	return run
}
