package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/levelup/internal/checkpoint"
	"github.com/hochfrequenz/levelup/internal/config"
	"github.com/hochfrequenz/levelup/internal/detect"
	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/notify"
)

type mockRunStore struct {
	registerErr  error
	runs         map[string]*domain.Run
	pauseOnCall  int // 1-based PauseRequested call that reports a pause
	pauseCalls   int
	pauseCleared bool
}

func newMockRunStore() *mockRunStore {
	return &mockRunStore{runs: make(map[string]*domain.Run)}
}

func (m *mockRunStore) RegisterRun(run *domain.Run) error {
	if m.registerErr != nil {
		return m.registerErr
	}
	rec := *run
	m.runs[run.ID] = &rec
	return nil
}

func (m *mockRunStore) UpdateRun(run *domain.Run) error {
	rec := *run
	m.runs[run.ID] = &rec
	return nil
}

func (m *mockRunStore) GetRun(id string) (*domain.Run, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	rec := *run
	return &rec, nil
}

func (m *mockRunStore) PauseRequested(id string) (bool, error) {
	m.pauseCalls++
	return m.pauseCalls == m.pauseOnCall, nil
}

func (m *mockRunStore) ClearPause(id string) error {
	m.pauseCleared = true
	return nil
}

type commitCall struct {
	step    string
	revised bool
}

type mockWorkspace struct {
	createErr  error
	reattached bool
	commits    []commitCall
}

func (m *mockWorkspace) Create(pc *domain.PipelineContext) error {
	if m.createErr != nil {
		return m.createErr
	}
	pc.Branch = "levelup/" + pc.RunID
	pc.PreRunSHA = "f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0"
	return nil
}

func (m *mockWorkspace) Reattach(pc *domain.PipelineContext) error {
	m.reattached = true
	return nil
}

func (m *mockWorkspace) Commit(pc *domain.PipelineContext, step string, revised bool) (string, error) {
	m.commits = append(m.commits, commitCall{step: step, revised: revised})
	return fmt.Sprintf("%07d", len(m.commits)), nil
}

// scriptedRunner fails its first n calls, then applies mutate and succeeds.
// Task descriptions are recorded as seen at call time.
type scriptedRunner struct {
	calls        int
	failures     int
	err          error
	mutate       func(call int, pc *domain.PipelineContext)
	descriptions []string
}

func (r *scriptedRunner) Run(ctx context.Context, pc *domain.PipelineContext) error {
	r.calls++
	r.descriptions = append(r.descriptions, pc.Task.Description)
	if r.failures > 0 {
		r.failures--
		if r.err != nil {
			return r.err
		}
		return errors.New("agent exploded")
	}
	if r.mutate != nil {
		r.mutate(r.calls, pc)
	}
	return nil
}

type scriptedDecision struct {
	decision domain.Decision
	feedback string
	err      error
}

// mockDecider pops scripted decisions in order and approves once the
// script is exhausted.
type mockDecider struct {
	script   []scriptedDecision
	requests []checkpoint.Payload
	onCall   func(ctx context.Context)
}

func (m *mockDecider) RequestDecision(ctx context.Context, runID, taskTitle string, p checkpoint.Payload) (domain.Decision, string, error) {
	m.requests = append(m.requests, p)
	if m.onCall != nil {
		m.onCall(ctx)
	}
	if len(m.script) == 0 {
		return domain.DecisionApprove, "", nil
	}
	next := m.script[0]
	m.script = m.script[1:]
	if next.err != nil {
		return "", "", next.err
	}
	return next.decision, next.feedback, nil
}

type mockDetector struct{ info detect.Info }

func (m mockDetector) Detect(projectPath string) detect.Info { return m.info }

type mockNotifier struct{ sent []notify.Notification }

func (m *mockNotifier) Send(n notify.Notification) error {
	m.sent = append(m.sent, n)
	return nil
}

type engineHarness struct {
	store    *mockRunStore
	ws       *mockWorkspace
	runners  map[string]*scriptedRunner
	decider  *mockDecider
	notifier *mockNotifier
	engine   *Engine
	project  string
}

func newHarness(t *testing.T) *engineHarness {
	t.Helper()
	h := &engineHarness{
		store:    newMockRunStore(),
		ws:       &mockWorkspace{},
		decider:  &mockDecider{},
		notifier: &mockNotifier{},
		project:  t.TempDir(),
	}
	h.runners = map[string]*scriptedRunner{
		"requirements": {mutate: func(_ int, pc *domain.PipelineContext) {
			pc.Requirements = []string{"REQ-1: users can log in with email and password"}
		}},
		"planning": {mutate: func(_ int, pc *domain.PipelineContext) {
			pc.Plan = "1. Add login endpoint\n2. Hash passwords"
		}},
		"test_writer": {mutate: func(_ int, pc *domain.PipelineContext) {
			pc.TestFiles = []string{"tests/test_login.py"}
		}},
		"coder": {mutate: func(_ int, pc *domain.PipelineContext) {
			pc.CodeFiles = []string{"app/login.py"}
			pc.TestResults = &domain.TestResults{Passed: 3}
		}},
		"security": {},
		"reviewer": {},
	}
	h.rebuild(config.Default().Pipeline)
	return h
}

func (h *engineHarness) rebuild(cfg config.PipelineConfig) {
	runners := make(map[string]StepRunner, len(h.runners))
	for name, r := range h.runners {
		runners[name] = r
	}
	detector := mockDetector{info: detect.Info{
		Language:    "python",
		Framework:   "fastapi",
		TestRunner:  "pytest",
		TestCommand: "pytest",
	}}
	h.engine = New(h.store, h.ws, detector, runners, h.decider, h.notifier, cfg, zerolog.Nop())
}

func (h *engineHarness) run(t *testing.T) *domain.PipelineContext {
	t.Helper()
	pc, err := h.engine.Run(context.Background(), domain.ManualTask("Add user login", "Users need accounts"), h.project)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return pc
}

func (h *engineHarness) storedRun(t *testing.T, id string) *domain.Run {
	t.Helper()
	run, err := h.store.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return run
}

func TestEngineRunHappyPath(t *testing.T) {
	h := newHarness(t)
	pc := h.run(t)

	if pc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", pc.Status, pc.ErrorMessage)
	}
	if pc.CurrentStep != "" {
		t.Errorf("CurrentStep = %q, want empty after completion", pc.CurrentStep)
	}
	if pc.Language != "python" || pc.Framework != "fastapi" || pc.TestCommand != "pytest" {
		t.Errorf("detection not applied: %q/%q/%q", pc.Language, pc.Framework, pc.TestCommand)
	}

	for name, r := range h.runners {
		if r.calls != 1 {
			t.Errorf("agent %s called %d times, want 1", name, r.calls)
		}
	}

	wantCommits := []commitCall{
		{"detect", false},
		{"requirements", false},
		{"planning", false},
		{"test_writing", false},
		{"coding", false},
		{"security", false},
		{"review", false},
		{"documentation", false},
	}
	if len(h.ws.commits) != len(wantCommits) {
		t.Fatalf("commits = %v, want %v", h.ws.commits, wantCommits)
	}
	for i, want := range wantCommits {
		if h.ws.commits[i] != want {
			t.Errorf("commit[%d] = %v, want %v", i, h.ws.commits[i], want)
		}
	}

	wantCheckpoints := []string{"requirements", "test_writing", "security", "review"}
	if len(h.decider.requests) != len(wantCheckpoints) {
		t.Fatalf("checkpoints = %d, want %d", len(h.decider.requests), len(wantCheckpoints))
	}
	for i, step := range wantCheckpoints {
		if h.decider.requests[i].Step != step {
			t.Errorf("checkpoint[%d] step = %q, want %q", i, h.decider.requests[i].Step, step)
		}
	}

	rec := h.storedRun(t, pc.RunID)
	if rec.Status != domain.StatusCompleted {
		t.Errorf("stored status = %s, want completed", rec.Status)
	}
	if rec.PID != os.Getpid() {
		t.Errorf("stored PID = %d, want %d", rec.PID, os.Getpid())
	}
	if _, err := domain.RestoreContext(rec.ContextJSON); err != nil {
		t.Errorf("stored context not restorable: %v", err)
	}

	if _, err := os.Stat(filepath.Join(h.project, "levelup", "project_context.md")); err != nil {
		t.Errorf("project context note not seeded: %v", err)
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].Title != "Run completed" {
		t.Errorf("notifications = %+v, want one completion", h.notifier.sent)
	}
}

func TestEngineRunRegistrationFailure(t *testing.T) {
	h := newHarness(t)
	h.store.registerErr = errors.New("ticket 7 already has an active run")

	_, err := h.engine.Run(context.Background(), domain.ManualTask("Add login", ""), h.project)
	if err == nil {
		t.Fatal("expected registration error")
	}
	if len(h.ws.commits) != 0 {
		t.Errorf("commits = %v, want none", h.ws.commits)
	}
	if len(h.notifier.sent) != 0 {
		t.Errorf("notifications = %v, want none", h.notifier.sent)
	}
}

func TestEngineWorkspaceCreateFailure(t *testing.T) {
	h := newHarness(t)
	h.ws.createErr = errors.New("branch levelup/run already exists")

	pc := h.run(t)
	if pc.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", pc.Status)
	}
	if !strings.Contains(pc.ErrorMessage, "create workspace") {
		t.Errorf("error = %q, want workspace failure", pc.ErrorMessage)
	}
	if h.runners["requirements"].calls != 0 {
		t.Error("agents ran despite workspace failure")
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].Title != "Run failed" {
		t.Errorf("notifications = %+v, want one failure", h.notifier.sent)
	}
}

func TestEngineAgentRetryThenSuccess(t *testing.T) {
	h := newHarness(t)
	coder := h.runners["coder"]
	coder.failures = 2
	coder.mutate = func(_ int, pc *domain.PipelineContext) {
		pc.TestResults = &domain.TestResults{Passed: 1}
	}

	pc := h.run(t)
	if pc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", pc.Status, pc.ErrorMessage)
	}
	if coder.calls != 3 {
		t.Errorf("coder called %d times, want 3 (two failures then success)", coder.calls)
	}
}

func TestEngineAgentRetriesExhausted(t *testing.T) {
	h := newHarness(t)
	coder := h.runners["coder"]
	coder.failures = 3
	coder.err = errors.New("session crashed")

	pc := h.run(t)
	if pc.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", pc.Status)
	}
	if coder.calls != 3 {
		t.Errorf("coder called %d times, want 3 attempts", coder.calls)
	}
	if !strings.Contains(pc.ErrorMessage, "agent coder failed") || !strings.Contains(pc.ErrorMessage, "session crashed") {
		t.Errorf("error = %q, want coder failure with cause", pc.ErrorMessage)
	}
	if h.runners["security"].calls != 0 {
		t.Error("security ran after coding failed")
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].Title != "Run failed" {
		t.Errorf("notifications = %+v, want one failure", h.notifier.sent)
	}
}

func TestEngineAgentMissingExecutableNotRetried(t *testing.T) {
	h := newHarness(t)
	reqs := h.runners["requirements"]
	reqs.failures = 5
	reqs.err = fmt.Errorf("%q not found (%w); install Claude Code", "claude", exec.ErrNotFound)

	pc := h.run(t)
	if pc.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", pc.Status)
	}
	if reqs.calls != 1 {
		t.Errorf("requirements called %d times, want 1 (no retry on missing executable)", reqs.calls)
	}
}

func TestEngineReviseRerunsAgentAndRepresents(t *testing.T) {
	h := newHarness(t)
	h.decider.script = []scriptedDecision{
		{decision: domain.DecisionApprove},
		{decision: domain.DecisionRevise, feedback: "use table-driven tests"},
	}

	pc := h.run(t)
	if pc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", pc.Status, pc.ErrorMessage)
	}

	tw := h.runners["test_writer"]
	if tw.calls != 2 {
		t.Fatalf("test_writer called %d times, want 2", tw.calls)
	}
	if strings.Contains(tw.descriptions[0], "USER REVISION FEEDBACK") {
		t.Error("feedback injected on first attempt")
	}
	if !strings.Contains(tw.descriptions[1], "USER REVISION FEEDBACK: use table-driven tests") {
		t.Errorf("revision description = %q, want injected feedback", tw.descriptions[1])
	}
	if pc.Task.Description != "Users need accounts" {
		t.Errorf("task description = %q, want original restored", pc.Task.Description)
	}

	var steps []string
	for _, p := range h.decider.requests {
		steps = append(steps, p.Step)
	}
	want := []string{"requirements", "test_writing", "test_writing", "security", "review"}
	if strings.Join(steps, ",") != strings.Join(want, ",") {
		t.Errorf("checkpoint steps = %v, want %v (revision re-presented)", steps, want)
	}

	revised := false
	for _, c := range h.ws.commits {
		if c.step == "test_writing" && c.revised {
			revised = true
		}
	}
	if !revised {
		t.Error("no revised test_writing commit recorded")
	}
}

func TestEngineRevisionLimitFailsRun(t *testing.T) {
	h := newHarness(t)
	cfg := config.Default().Pipeline
	cfg.MaxRevisionCycles = 2
	h.rebuild(cfg)
	h.decider.script = []scriptedDecision{
		{decision: domain.DecisionRevise, feedback: "more detail"},
		{decision: domain.DecisionRevise, feedback: "still more"},
		{decision: domain.DecisionRevise, feedback: "again"},
	}

	pc := h.run(t)
	if pc.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", pc.Status)
	}
	if !strings.Contains(pc.ErrorMessage, "revision limit (2) reached") {
		t.Errorf("error = %q, want revision limit", pc.ErrorMessage)
	}
	if h.runners["requirements"].calls != 3 {
		t.Errorf("requirements called %d times, want 3 (initial + two revisions)", h.runners["requirements"].calls)
	}
	if h.runners["planning"].calls != 0 {
		t.Error("planning ran after revision limit")
	}
}

func TestEngineReviewReviseRunsCoder(t *testing.T) {
	h := newHarness(t)
	h.decider.script = []scriptedDecision{
		{decision: domain.DecisionApprove},
		{decision: domain.DecisionApprove},
		{decision: domain.DecisionApprove},
		{decision: domain.DecisionRevise, feedback: "rename ambiguous variable"},
	}

	pc := h.run(t)
	if pc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", pc.Status, pc.ErrorMessage)
	}
	coder := h.runners["coder"]
	if coder.calls != 2 {
		t.Fatalf("coder called %d times, want 2 (review revision goes to coder)", coder.calls)
	}
	if !strings.Contains(coder.descriptions[1], "USER REVISION FEEDBACK: rename ambiguous variable") {
		t.Errorf("revision description = %q, want injected feedback", coder.descriptions[1])
	}
	if h.runners["reviewer"].calls != 1 {
		t.Errorf("reviewer called %d times, want 1", h.runners["reviewer"].calls)
	}

	revised := false
	for _, c := range h.ws.commits {
		if c.step == "review" && c.revised {
			revised = true
		}
	}
	if !revised {
		t.Error("no revised review commit recorded")
	}
}

func TestEngineRejectAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.decider.script = []scriptedDecision{{decision: domain.DecisionReject}}

	pc := h.run(t)
	if pc.Status != domain.StatusAborted {
		t.Fatalf("status = %s, want aborted", pc.Status)
	}
	if h.runners["planning"].calls != 0 {
		t.Error("planning ran after rejection")
	}
	if len(h.notifier.sent) != 0 {
		t.Errorf("notifications = %v, want none for an abort", h.notifier.sent)
	}
	if rec := h.storedRun(t, pc.RunID); rec.Status != domain.StatusAborted {
		t.Errorf("stored status = %s, want aborted", rec.Status)
	}
}

func TestEngineSecurityReworkCycle(t *testing.T) {
	h := newHarness(t)
	sec := h.runners["security"]
	sec.mutate = func(call int, pc *domain.PipelineContext) {
		if call == 1 {
			pc.SecurityFindings = []domain.Finding{{Severity: "major", Description: "SQL injection in login form"}}
			pc.RequiresCodingRework = true
			pc.SecurityFeedback = "SQL injection in login form"
		}
	}

	pc := h.run(t)
	if pc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", pc.Status, pc.ErrorMessage)
	}

	coder := h.runners["coder"]
	if coder.calls != 2 {
		t.Fatalf("coder called %d times, want 2 (rework cycle)", coder.calls)
	}
	if !strings.Contains(coder.descriptions[1], "[SECURITY REVIEW FEEDBACK]\nSQL injection in login form") {
		t.Errorf("rework description = %q, want injected security feedback", coder.descriptions[1])
	}
	if pc.Task.Description != "Users need accounts" {
		t.Errorf("task description = %q, want original restored", pc.Task.Description)
	}
	if sec.calls != 2 {
		t.Errorf("security called %d times, want 2 (re-scan after rework)", sec.calls)
	}

	wantCommits := []commitCall{
		{"detect", false},
		{"requirements", false},
		{"planning", false},
		{"test_writing", false},
		{"coding", false},
		{"coding", true},
		{"security", true},
		{"security", false},
		{"review", false},
		{"documentation", false},
	}
	if len(h.ws.commits) != len(wantCommits) {
		t.Fatalf("commits = %v, want %v", h.ws.commits, wantCommits)
	}
	for i, want := range wantCommits {
		if h.ws.commits[i] != want {
			t.Errorf("commit[%d] = %v, want %v", i, h.ws.commits[i], want)
		}
	}
}

func TestEngineSecurityReworkBoundDefersToCheckpoint(t *testing.T) {
	h := newHarness(t)
	sec := h.runners["security"]
	sec.mutate = func(_ int, pc *domain.PipelineContext) {
		pc.RequiresCodingRework = true
		pc.SecurityFeedback = "hardcoded credentials"
	}

	pc := h.run(t)
	if pc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", pc.Status, pc.ErrorMessage)
	}
	if sec.calls != 2 {
		t.Errorf("security called %d times, want 2 (one rework cycle)", sec.calls)
	}
	if h.runners["coder"].calls != 2 {
		t.Errorf("coder called %d times, want 2", h.runners["coder"].calls)
	}
	if pc.RequiresCodingRework {
		t.Error("rework flag still set after deferring to checkpoint")
	}
}

func TestEnginePauseBetweenSteps(t *testing.T) {
	h := newHarness(t)
	h.store.pauseOnCall = 3 // detect and requirements run, pause before planning

	pc := h.run(t)
	if pc.Status != domain.StatusPaused {
		t.Fatalf("status = %s, want paused", pc.Status)
	}
	if pc.CurrentStep != "planning" {
		t.Errorf("CurrentStep = %q, want planning (next unexecuted step)", pc.CurrentStep)
	}
	if h.runners["requirements"].calls != 1 {
		t.Errorf("requirements called %d times, want 1", h.runners["requirements"].calls)
	}
	if h.runners["planning"].calls != 0 {
		t.Error("planning ran despite pause")
	}
	if !h.store.pauseCleared {
		t.Error("pause flag not cleared")
	}
	if len(h.notifier.sent) != 0 {
		t.Errorf("notifications = %v, want none for a pause", h.notifier.sent)
	}

	rec := h.storedRun(t, pc.RunID)
	if rec.Status != domain.StatusPaused || rec.CurrentStep != "planning" {
		t.Errorf("stored run = %s at %q, want paused at planning", rec.Status, rec.CurrentStep)
	}
}

func storeInterruptedRun(t *testing.T, h *engineHarness, status domain.RunStatus, currentStep string) string {
	t.Helper()
	pc := domain.NewContext(domain.ManualTask("Add user login", "Users need accounts"), h.project)
	pc.Language = "python"
	pc.TestCommand = "pytest"
	pc.Status = status
	pc.CurrentStep = currentStep
	snapshot, err := pc.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	h.store.runs[pc.RunID] = &domain.Run{
		ID:          pc.RunID,
		TaskTitle:   pc.Task.Title,
		ProjectPath: h.project,
		Status:      status,
		CurrentStep: currentStep,
		ContextJSON: snapshot,
	}
	return pc.RunID
}

func TestEngineResumeFromPausedStep(t *testing.T) {
	h := newHarness(t)
	id := storeInterruptedRun(t, h, domain.StatusPaused, "planning")

	pc, err := h.engine.Resume(context.Background(), id, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if pc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", pc.Status, pc.ErrorMessage)
	}
	if !h.ws.reattached {
		t.Error("workspace not reattached")
	}
	if h.runners["requirements"].calls != 0 {
		t.Error("requirements re-ran on resume")
	}
	for _, name := range []string{"planning", "test_writer", "coder", "security", "reviewer"} {
		if h.runners[name].calls != 1 {
			t.Errorf("agent %s called %d times, want 1", name, h.runners[name].calls)
		}
	}
}

func TestEngineResumeFromStepOverride(t *testing.T) {
	h := newHarness(t)
	id := storeInterruptedRun(t, h, domain.StatusFailed, "security")

	pc, err := h.engine.Resume(context.Background(), id, "coding")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if pc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", pc.Status, pc.ErrorMessage)
	}
	if h.runners["test_writer"].calls != 0 {
		t.Error("test_writer re-ran despite --from-step coding")
	}
	if h.runners["coder"].calls != 1 || h.runners["security"].calls != 1 || h.runners["reviewer"].calls != 1 {
		t.Errorf("calls coder=%d security=%d reviewer=%d, want 1 each",
			h.runners["coder"].calls, h.runners["security"].calls, h.runners["reviewer"].calls)
	}
}

func TestEngineResumeRejectsActiveRun(t *testing.T) {
	h := newHarness(t)
	h.store.runs["run-1"] = &domain.Run{ID: "run-1", Status: domain.StatusRunning}

	_, err := h.engine.Resume(context.Background(), "run-1", "")
	if err == nil || !strings.Contains(err.Error(), "only paused, failed or aborted") {
		t.Fatalf("err = %v, want resumable-status error", err)
	}
}

func TestEngineResumeWithoutContext(t *testing.T) {
	h := newHarness(t)
	h.store.runs["run-1"] = &domain.Run{ID: "run-1", Status: domain.StatusFailed}

	_, err := h.engine.Resume(context.Background(), "run-1", "")
	if err == nil || !strings.Contains(err.Error(), "no resumable context") {
		t.Fatalf("err = %v, want missing-context error", err)
	}
}

func TestEngineResumeUnknownStep(t *testing.T) {
	h := newHarness(t)
	id := storeInterruptedRun(t, h, domain.StatusPaused, "planning")

	_, err := h.engine.Resume(context.Background(), id, "deploy")
	if err == nil || !strings.Contains(err.Error(), `unknown step "deploy"`) {
		t.Fatalf("err = %v, want unknown-step error", err)
	}
}

func TestEngineCheckpointInterruptedByCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.decider.onCall = func(context.Context) { cancel() }
	h.decider.script = []scriptedDecision{{err: context.Canceled}}

	pc, err := h.engine.Run(ctx, domain.ManualTask("Add login", ""), h.project)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Status != domain.StatusAborted {
		t.Fatalf("status = %s, want aborted", pc.Status)
	}
	if !strings.Contains(pc.ErrorMessage, "interrupted while waiting") {
		t.Errorf("error = %q, want interruption message", pc.ErrorMessage)
	}
}

func TestEngineCheckpointsDisabled(t *testing.T) {
	h := newHarness(t)
	cfg := config.Default().Pipeline
	cfg.RequireCheckpoints = false
	h.rebuild(cfg)

	pc := h.run(t)
	if pc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", pc.Status, pc.ErrorMessage)
	}
	if len(h.decider.requests) != 0 {
		t.Errorf("checkpoints requested = %d, want 0", len(h.decider.requests))
	}
}

func TestEngineBranchCreationDisabled(t *testing.T) {
	h := newHarness(t)
	cfg := config.Default().Pipeline
	cfg.CreateGitBranch = false
	h.rebuild(cfg)

	pc := h.run(t)
	if pc.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", pc.Status, pc.ErrorMessage)
	}
	if pc.Branch != "" {
		t.Errorf("Branch = %q, want empty when branch creation is off", pc.Branch)
	}
}
