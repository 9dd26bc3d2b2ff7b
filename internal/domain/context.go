package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRunID returns a fresh 12-character run identifier
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Usage captures the metrics of one agent invocation
type Usage struct {
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	DurationMS   int64   `json:"duration_ms"`
	NumTurns     int     `json:"num_turns"`
}

// Add folds another usage record into this one
func (u *Usage) Add(other Usage) {
	u.CostUSD += other.CostUSD
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.DurationMS += other.DurationMS
	u.NumTurns += other.NumTurns
}

// TestResults summarizes a test-suite execution reported by an agent
type TestResults struct {
	Passed int    `json:"passed"`
	Failed int    `json:"failed"`
	Output string `json:"output,omitempty"`
}

// Finding is a single review or security observation
type Finding struct {
	Severity       string `json:"severity"`
	Category       string `json:"category,omitempty"`
	Description    string `json:"description"`
	File           string `json:"file,omitempty"`
	Line           int    `json:"line,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// PipelineContext is the single mutable value threaded through every step of
// one run. It is owned exclusively by its run, never shared, and persisted as
// a JSON snapshot in the run record so an interrupted run can be resumed.
type PipelineContext struct {
	RunID       string    `json:"run_id"`
	Task        TaskInput `json:"task"`
	ProjectPath string    `json:"project_path"`

	Language    string `json:"language,omitempty"`
	Framework   string `json:"framework,omitempty"`
	TestRunner  string `json:"test_runner,omitempty"`
	TestCommand string `json:"test_command,omitempty"`

	BranchPattern string `json:"branch_pattern,omitempty"`

	Requirements   []string     `json:"requirements,omitempty"`
	Plan           string       `json:"plan,omitempty"`
	TestFiles      []string     `json:"test_files,omitempty"`
	CodeFiles      []string     `json:"code_files,omitempty"`
	TestResults    *TestResults `json:"test_results,omitempty"`
	ReviewFindings []Finding    `json:"review_findings,omitempty"`

	SecurityFindings       []Finding `json:"security_findings,omitempty"`
	SecurityPatchesApplied int       `json:"security_patches_applied,omitempty"`
	RequiresCodingRework   bool      `json:"requires_coding_rework,omitempty"`
	SecurityFeedback       string    `json:"security_feedback,omitempty"`

	Status        RunStatus `json:"status"`
	CurrentStep   string    `json:"current_step,omitempty"`
	CodeIteration int       `json:"code_iteration,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`

	StepUsage  map[string]Usage `json:"step_usage,omitempty"`
	TotalUsage Usage            `json:"total_usage"`

	PreRunSHA    string            `json:"pre_run_sha,omitempty"`
	StepCommits  map[string]string `json:"step_commits,omitempty"`
	WorktreePath string            `json:"worktree_path,omitempty"`
	Branch       string            `json:"branch,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

// NewContext creates the context for a freshly registered run
func NewContext(task TaskInput, projectPath string) *PipelineContext {
	return &PipelineContext{
		RunID:       NewRunID(),
		Task:        task,
		ProjectPath: projectPath,
		Status:      StatusPending,
		StartedAt:   time.Now().UTC(),
	}
}

// EffectivePath returns the isolated worktree when one exists, else the
// project root. All file-writing steps operate on this path.
func (pc *PipelineContext) EffectivePath() string {
	if pc.WorktreePath != "" {
		return pc.WorktreePath
	}
	return pc.ProjectPath
}

// RecordUsage stores a step's metrics and folds them into the totals.
// A step that runs more than once (revision, security rework) accumulates.
func (pc *PipelineContext) RecordUsage(step string, u Usage) {
	if pc.StepUsage == nil {
		pc.StepUsage = make(map[string]Usage)
	}
	prev := pc.StepUsage[step]
	prev.Add(u)
	pc.StepUsage[step] = prev
	pc.TotalUsage.Add(u)
}

// RecordCommit remembers the commit created after a step
func (pc *PipelineContext) RecordCommit(step, sha string) {
	if pc.StepCommits == nil {
		pc.StepCommits = make(map[string]string)
	}
	pc.StepCommits[step] = sha
}

// Snapshot serializes the context for durable storage
func (pc *PipelineContext) Snapshot() (string, error) {
	data, err := json.Marshal(pc)
	if err != nil {
		return "", fmt.Errorf("snapshot context: %w", err)
	}
	return string(data), nil
}

// RestoreContext rebuilds a context from a stored snapshot
func RestoreContext(snapshot string) (*PipelineContext, error) {
	if strings.TrimSpace(snapshot) == "" {
		return nil, fmt.Errorf("empty context snapshot")
	}
	var pc PipelineContext
	if err := json.Unmarshal([]byte(snapshot), &pc); err != nil {
		return nil, fmt.Errorf("restore context: %w", err)
	}
	return &pc, nil
}
