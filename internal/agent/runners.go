package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/prompts"
)

const (
	maxCodeIterations = 5
	testRunTimeout    = 2 * time.Minute
	maxTestOutput     = 16 * 1024
)

// Runner executes one agent step, reading from and writing to the
// pipeline context. A returned error counts as an agent failure and is
// retried by the engine.
type Runner interface {
	Name() string
	Run(ctx context.Context, pc *domain.PipelineContext) error
}

// NewRunners builds the full set of step runners keyed by agent name.
func NewRunners(backend Backend, loader *prompts.Loader, model string, log zerolog.Logger) map[string]Runner {
	b := base{backend: backend, prompts: loader, model: model, log: log}
	all := []Runner{
		&RequirementsRunner{b},
		&PlanningRunner{b},
		&TestWriterRunner{b},
		&CoderRunner{b},
		&SecurityRunner{b},
		&ReviewerRunner{b},
	}
	m := make(map[string]Runner, len(all))
	for _, r := range all {
		m[r.Name()] = r
	}
	return m
}

type base struct {
	backend Backend
	prompts *prompts.Loader
	model   string
	log     zerolog.Logger
}

// invoke renders the step's system prompt, runs the backend in the
// context's effective path and records usage before returning the reply.
func (b base) invoke(ctx context.Context, step, userPrompt string, tools []string, pc *domain.PipelineContext) (string, error) {
	system, err := b.prompts.BuildStepPrompt(step, contextData(pc))
	if err != nil {
		return "", fmt.Errorf("build %s prompt: %w", step, err)
	}
	res, err := b.backend.RunAgent(ctx, Request{
		SystemPrompt: system,
		Prompt:       userPrompt,
		AllowedTools: tools,
		WorkingDir:   pc.EffectivePath(),
		Model:        b.model,
	})
	if err != nil {
		return "", err
	}
	pc.RecordUsage(step, res.Usage)
	return res.Text, nil
}

// contextData flattens the pipeline context into template variables.
func contextData(pc *domain.PipelineContext) prompts.StepData {
	return prompts.StepData{
		TaskTitle:       pc.Task.Title,
		TaskDescription: pc.Task.Description,
		Language:        valueOr(pc.Language, "unknown"),
		Framework:       valueOr(pc.Framework, "none"),
		TestRunner:      valueOr(pc.TestRunner, "unknown"),
		TestCommand:     valueOr(pc.TestCommand, "unknown"),
		Requirements:    formatList(pc.Requirements, "No structured requirements."),
		Plan:            valueOr(pc.Plan, "No implementation plan."),
		TestFiles:       formatList(pc.TestFiles, "No test files."),
		CodeFiles:       formatList(pc.CodeFiles, "No code files."),
		TestResults:     formatTestResults(pc.TestResults),
	}
}

// RequirementsRunner turns the raw task into structured requirements.
type RequirementsRunner struct{ base }

func (r *RequirementsRunner) Name() string { return "requirements" }

func (r *RequirementsRunner) Run(ctx context.Context, pc *domain.PipelineContext) error {
	text, err := r.invoke(ctx, domain.StepNameRequirements,
		"Analyze the task described in the system prompt and produce structured requirements. "+
			"Explore the codebase first to understand the project, then reply with only the JSON summary.",
		[]string{"Read", "Write", "Glob", "Grep"}, pc)
	if err != nil {
		return err
	}

	var summary requirementsSummary
	if err := decodeSummary(domain.StepNameRequirements, text, &summary); err != nil {
		return err
	}

	reqs := make([]string, 0, len(summary.Requirements))
	for _, req := range summary.Requirements {
		desc := strings.TrimSpace(req.Description)
		if desc == "" {
			continue
		}
		if len(req.AcceptanceCriteria) > 0 {
			desc = fmt.Sprintf("%s (acceptance: %s)", desc, strings.Join(req.AcceptanceCriteria, "; "))
		}
		reqs = append(reqs, desc)
	}
	pc.Requirements = reqs
	return nil
}

type requirementsSummary struct {
	Summary      string `json:"summary"`
	Requirements []struct {
		Description        string   `json:"description"`
		AcceptanceCriteria []string `json:"acceptance_criteria"`
	} `json:"requirements"`
	Assumptions    []string `json:"assumptions"`
	OutOfScope     []string `json:"out_of_scope"`
	Clarifications []string `json:"clarifications"`
}

// PlanningRunner explores the codebase and produces the implementation plan.
type PlanningRunner struct{ base }

func (r *PlanningRunner) Name() string { return "planning" }

func (r *PlanningRunner) Run(ctx context.Context, pc *domain.PipelineContext) error {
	text, err := r.invoke(ctx, domain.StepNamePlanning,
		"Explore the codebase thoroughly and design an implementation plan for the requirements "+
			"described in the system prompt. Start by searching for the project structure and relevant files.",
		[]string{"Read", "Glob", "Grep"}, pc)
	if err != nil {
		return err
	}

	var summary planSummary
	if err := decodeSummary(domain.StepNamePlanning, text, &summary); err != nil {
		return err
	}

	steps := summary.Steps
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	var b strings.Builder
	b.WriteString(strings.TrimSpace(summary.Approach))
	n := 0
	for _, s := range steps {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		n++
		if n == 1 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n%d. %s", n, desc)
	}
	pc.Plan = strings.TrimSpace(b.String())
	return nil
}

type planSummary struct {
	Approach string `json:"approach"`
	Steps    []struct {
		Order         int      `json:"order"`
		Description   string   `json:"description"`
		FilesToModify []string `json:"files_to_modify"`
		FilesToCreate []string `json:"files_to_create"`
	} `json:"steps"`
	AffectedFiles []string `json:"affected_files"`
	Risks         []string `json:"risks"`
}

// TestWriterRunner writes the failing tests for the TDD red phase.
type TestWriterRunner struct{ base }

func (r *TestWriterRunner) Name() string { return "test_writer" }

func (r *TestWriterRunner) Run(ctx context.Context, pc *domain.PipelineContext) error {
	text, err := r.invoke(ctx, domain.StepNameTestWriting,
		"Write comprehensive tests for the requirements. First explore existing test files to "+
			"understand patterns, then write the test files using the Write tool. "+
			"After writing, reply with the JSON summary of what you wrote.",
		[]string{"Read", "Write", "Edit", "Glob", "Grep", "Bash"}, pc)
	if err != nil {
		return err
	}

	var summary testWriterSummary
	if err := decodeSummary(domain.StepNameTestWriting, text, &summary); err != nil {
		return err
	}

	paths := make([]string, 0, len(summary.TestFiles))
	for _, tf := range summary.TestFiles {
		paths = append(paths, tf.Path)
	}
	pc.TestFiles = appendUnique(pc.TestFiles, keepExisting(pc.EffectivePath(), paths, r.log)...)
	return nil
}

type testWriterSummary struct {
	TestFiles []struct {
		Path        string `json:"path"`
		Description string `json:"description"`
	} `json:"test_files"`
}

// CoderRunner implements code until the tests pass, then runs the test
// command once more to record a ground-truth result.
type CoderRunner struct{ base }

func (r *CoderRunner) Name() string { return "coder" }

func (r *CoderRunner) Run(ctx context.Context, pc *domain.PipelineContext) error {
	text, err := r.invoke(ctx, domain.StepNameCoding,
		fmt.Sprintf("Implement the code to make all tests pass. Read the test files first, then "+
			"implement the necessary code. Run tests after each change and iterate until they pass. "+
			"Maximum %d iterations.", maxCodeIterations),
		[]string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"}, pc)
	if err != nil {
		return err
	}

	var summary coderSummary
	if err := decodeSummary(domain.StepNameCoding, text, &summary); err != nil {
		return err
	}

	pc.CodeFiles = appendUnique(pc.CodeFiles, keepExisting(pc.EffectivePath(), summary.FilesWritten, r.log)...)
	pc.CodeIteration = summary.Iterations

	results := &domain.TestResults{Passed: summary.TestsPassed, Failed: summary.TestsFailed}
	if pc.TestCommand != "" {
		r.runTests(ctx, pc, results)
	}
	pc.TestResults = results
	return nil
}

// runTests executes the project's test command for a result the agent
// cannot embellish. A non-zero exit forces at least one recorded failure.
func (r *CoderRunner) runTests(ctx context.Context, pc *domain.PipelineContext, results *domain.TestResults) {
	execCtx, cancel := context.WithTimeout(ctx, testRunTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", pc.TestCommand)
	cmd.Dir = pc.EffectivePath()
	out, err := cmd.CombinedOutput()
	results.Output = capTail(strings.TrimSpace(string(out)), maxTestOutput)
	if err == nil {
		return
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || execCtx.Err() != nil {
		if results.Failed == 0 {
			results.Failed = 1
		}
		return
	}
	r.log.Warn().Err(err).Str("command", pc.TestCommand).Msg("could not run final test command")
}

type coderSummary struct {
	FilesWritten []string `json:"files_written"`
	Iterations   int      `json:"iterations"`
	TestsPassed  int      `json:"tests_passed"`
	TestsFailed  int      `json:"tests_failed"`
}

// SecurityRunner scans the changes for vulnerabilities, patches minor
// issues in place and flags major ones for a coding rework.
type SecurityRunner struct{ base }

func (r *SecurityRunner) Name() string { return "security" }

func (r *SecurityRunner) Run(ctx context.Context, pc *domain.PipelineContext) error {
	text, err := r.invoke(ctx, domain.StepNameSecurity,
		"Perform a security review of all code changes described in the system prompt. "+
			"Use Read, Glob and Grep to examine files in context. Auto-patch minor issues using "+
			"Write and Edit. Flag major issues for manual fix. Reply with your findings as a JSON object.",
		[]string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"}, pc)
	if err != nil {
		return err
	}

	var summary securitySummary
	if err := decodeSummary(domain.StepNameSecurity, text, &summary); err != nil {
		return err
	}

	findings := make([]domain.Finding, 0, len(summary.Findings))
	for _, f := range summary.Findings {
		desc := strings.TrimSpace(f.Description)
		if desc == "" {
			desc = f.VulnerabilityType
		}
		findings = append(findings, domain.Finding{
			Severity:       normalizeSeverity(f.Severity),
			Category:       f.Category,
			Description:    desc,
			File:           f.File,
			Line:           f.Line,
			Recommendation: f.Recommendation,
		})
	}
	pc.SecurityFindings = findings
	pc.SecurityPatchesApplied = summary.PatchesApplied
	pc.RequiresCodingRework = summary.RequiresCodingRework
	pc.SecurityFeedback = summary.FeedbackForCoder
	return nil
}

type securitySummary struct {
	Findings []struct {
		Severity          string `json:"severity"`
		Category          string `json:"category"`
		VulnerabilityType string `json:"vulnerability_type"`
		File              string `json:"file"`
		Line              int    `json:"line"`
		Description       string `json:"description"`
		PatchApplied      bool   `json:"patch_applied"`
		RequiresManualFix bool   `json:"requires_manual_fix"`
		Recommendation    string `json:"recommendation"`
	} `json:"findings"`
	PatchesApplied       int    `json:"patches_applied"`
	RequiresCodingRework bool   `json:"requires_coding_rework"`
	FeedbackForCoder     string `json:"feedback_for_coder"`
}

// ReviewerRunner reports code-quality findings without modifying files.
type ReviewerRunner struct{ base }

func (r *ReviewerRunner) Name() string { return "reviewer" }

func (r *ReviewerRunner) Run(ctx context.Context, pc *domain.PipelineContext) error {
	text, err := r.invoke(ctx, domain.StepNameReview,
		"Review all the code changes described in the system prompt. "+
			"Use Read to examine files in their full context. Reply with your findings as a JSON object.",
		[]string{"Read", "Glob", "Grep"}, pc)
	if err != nil {
		return err
	}

	var summary reviewSummary
	if err := decodeSummary(domain.StepNameReview, text, &summary); err != nil {
		return err
	}

	findings := make([]domain.Finding, 0, len(summary.Findings))
	for _, f := range summary.Findings {
		findings = append(findings, domain.Finding{
			Severity:       normalizeSeverity(f.Severity),
			Category:       f.Category,
			Description:    f.Message,
			File:           f.File,
			Line:           f.Line,
			Recommendation: f.Suggestion,
		})
	}
	pc.ReviewFindings = findings
	return nil
}

type reviewSummary struct {
	Findings []struct {
		Severity   string `json:"severity"`
		Category   string `json:"category"`
		File       string `json:"file"`
		Line       int    `json:"line"`
		Message    string `json:"message"`
		Suggestion string `json:"suggestion"`
	} `json:"findings"`
	OverallAssessment string `json:"overall_assessment"`
}

// extractJSON pulls the JSON object out of an agent reply. Replies may wrap
// the object in prose or a fenced code block, so everything from the first
// opening brace to the last closing brace is taken.
func extractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in agent reply")
	}
	return s[start : end+1], nil
}

func decodeSummary(step, text string, v any) error {
	raw, err := extractJSON(text)
	if err != nil {
		return fmt.Errorf("%s summary: %w", step, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("parse %s summary: %w", step, err)
	}
	return nil
}

// keepExisting filters reported paths down to files that are actually
// present under root. Agents occasionally list files they meant to write
// but did not.
func keepExisting(root string, paths []string, log zerolog.Logger) []string {
	var kept []string
	for _, rel := range paths {
		rel = strings.TrimSpace(rel)
		if rel == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
			log.Warn().Str("path", rel).Msg("reported file missing from workspace")
			continue
		}
		kept = append(kept, rel)
	}
	return kept
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		seen := false
		for _, d := range dst {
			if d == item {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, item)
		}
	}
	return dst
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return "critical"
	case "error", "high":
		return "error"
	case "warning", "medium":
		return "warning"
	default:
		return "info"
	}
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func formatList(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTestResults(tr *domain.TestResults) string {
	if tr == nil {
		return "No test results."
	}
	status := "PASSED"
	if tr.Failed > 0 {
		status = "FAILED"
	}
	return fmt.Sprintf("%s: %d passed, %d failed", status, tr.Passed, tr.Failed)
}

// capTail keeps the last max bytes of s. Test runners print failures at
// the end, so the tail is the useful part.
func capTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
