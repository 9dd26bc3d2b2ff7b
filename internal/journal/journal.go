// Package journal writes an incremental markdown log of pipeline activity
// into the target project. The journal is informational: write failures are
// logged and swallowed, they never fail a run.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/hochfrequenz/levelup/internal/domain"
)

const maxSlugLength = 50

var nonAlnum = regexp.MustCompile("[^a-z0-9]+")

// slugify turns text into a filename-friendly slug: lowercased, runs of
// non-alphanumerics collapsed to dashes, truncated to maxSlugLength.
func slugify(text string) string {
	slug := nonAlnum.ReplaceAllString(strings.ToLower(text), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "run-journal"
	}
	return slug
}

func filename(pc *domain.PipelineContext) string {
	date := pc.StartedAt.UTC().Format("20060102")
	slug := slugify(pc.Task.Title)
	if pc.Task.SourceID != "" {
		return fmt.Sprintf("%s-%s-%s.md", date, slugify(pc.Task.SourceID), slug)
	}
	return fmt.Sprintf("%s-%s.md", date, slug)
}

// Journal is the per-run markdown log under <project>/levelup/journal/.
// Runs with an isolated workspace journal into the worktree, so the log is
// committed onto the run's branch alongside the step commits.
type Journal struct {
	dir  string
	path string
	log  zerolog.Logger
}

func New(pc *domain.PipelineContext, log zerolog.Logger) *Journal {
	dir := filepath.Join(pc.EffectivePath(), "levelup", "journal")
	return &Journal{
		dir:  dir,
		path: filepath.Join(dir, filename(pc)),
		log:  log,
	}
}

// Path returns the journal file location. The websocket output endpoint
// tails this file.
func (j *Journal) Path() string {
	return j.path
}

// WriteHeader creates the journal with the run metadata block. It truncates
// any previous content, so it is called exactly once per run.
func (j *Journal) WriteHeader(pc *domain.PipelineContext) {
	lines := []string{
		fmt.Sprintf("# Run Journal: %s", pc.Task.Title),
		"",
		fmt.Sprintf("- **Run ID:** %s", pc.RunID),
		fmt.Sprintf("- **Started:** %s UTC", pc.StartedAt.UTC().Format("2006-01-02 15:04:05")),
		fmt.Sprintf("- **Task:** %s", pc.Task.Title),
	}
	if pc.Task.SourceID != "" {
		lines = append(lines, fmt.Sprintf("- **Ticket:** %s (%s)", pc.Task.SourceID, pc.Task.Source))
	}
	if pc.Task.Description != "" {
		lines = append(lines, "", "## Task Description", "", pc.Task.Description)
	}
	lines = append(lines, "")

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		j.log.Warn().Err(err).Str("path", j.path).Msg("journal header not written")
		return
	}
	if err := os.WriteFile(j.path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		j.log.Warn().Err(err).Str("path", j.path).Msg("journal header not written")
	}
}

// StepStarted opens a section for a pipeline step.
func (j *Journal) StepStarted(step string) {
	j.appendSection(fmt.Sprintf("## Step: %s  (%s)", step, timestamp()))
}

// StepCompleted records a step's results under its section.
func (j *Journal) StepCompleted(step string, pc *domain.PipelineContext) {
	lines := stepSummary(step, pc)
	if usage, ok := pc.StepUsage[step]; ok {
		if line := usageLine(usage); line != "" {
			lines = append(lines, line)
		}
	}
	j.appendSection(lines...)
}

// Resumed marks the point where an interrupted run picked back up.
func (j *Journal) Resumed(step string) {
	j.appendSection(fmt.Sprintf("## Resumed from step: %s  (%s)", step, timestamp()))
}

// CheckpointRequested records that the run is waiting for a human decision.
func (j *Journal) CheckpointRequested(step string) {
	j.appendSection(
		fmt.Sprintf("### Checkpoint: %s  (%s)", step, timestamp()),
		"",
		"- **Status:** waiting for decision",
	)
}

// CheckpointDecided records the verdict on the pending checkpoint.
func (j *Journal) CheckpointDecided(step string, decision domain.Decision, feedback string) {
	lines := []string{fmt.Sprintf("- **Decision:** %s", decision)}
	if feedback != "" {
		lines = append(lines, fmt.Sprintf("- **Feedback:** %s", feedback))
	}
	j.appendSection(lines...)
}

// CommitCreated records a git commit made after a step.
func (j *Journal) CommitCreated(step, sha string) {
	j.appendSection(fmt.Sprintf("- **Commit:** `%s` (%s)", shortSHA(sha), step))
}

// InstructionAdded records a standing rule added while the run was active.
func (j *Journal) InstructionAdded(rule string) {
	j.appendSection(
		fmt.Sprintf("### Instruct  (%s)", timestamp()),
		"",
		fmt.Sprintf("- **Rule added:** %s", rule),
	)
}

// Outcome records the terminal status of the run.
func (j *Journal) Outcome(pc *domain.PipelineContext) {
	lines := []string{
		fmt.Sprintf("## Outcome  (%s)", timestamp()),
		"",
		fmt.Sprintf("- **Status:** %s", pc.Status),
	}
	if pc.ErrorMessage != "" {
		lines = append(lines, fmt.Sprintf("- **Error:** %s", pc.ErrorMessage))
	}
	if pc.TotalUsage.CostUSD > 0 {
		lines = append(lines, fmt.Sprintf("- **Total cost:** $%.4f", pc.TotalUsage.CostUSD))
	}
	j.appendSection(lines...)
}

// appendSection writes the lines as a blank-line separated block.
func (j *Journal) appendSection(lines ...string) {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		j.log.Warn().Err(err).Str("path", j.path).Msg("journal entry not written")
		return
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		j.log.Warn().Err(err).Str("path", j.path).Msg("journal entry not written")
		return
	}
	defer f.Close()
	if _, err := f.WriteString("\n" + strings.Join(lines, "\n") + "\n"); err != nil {
		j.log.Warn().Err(err).Str("path", j.path).Msg("journal entry not written")
	}
}

func timestamp() string {
	return time.Now().UTC().Format("15:04:05")
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func usageLine(u domain.Usage) string {
	var parts []string
	if u.CostUSD > 0 {
		parts = append(parts, fmt.Sprintf("$%.4f", u.CostUSD))
	}
	if tokens := u.InputTokens + u.OutputTokens; tokens > 0 {
		parts = append(parts, fmt.Sprintf("%s tokens", humanize.Comma(int64(tokens))))
	}
	if u.DurationMS > 0 {
		parts = append(parts, fmt.Sprintf("%.1fs", float64(u.DurationMS)/1000))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("- **Usage:** %s", strings.Join(parts, " | "))
}

// stepSummary renders the step-specific result lines.
func stepSummary(step string, pc *domain.PipelineContext) []string {
	switch step {
	case domain.StepNameDetect:
		return []string{"See `levelup/project_context.md` for project details."}

	case domain.StepNameRequirements:
		if len(pc.Requirements) == 0 {
			return []string{"No requirements produced."}
		}
		lines := []string{fmt.Sprintf("Captured %d requirement(s):", len(pc.Requirements))}
		for _, req := range pc.Requirements {
			lines = append(lines, fmt.Sprintf("- %s", req))
		}
		return lines

	case domain.StepNamePlanning:
		if pc.Plan == "" {
			return []string{"No plan produced."}
		}
		return []string{pc.Plan}

	case domain.StepNameTestWriting:
		if len(pc.TestFiles) == 0 {
			return []string{"No test files written."}
		}
		lines := []string{fmt.Sprintf("Wrote %d test file(s):", len(pc.TestFiles))}
		for _, path := range pc.TestFiles {
			lines = append(lines, fmt.Sprintf("- `%s`", path))
		}
		return lines

	case domain.StepNameCoding:
		var lines []string
		if len(pc.CodeFiles) > 0 {
			lines = append(lines, fmt.Sprintf("Wrote %d file(s):", len(pc.CodeFiles)))
			for _, path := range pc.CodeFiles {
				lines = append(lines, fmt.Sprintf("- `%s`", path))
			}
		}
		lines = append(lines, fmt.Sprintf("- **Code iterations:** %d", pc.CodeIteration))
		if tr := pc.TestResults; tr != nil {
			status := "PASSED"
			if tr.Failed > 0 {
				status = "FAILED"
			}
			lines = append(lines, fmt.Sprintf("- **Test results:** %d passed, %d failed (%s)", tr.Passed, tr.Failed, status))
		}
		return lines

	case domain.StepNameSecurity:
		if len(pc.SecurityFindings) == 0 {
			return []string{"No security findings."}
		}
		lines := []string{fmt.Sprintf("Found %d finding(s), %d patch(es) applied:", len(pc.SecurityFindings), pc.SecurityPatchesApplied)}
		for _, f := range pc.SecurityFindings {
			lines = append(lines, findingLine(f))
		}
		return lines

	case domain.StepNameReview:
		if len(pc.ReviewFindings) == 0 {
			return []string{"No review findings."}
		}
		lines := []string{fmt.Sprintf("Found %d issue(s):", len(pc.ReviewFindings))}
		for _, f := range pc.ReviewFindings {
			lines = append(lines, findingLine(f))
		}
		return lines
	}
	return []string{fmt.Sprintf("Step `%s` completed.", step)}
}

func findingLine(f domain.Finding) string {
	if f.File != "" {
		return fmt.Sprintf("- [%s] `%s`: %s", strings.ToUpper(f.Severity), f.File, f.Description)
	}
	return fmt.Sprintf("- [%s] %s", strings.ToUpper(f.Severity), f.Description)
}
