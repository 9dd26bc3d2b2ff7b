// Package workspace gives every run its own git branch and worktree so
// concurrent runs against the same repository never observe each other's
// file writes. The branch survives cleanup; only the checkout is removed.
package workspace

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/levelup/internal/domain"
)

// Manager handles per-run git worktree operations
type Manager struct {
	repoDir     string
	worktreeDir string
	log         zerolog.Logger
}

// NewManager creates a Manager for the repository at repoDir. Worktrees are
// placed under worktreeDir, keyed by run id.
func NewManager(repoDir, worktreeDir string, log zerolog.Logger) *Manager {
	return &Manager{
		repoDir:     repoDir,
		worktreeDir: worktreeDir,
		log:         log,
	}
}

// Create records the repository head, resolves the run's branch name, and
// checks out a fresh worktree of a new branch at that head. The context
// receives the pre-run SHA, branch name and worktree path. An existing
// branch of the same name is a hard error: the run must abort rather than
// risk writing into a shared location.
func (m *Manager) Create(pc *domain.PipelineContext) error {
	branch := ResolveBranchName(pc.BranchPattern, pc.RunID, pc.Task.Title, time.Now())

	preSHA, err := m.HeadSHA()
	if err != nil {
		return fmt.Errorf("resolve repository head: %w", err)
	}

	if m.branchExists(branch) {
		return fmt.Errorf("branch %s already exists", branch)
	}

	if err := os.MkdirAll(m.worktreeDir, 0o755); err != nil {
		return fmt.Errorf("create worktree dir: %w", err)
	}

	wtPath := filepath.Join(m.worktreeDir, pc.RunID)

	// A stale directory can remain from an earlier attempt of this same run.
	if _, err := os.Stat(wtPath); err == nil {
		m.git(m.repoDir, "worktree", "remove", "--force", wtPath)
		os.RemoveAll(wtPath)
		m.git(m.repoDir, "worktree", "prune")
	}

	if _, err := m.git(m.repoDir, "worktree", "add", "-b", branch, wtPath, preSHA); err != nil {
		os.RemoveAll(wtPath)
		return err
	}

	pc.PreRunSHA = preSHA
	pc.Branch = branch
	pc.WorktreePath = wtPath

	m.log.Info().
		Str("run_id", pc.RunID).
		Str("branch", branch).
		Str("worktree", wtPath).
		Msg("workspace created")
	return nil
}

// Commit stages and commits everything that changed in the run's worktree,
// tagged with the step label, and records the commit SHA in the context
// under the step's name. Returns the empty string when there is nothing to
// commit or the run has no workspace.
func (m *Manager) Commit(pc *domain.PipelineContext, step string, revised bool) (string, error) {
	if pc.WorktreePath == "" || pc.PreRunSHA == "" {
		return "", nil
	}

	status, err := m.git(pc.WorktreePath, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", nil
	}

	if _, err := m.git(pc.WorktreePath, "add", "-A"); err != nil {
		return "", err
	}

	suffix := ""
	if revised {
		suffix = ", revised"
	}
	message := fmt.Sprintf("levelup(%s%s): %s\n\nRun ID: %s", step, suffix, pc.Task.Title, pc.RunID)
	if _, err := m.git(pc.WorktreePath, "commit", "-m", message); err != nil {
		return "", err
	}

	sha, err := m.git(pc.WorktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}

	pc.RecordCommit(step, sha)
	m.log.Debug().
		Str("run_id", pc.RunID).
		Str("step", step).
		Str("sha", sha).
		Msg("step committed")
	return sha, nil
}

// Reattach restores the worktree checkout for a resumed run. An existing
// checkout is used as-is. Otherwise, when the run's branch survives in the
// repository, it is checked out again at the run's worktree path; a run
// whose branch is gone falls back to working in the project root, where
// step commits are skipped.
func (m *Manager) Reattach(pc *domain.PipelineContext) error {
	if pc.WorktreePath != "" {
		if _, err := os.Stat(pc.WorktreePath); err == nil {
			return nil
		}
	}
	if pc.Branch == "" || !m.branchExists(pc.Branch) {
		pc.WorktreePath = ""
		return nil
	}

	if err := os.MkdirAll(m.worktreeDir, 0o755); err != nil {
		return fmt.Errorf("create worktree dir: %w", err)
	}
	wtPath := filepath.Join(m.worktreeDir, pc.RunID)

	// The dead process may have left a stale registration for this path.
	m.git(m.repoDir, "worktree", "prune")

	if _, err := m.git(m.repoDir, "worktree", "add", wtPath, pc.Branch); err != nil {
		return err
	}
	pc.WorktreePath = wtPath

	m.log.Info().
		Str("run_id", pc.RunID).
		Str("branch", pc.Branch).
		Str("worktree", wtPath).
		Msg("workspace reattached")
	return nil
}

// Cleanup removes the run's worktree checkout, retrying with --force when
// the plain removal fails. The branch and its commits remain. Calling it
// again, or on a run that never had a workspace, is a no-op.
func (m *Manager) Cleanup(pc *domain.PipelineContext) error {
	if pc.WorktreePath == "" {
		return nil
	}
	if _, err := os.Stat(pc.WorktreePath); os.IsNotExist(err) {
		return nil
	}

	if _, err := m.git(m.repoDir, "worktree", "remove", pc.WorktreePath); err != nil {
		if _, err := m.git(m.repoDir, "worktree", "remove", "--force", pc.WorktreePath); err != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
	}
	m.git(m.repoDir, "worktree", "prune")

	m.log.Info().
		Str("run_id", pc.RunID).
		Str("worktree", pc.WorktreePath).
		Msg("workspace removed")
	return nil
}

// HeadSHA returns the repository's current head commit
func (m *Manager) HeadSHA() (string, error) {
	return m.git(m.repoDir, "rev-parse", "HEAD")
}

// CurrentBranch returns the branch checked out in the host repository
func (m *Manager) CurrentBranch() (string, error) {
	return m.git(m.repoDir, "rev-parse", "--abbrev-ref", "HEAD")
}

func (m *Manager) branchExists(branch string) bool {
	_, err := m.git(m.repoDir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

func (m *Manager) git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}
