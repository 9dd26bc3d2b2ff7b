//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "state.db")
}

// TempConfigPath creates a temporary config file path for testing
func TempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.toml")
}

// SetupProjectRepo creates a git repository shaped like a small Python
// project: pyproject.toml declares fastapi and pytest so detection has
// something to find, and an initial commit gives worktrees a base.
func SetupProjectRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "pyproject.toml"), pyprojectTOML)
	writeFile(t, filepath.Join(dir, "app", "main.py"), "def health():\n    return {\"status\": \"ok\"}\n")

	gitRun(t, dir, "init")
	gitRun(t, dir, "config", "user.email", "test@test.com")
	gitRun(t, dir, "config", "user.name", "Test")
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "Initial commit")

	return dir
}

const pyprojectTOML = `[project]
name = "shop"
dependencies = ["fastapi"]

[tool.pytest.ini_options]
addopts = "-q"
`

// WriteTicketsFile puts a legacy tickets.md with three entries, one of them
// already done, into the project and returns its path.
func WriteTicketsFile(t *testing.T, projectPath string) string {
	t.Helper()
	path := filepath.Join(projectPath, "levelup", "tickets.md")
	writeFile(t, path, ticketsMarkdown)
	return path
}

const ticketsMarkdown = `# Tickets

## Fix login redirect

Users land on a 404 after logging in.

## Add CSV export

Export all orders as CSV.

<!--metadata
priority: high
-->

## [done] Set up CI

Pipeline runs on every push.
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %s", args, out)
	}
	return strings.TrimSpace(string(out))
}
