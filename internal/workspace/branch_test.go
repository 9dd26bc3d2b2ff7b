package workspace

import (
	"strings"
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Add user login", "add-user-login"},
		{"Fix bug #42 in parser!", "fix-bug-42-in-parser"},
		{"  spaced   out  ", "spaced-out"},
		{"UPPER_case_title", "upper-case-title"},
		{"---", "task"},
		{"", "task"},
		{"übergrößen handling", "bergr-en-handling"},
	}

	for _, tt := range tests {
		got := Slugify(tt.title)
		if got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestSlugify_Truncation(t *testing.T) {
	long := strings.Repeat("word-", 20)
	got := Slugify(long)
	if len(got) > 50 {
		t.Errorf("slug length = %d, want <= 50", len(got))
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("slug %q has trailing dash", got)
	}
}

func TestResolveBranchName(t *testing.T) {
	now := time.Date(2026, 3, 7, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		pattern string
		want    string
	}{
		{"levelup/{run_id}", "levelup/abc123def456"},
		{"feature/{task_title}", "feature/add-user-login"},
		{"{date}/{run_id}", "20260307/abc123def456"},
		{"{run_id}-{task_title}-{date}", "abc123def456-add-user-login-20260307"},
		{"", "levelup/abc123def456"},
		{"   ", "levelup/abc123def456"},
		{"static-branch", "static-branch"},
		{"x/{unknown}", "x/{unknown}"},
	}

	for _, tt := range tests {
		got := ResolveBranchName(tt.pattern, "abc123def456", "Add user login", now)
		if got != tt.want {
			t.Errorf("ResolveBranchName(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestNormalizeConvention(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		// Already canonical: untouched
		{"levelup/{run_id}", "levelup/{run_id}"},
		{"feature/{task_title}", "feature/{task_title}"},
		// Natural-language descriptions
		{"levelup/task-title-in-kebab-case", "levelup/{task_title}"},
		{"feature/task-title", "feature/{task_title}"},
		{"dev/date-run-id", "dev/{date}-{run_id}"},
		{"runs/id", "runs/{run_id}"},
		{"branches/title-slug", "branches/{task_title}"},
		// Case-insensitive alias matching
		{"Feature/Task-Title", "Feature/{task_title}"},
		// Aliases only match on word boundaries
		{"candidate/x", "candidate/x"},
		{"main", "main"},
		{"", ""},
	}

	for _, tt := range tests {
		got := NormalizeConvention(tt.raw)
		if got != tt.want {
			t.Errorf("NormalizeConvention(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
