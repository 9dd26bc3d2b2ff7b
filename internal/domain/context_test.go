package domain

import (
	"strings"
	"testing"
)

func TestNewRunID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewRunID()
		if len(id) != 12 {
			t.Fatalf("NewRunID() = %q, want 12 characters", id)
		}
		if strings.Contains(id, "-") {
			t.Fatalf("NewRunID() = %q, contains dash", id)
		}
		if seen[id] {
			t.Fatalf("NewRunID() produced duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestPipelineContext_EffectivePath(t *testing.T) {
	pc := NewContext(ManualTask("add parser", ""), "/repo")
	if got := pc.EffectivePath(); got != "/repo" {
		t.Errorf("EffectivePath() = %q, want /repo", got)
	}
	pc.WorktreePath = "/worktrees/abc"
	if got := pc.EffectivePath(); got != "/worktrees/abc" {
		t.Errorf("EffectivePath() = %q, want /worktrees/abc", got)
	}
}

func TestPipelineContext_RecordUsage(t *testing.T) {
	pc := NewContext(ManualTask("t", ""), "/repo")
	pc.RecordUsage("coding", Usage{CostUSD: 0.5, InputTokens: 100, OutputTokens: 50, NumTurns: 3})
	pc.RecordUsage("coding", Usage{CostUSD: 0.25, InputTokens: 40, OutputTokens: 10, NumTurns: 1})
	pc.RecordUsage("review", Usage{CostUSD: 0.1, InputTokens: 20, OutputTokens: 5, NumTurns: 1})

	coding := pc.StepUsage["coding"]
	if coding.CostUSD != 0.75 || coding.InputTokens != 140 || coding.NumTurns != 4 {
		t.Errorf("coding usage not accumulated: %+v", coding)
	}
	if pc.TotalUsage.CostUSD != 0.85 {
		t.Errorf("TotalUsage.CostUSD = %v, want 0.85", pc.TotalUsage.CostUSD)
	}
	if pc.TotalUsage.InputTokens != 160 || pc.TotalUsage.OutputTokens != 65 {
		t.Errorf("total tokens = %d/%d, want 160/65", pc.TotalUsage.InputTokens, pc.TotalUsage.OutputTokens)
	}
}

func TestPipelineContext_SnapshotRestore(t *testing.T) {
	pc := NewContext(ManualTask("add csv export", "export rows as csv"), "/repo")
	pc.Language = "python"
	pc.TestCommand = "pytest"
	pc.Requirements = []string{"must export headers", "must quote fields"}
	pc.Status = StatusPaused
	pc.CurrentStep = "coding"
	pc.RecordCommit("test_writing", "abc123")
	pc.RecordUsage("requirements", Usage{CostUSD: 0.2, InputTokens: 10, OutputTokens: 4})
	pc.WorktreePath = "/worktrees/x"
	pc.Branch = "levelup/x"

	snap, err := pc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}

	got, err := RestoreContext(snap)
	if err != nil {
		t.Fatalf("RestoreContext() error: %v", err)
	}
	if got.RunID != pc.RunID {
		t.Errorf("RunID = %q, want %q", got.RunID, pc.RunID)
	}
	if got.Task.Title != "add csv export" || got.Task.Source != SourceManual {
		t.Errorf("task not preserved: %+v", got.Task)
	}
	if len(got.Requirements) != 2 || got.Requirements[1] != "must quote fields" {
		t.Errorf("requirements not preserved: %v", got.Requirements)
	}
	if got.Status != StatusPaused || got.CurrentStep != "coding" {
		t.Errorf("state not preserved: %s/%s", got.Status, got.CurrentStep)
	}
	if got.StepCommits["test_writing"] != "abc123" {
		t.Errorf("commits not preserved: %v", got.StepCommits)
	}
	if got.TotalUsage.CostUSD != 0.2 {
		t.Errorf("usage not preserved: %+v", got.TotalUsage)
	}
	if got.EffectivePath() != "/worktrees/x" {
		t.Errorf("EffectivePath() = %q after restore", got.EffectivePath())
	}
}

func TestRestoreContext_Empty(t *testing.T) {
	if _, err := RestoreContext(""); err == nil {
		t.Error("RestoreContext(\"\") succeeded, want error")
	}
	if _, err := RestoreContext("   "); err == nil {
		t.Error("RestoreContext(blank) succeeded, want error")
	}
	if _, err := RestoreContext("{not json"); err == nil {
		t.Error("RestoreContext(malformed) succeeded, want error")
	}
}

func TestTaskInput_TicketNumber(t *testing.T) {
	tests := []struct {
		sourceID string
		want     int
		ok       bool
	}{
		{"ticket:7", 7, true},
		{"ticket:123", 123, true},
		{"", 0, false},
		{"ticket:", 0, false},
		{"issue:7", 0, false},
	}
	for _, tt := range tests {
		task := TaskInput{SourceID: tt.sourceID}
		got, ok := task.TicketNumber()
		if ok != tt.ok || got != tt.want {
			t.Errorf("TicketNumber(%q) = %d,%v want %d,%v", tt.sourceID, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTicketTask(t *testing.T) {
	task := TicketTask(Ticket{Number: 4, Title: "fix login", Description: "details"})
	if task.Source != SourceTicket || task.SourceID != "ticket:4" {
		t.Errorf("TicketTask source = %s/%s", task.Source, task.SourceID)
	}
	if n, ok := task.TicketNumber(); !ok || n != 4 {
		t.Errorf("TicketNumber() = %d,%v want 4,true", n, ok)
	}
}
