package domain

import (
	"fmt"
	"strings"
)

// RunStatus represents the lifecycle state of a pipeline run
type RunStatus string

const (
	StatusPending         RunStatus = "pending"
	StatusRunning         RunStatus = "running"
	StatusWaitingForInput RunStatus = "waiting_for_input"
	StatusPaused          RunStatus = "paused"
	StatusCompleted       RunStatus = "completed"
	StatusFailed          RunStatus = "failed"
	StatusAborted         RunStatus = "aborted"
)

// IsTerminal reports whether the run can make no further transitions
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// IsActive reports whether the run still occupies its ticket slot
func (s RunStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusRunning, StatusWaitingForInput:
		return true
	}
	return false
}

// ActiveStatuses lists the states counted by the one-active-run-per-ticket guard
func ActiveStatuses() []RunStatus {
	return []RunStatus{StatusPending, StatusRunning, StatusWaitingForInput}
}

// Decision is a human verdict on a checkpoint
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionRevise  Decision = "revise"
	DecisionReject  Decision = "reject"
)

// ParseDecision converts user input into a Decision, accepting single-letter
// shorthands a/r/x
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "approve":
		return DecisionApprove, nil
	case "r", "revise":
		return DecisionRevise, nil
	case "x", "reject":
		return DecisionReject, nil
	}
	return "", fmt.Errorf("invalid decision %q (expected approve, revise or reject)", s)
}

// CheckpointStatus represents the state of a checkpoint request
type CheckpointStatus string

const (
	CheckpointPending CheckpointStatus = "pending"
	CheckpointDecided CheckpointStatus = "decided"
)

// StepKind distinguishes how the engine executes a step
type StepKind string

const (
	StepDetection StepKind = "detection"
	StepAgent     StepKind = "agent"
)

// Canonical pipeline step names, in execution order
const (
	StepNameDetect       = "detect"
	StepNameRequirements = "requirements"
	StepNamePlanning     = "planning"
	StepNameTestWriting  = "test_writing"
	StepNameCoding       = "coding"
	StepNameSecurity     = "security"
	StepNameReview       = "review"
)

// TicketStatus represents the lifecycle state of a local ticket
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketDone       TicketStatus = "done"
)
