package domain

import "time"

// Run is the durable record of one pipeline execution
type Run struct {
	ID              string
	TaskTitle       string
	TaskDescription string
	Source          string // "manual" or "ticket"
	SourceID        string // "ticket:7" when Source is "ticket"
	TicketNumber    *int
	ProjectPath     string
	Language        string
	Framework       string
	TestCommand     string
	Status          RunStatus
	CurrentStep     string
	ErrorMessage    string
	PID             int
	ContextJSON     string
	BranchPattern   string
	PauseRequested  bool
	TotalCostUSD    float64
	InputTokens     int
	OutputTokens    int
	StartedAt       time.Time
	UpdatedAt       time.Time
}

// CheckpointRequest is one pause point awaiting a human decision
type CheckpointRequest struct {
	ID          int64
	RunID       string
	StepName    string
	PayloadJSON string
	Status      CheckpointStatus
	Decision    Decision
	Feedback    string
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

// Ticket is a local work item that can seed a run
type Ticket struct {
	ID          int64
	ProjectPath string
	Number      int
	Title       string
	Description string
	Status      TicketStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
