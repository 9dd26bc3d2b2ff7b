// Package agent runs the external coding agent and turns its replies into
// pipeline artifacts. The Backend interface isolates the subprocess details
// so step runners and the engine can be tested against a fake.
package agent

import (
	"context"

	"github.com/hochfrequenz/levelup/internal/domain"
)

// Request describes one agent invocation.
type Request struct {
	SystemPrompt string
	Prompt       string
	AllowedTools []string
	WorkingDir   string
	Model        string
}

// Result carries the agent's final text plus usage metrics.
type Result struct {
	Text      string
	SessionID string
	Usage     domain.Usage
}

// Backend runs a single agent invocation to completion.
type Backend interface {
	RunAgent(ctx context.Context, req Request) (*Result, error)
}
