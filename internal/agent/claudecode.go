package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/levelup/internal/domain"
)

// DefaultExecutable is the claude CLI binary looked up on PATH when no
// explicit path is configured.
const DefaultExecutable = "claude"

const defaultTimeout = 30 * time.Minute

// ClaudeCodeBackend spawns `claude -p` subprocesses and parses their JSON
// result envelope. Subprocesses inherit the environment and run with the
// request's working directory as cwd, which is what sandboxes file access
// to the run's worktree.
type ClaudeCodeBackend struct {
	executable string
	timeout    time.Duration
	log        zerolog.Logger
}

// NewClaudeCodeBackend creates a backend for the given executable. An empty
// executable falls back to "claude" on PATH, a non-positive timeout to 30
// minutes.
func NewClaudeCodeBackend(executable string, timeout time.Duration, log zerolog.Logger) *ClaudeCodeBackend {
	if executable == "" {
		executable = DefaultExecutable
	}
	if resolved, err := exec.LookPath(executable); err == nil {
		executable = resolved
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ClaudeCodeBackend{executable: executable, timeout: timeout, log: log}
}

// RunAgent executes one `claude -p` invocation. The user prompt is passed on
// stdin, the system prompt and tool allowlist as flags. The call blocks until
// the subprocess exits, the per-call timeout fires, or ctx is cancelled.
func (b *ClaudeCodeBackend) RunAgent(ctx context.Context, req Request) (*Result, error) {
	if req.WorkingDir != "" {
		if _, err := os.Stat(req.WorkingDir); err != nil {
			return nil, fmt.Errorf("working directory does not exist: %s", req.WorkingDir)
		}
	}

	args := []string{"-p", "--output-format", "json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}

	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.executable, args...)
	cmd.Dir = req.WorkingDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	// Tool subprocesses that survive the kill would otherwise hold the
	// output pipes open past the deadline.
	cmd.WaitDelay = 10 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.log.Debug().
		Str("dir", req.WorkingDir).
		Str("model", req.Model).
		Strs("tools", req.AllowedTools).
		Msg("invoking claude")

	start := time.Now()
	err := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("claude timed out after %s", b.timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%q not found (%w); install Claude Code or set pipeline.claude_executable to the binary's path", b.executable, exec.ErrNotFound)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = exitErr.String()
			}
			return nil, fmt.Errorf("claude exited with code %d: %s", exitErr.ExitCode(), msg)
		}
		return nil, fmt.Errorf("starting claude: %w", err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return nil, fmt.Errorf("claude returned empty output")
	}

	res, err := parseEnvelope(out)
	if err != nil {
		return nil, err
	}

	b.log.Debug().
		Dur("elapsed", time.Since(start)).
		Float64("cost_usd", res.Usage.CostUSD).
		Int("turns", res.Usage.NumTurns).
		Msg("claude finished")

	return res, nil
}

// resultEnvelope mirrors the document claude prints with --output-format
// json. Usage moved between flat fields and a nested object across CLI
// releases, so both layouts are accepted.
type resultEnvelope struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`

	CostUSD      float64 `json:"cost_usd"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	DurationMS   int64   `json:"duration_ms"`
	NumTurns     int     `json:"num_turns"`

	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (e *resultEnvelope) usage() domain.Usage {
	u := domain.Usage{
		CostUSD:      e.CostUSD,
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
		DurationMS:   e.DurationMS,
		NumTurns:     e.NumTurns,
	}
	if u.CostUSD == 0 {
		u.CostUSD = e.TotalCostUSD
	}
	if u.InputTokens == 0 {
		u.InputTokens = e.Usage.InputTokens
	}
	if u.OutputTokens == 0 {
		u.OutputTokens = e.Usage.OutputTokens
	}
	return u
}

func parseEnvelope(out string) (*Result, error) {
	var env resultEnvelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		return nil, fmt.Errorf("parse claude output: %w", err)
	}
	if env.IsError {
		msg := env.Result
		if msg == "" {
			msg = env.Subtype
		}
		return nil, fmt.Errorf("claude reported an error: %s", msg)
	}
	return &Result{Text: env.Result, SessionID: env.SessionID, Usage: env.usage()}, nil
}
