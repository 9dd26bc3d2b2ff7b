package checkpoint

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/notify"
)

// Store is the slice of the run store the coordinator needs
type Store interface {
	CreateCheckpoint(req *domain.CheckpointRequest) error
	GetCheckpoint(id int64) (*domain.CheckpointRequest, error)
	SetRunStatus(id string, status domain.RunStatus) error
}

// Coordinator resolves a human decision for one checkpoint. Implementations
// block until the decision is in.
type Coordinator interface {
	RequestDecision(ctx context.Context, runID, taskTitle string, p Payload) (domain.Decision, string, error)
}

// StoreCoordinator round-trips the decision through the shared store: it
// writes a pending checkpoint request, parks the run in WAITING_FOR_INPUT,
// and polls until a remote approver decides that exact request. Polling by
// request id keeps a re-prompted step from picking up its own earlier
// decision.
type StoreCoordinator struct {
	store    Store
	notifier notify.Notifier
	interval time.Duration
	log      zerolog.Logger
}

// NewStoreCoordinator creates a store-backed coordinator polling at the
// given interval (1s when zero)
func NewStoreCoordinator(store Store, notifier notify.Notifier, interval time.Duration, log zerolog.Logger) *StoreCoordinator {
	if interval <= 0 {
		interval = time.Second
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &StoreCoordinator{store: store, notifier: notifier, interval: interval, log: log}
}

// RequestDecision blocks until the checkpoint is decided or ctx is cancelled
func (c *StoreCoordinator) RequestDecision(ctx context.Context, runID, taskTitle string, p Payload) (domain.Decision, string, error) {
	payloadJSON, err := p.Encode()
	if err != nil {
		return "", "", err
	}

	req := &domain.CheckpointRequest{RunID: runID, StepName: p.Step, PayloadJSON: payloadJSON}
	if err := c.store.CreateCheckpoint(req); err != nil {
		return "", "", err
	}
	if err := c.store.SetRunStatus(runID, domain.StatusWaitingForInput); err != nil {
		return "", "", err
	}

	if err := c.notifier.Send(notify.CheckpointWaiting(runID, p.Step, taskTitle)); err != nil {
		c.log.Warn().Err(err).Str("run_id", runID).Msg("checkpoint notification failed")
	}

	c.log.Info().
		Str("run_id", runID).
		Str("step", p.Step).
		Int64("checkpoint_id", req.ID).
		Msg("waiting for checkpoint decision")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		decided, err := c.store.GetCheckpoint(req.ID)
		if err != nil {
			return "", "", err
		}
		if decided.Status == domain.CheckpointDecided {
			if err := c.store.SetRunStatus(runID, domain.StatusRunning); err != nil {
				return "", "", err
			}
			c.log.Info().
				Str("run_id", runID).
				Str("step", p.Step).
				Str("decision", string(decided.Decision)).
				Msg("checkpoint decided")
			return decided.Decision, decided.Feedback, nil
		}

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// InteractiveCoordinator prompts on the local terminal. Feedback for a
// revise decision is read line by line until a line holding a single dot.
type InteractiveCoordinator struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewInteractiveCoordinator reads decisions from in and writes prompts to out
func NewInteractiveCoordinator(in io.Reader, out io.Writer) *InteractiveCoordinator {
	return &InteractiveCoordinator{in: bufio.NewScanner(in), out: out}
}

// RequestDecision renders the payload and blocks on the prompt
func (c *InteractiveCoordinator) RequestDecision(ctx context.Context, runID, taskTitle string, p Payload) (domain.Decision, string, error) {
	fmt.Fprintln(c.out, Render(p))
	fmt.Fprintln(c.out, "Choose: (a)pprove | (r)evise | (x) reject")

	for {
		fmt.Fprint(c.out, "> ")
		line, err := c.readLine()
		if err != nil {
			return "", "", err
		}
		decision, err := domain.ParseDecision(line)
		if err != nil {
			fmt.Fprintln(c.out, "Please enter a, r or x")
			continue
		}
		if decision != domain.DecisionRevise {
			return decision, "", nil
		}

		fmt.Fprintln(c.out, "Enter revision feedback, finish with a single '.' line:")
		feedback, err := c.readMultiline()
		if err != nil {
			return "", "", err
		}
		if feedback == "" {
			fmt.Fprintln(c.out, "Revision feedback must not be empty")
			continue
		}
		return domain.DecisionRevise, feedback, nil
	}
}

func (c *InteractiveCoordinator) readLine() (string, error) {
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(c.in.Text()), nil
}

func (c *InteractiveCoordinator) readMultiline() (string, error) {
	var lines []string
	for {
		if !c.in.Scan() {
			if err := c.in.Err(); err != nil {
				return "", err
			}
			break
		}
		line := c.in.Text()
		if strings.TrimSpace(line) == "." {
			break
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
