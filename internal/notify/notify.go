package notify

import (
	"errors"
	"fmt"
)

// NotificationType classifies a notification for rendering (colors, icons,
// urgency levels).
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification is one user-facing event. RunID and Step are optional
// references for sinks that can render them.
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string
	Step    string
}

// Notifier delivers a notification to one sink.
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier fans a notification out to every configured sink. One sink
// failing does not stop delivery to the others.
type MultiNotifier struct {
	sinks []Notifier
}

// NewMultiNotifier combines the given notifiers into one.
func NewMultiNotifier(sinks ...Notifier) *MultiNotifier {
	return &MultiNotifier{sinks: sinks}
}

// Send delivers to all sinks and joins their errors.
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier swallows everything. Used when notifications are disabled
// and in tests.
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// CheckpointWaiting announces that a run blocks on a human decision
func CheckpointWaiting(runID, step, taskTitle string) Notification {
	return Notification{
		Title:   fmt.Sprintf("Checkpoint: %s", step),
		Message: fmt.Sprintf("%s is waiting for your decision (%s)", taskTitle, shortID(runID)),
		Type:    NotifyWarning,
		RunID:   runID,
		Step:    step,
	}
}

// RunCompleted announces a successful pipeline run
func RunCompleted(runID, taskTitle string, costUSD float64) Notification {
	return Notification{
		Title:   "Run completed",
		Message: fmt.Sprintf("%s finished ($%.2f, %s)", taskTitle, costUSD, shortID(runID)),
		Type:    NotifySuccess,
		RunID:   runID,
	}
}

// RunFailed announces a failed or aborted pipeline run
func RunFailed(runID, taskTitle, reason string) Notification {
	return Notification{
		Title:   "Run failed",
		Message: fmt.Sprintf("%s: %s (%s)", taskTitle, reason, shortID(runID)),
		Type:    NotifyError,
		RunID:   runID,
	}
}

func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}
