package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/statestore"
)

// RefreshMsg carries a fresh snapshot of runs and their pending checkpoints
type RefreshMsg struct {
	Runs    []*domain.Run
	Pending map[string]*domain.CheckpointRequest
	At      time.Time
	Err     error
}

// DecisionMsg reports the outcome of a submitted checkpoint decision
type DecisionMsg struct {
	RunID    string
	Decision domain.Decision
	Err      error
}

// PauseMsg reports the outcome of a pause request
type PauseMsg struct {
	RunID string
	Err   error
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.feedbackMode {
			return m.updateFeedback(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			if m.activePane == paneRuns {
				m.activePane = paneCheckpoint
			} else {
				m.activePane = paneRuns
			}
			m.payloadScroll = 0
		case "j", "down":
			if m.activePane == paneCheckpoint {
				m.payloadScroll++
			} else if m.selectedRun < len(m.runs)-1 {
				m.selectedRun++
				m.payloadScroll = 0
				m.clampScroll()
			}
		case "k", "up":
			if m.activePane == paneCheckpoint {
				if m.payloadScroll > 0 {
					m.payloadScroll--
				}
			} else if m.selectedRun > 0 {
				m.selectedRun--
				m.payloadScroll = 0
				m.clampScroll()
			}
		case "a":
			if req := m.currentCheckpoint(); req != nil {
				m.statusMsg = ""
				return m, submitDecision(m.store, req, domain.DecisionApprove, "")
			}
			m.statusMsg = "No checkpoint awaiting decision"
		case "x":
			if req := m.currentCheckpoint(); req != nil {
				m.statusMsg = ""
				return m, submitDecision(m.store, req, domain.DecisionReject, "")
			}
			m.statusMsg = "No checkpoint awaiting decision"
		case "r":
			if m.currentCheckpoint() != nil {
				m.feedbackMode = true
				m.feedbackInput = ""
				m.statusMsg = ""
			} else {
				m.statusMsg = "No checkpoint awaiting decision"
			}
		case "p":
			if run := m.currentRun(); run != nil {
				return m, requestPause(m.store, run.ID)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(refreshData(m.store), tickCmd())

	case RefreshMsg:
		if msg.Err != nil {
			m.statusMsg = "Error: refresh failed: " + msg.Err.Error()
			return m, nil
		}
		selectedID := ""
		if run := m.currentRun(); run != nil {
			selectedID = run.ID
		}
		m.runs = msg.Runs
		m.pending = msg.Pending
		m.lastRefresh = msg.At
		m.relocateSelection(selectedID)
		return m, nil

	case DecisionMsg:
		if msg.Err != nil {
			m.statusMsg = "Error: decision failed: " + msg.Err.Error()
			return m, nil
		}
		m.statusMsg = fmt.Sprintf("Recorded %s for run %s", msg.Decision, shortID(msg.RunID))
		return m, refreshData(m.store)

	case PauseMsg:
		if msg.Err != nil {
			m.statusMsg = "Error: pause failed: " + msg.Err.Error()
			return m, nil
		}
		m.statusMsg = fmt.Sprintf("Pause requested for run %s", shortID(msg.RunID))
		return m, refreshData(m.store)
	}

	return m, nil
}

// updateFeedback handles keys while the revision feedback line is open. All
// printable input lands in the feedback buffer, so the single-letter
// shortcuts are inert here.
func (m Model) updateFeedback(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.feedbackMode = false
		m.feedbackInput = ""
	case tea.KeyEnter:
		feedback := strings.TrimSpace(m.feedbackInput)
		if feedback == "" {
			m.statusMsg = "Revision feedback must not be empty"
			return m, nil
		}
		req := m.currentCheckpoint()
		if req == nil {
			m.feedbackMode = false
			m.feedbackInput = ""
			m.statusMsg = "Checkpoint already decided elsewhere"
			return m, refreshData(m.store)
		}
		m.feedbackMode = false
		m.feedbackInput = ""
		return m, submitDecision(m.store, req, domain.DecisionRevise, feedback)
	case tea.KeyBackspace:
		if runes := []rune(m.feedbackInput); len(runes) > 0 {
			m.feedbackInput = string(runes[:len(runes)-1])
		}
	case tea.KeyRunes, tea.KeySpace:
		m.feedbackInput += string(msg.Runes)
	}
	return m, nil
}

// refreshData loads runs and pending checkpoints from the store
func refreshData(store Store) tea.Cmd {
	return func() tea.Msg {
		runs, err := store.ListRuns(statestore.ListOptions{})
		if err != nil {
			return RefreshMsg{Err: err}
		}
		reqs, err := store.PendingCheckpoints("")
		if err != nil {
			return RefreshMsg{Err: err}
		}
		// The store allows at most one pending checkpoint per run.
		pending := make(map[string]*domain.CheckpointRequest, len(reqs))
		for _, req := range reqs {
			pending[req.RunID] = req
		}
		return RefreshMsg{Runs: runs, Pending: pending, At: time.Now()}
	}
}

// submitDecision records a decision for one checkpoint request
func submitDecision(store Store, req *domain.CheckpointRequest, decision domain.Decision, feedback string) tea.Cmd {
	return func() tea.Msg {
		err := store.SubmitDecision(req.ID, decision, feedback)
		return DecisionMsg{RunID: req.RunID, Decision: decision, Err: err}
	}
}

// requestPause flags a run to stop before its next step
func requestPause(store Store, runID string) tea.Cmd {
	return func() tea.Msg {
		return PauseMsg{RunID: runID, Err: store.RequestPause(runID)}
	}
}
