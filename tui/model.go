// Package tui implements the levelup approve dashboard: a two-pane terminal
// UI with the run list on the left and the selected run's pending checkpoint
// on the right. Decisions entered here go through the same store operations
// as the CLI and the web API.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/statestore"
)

// Store is the subset of run-store operations the dashboard needs.
type Store interface {
	ListRuns(opts statestore.ListOptions) ([]*domain.Run, error)
	PendingCheckpoints(runID string) ([]*domain.CheckpointRequest, error)
	SubmitDecision(id int64, decision domain.Decision, feedback string) error
	RequestPause(id string) error
}

// pane identifies which half of the dashboard has key focus
type pane int

const (
	paneRuns pane = iota
	paneCheckpoint
)

const maxVisibleRuns = 12

// Model is the TUI application model
type Model struct {
	store Store

	// Data
	runs    []*domain.Run
	pending map[string]*domain.CheckpointRequest

	// UI state
	width         int
	height        int
	activePane    pane
	selectedRun   int
	runScroll     int
	payloadScroll int
	feedbackMode  bool
	feedbackInput string
	statusMsg     string

	// Refresh
	lastRefresh time.Time
}

// NewModel creates a dashboard model backed by the given store
func NewModel(store Store) Model {
	return Model{
		store:   store,
		pending: map[string]*domain.CheckpointRequest{},
	}
}

// Init loads the first snapshot and starts the refresh ticker
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		refreshData(m.store),
		tickCmd(),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// currentRun returns the selected run, or nil when the list is empty
func (m Model) currentRun() *domain.Run {
	if m.selectedRun < 0 || m.selectedRun >= len(m.runs) {
		return nil
	}
	return m.runs[m.selectedRun]
}

// currentCheckpoint returns the pending checkpoint of the selected run, if any
func (m Model) currentCheckpoint() *domain.CheckpointRequest {
	run := m.currentRun()
	if run == nil {
		return nil
	}
	return m.pending[run.ID]
}

func (m *Model) clampScroll() {
	if m.selectedRun < m.runScroll {
		m.runScroll = m.selectedRun
	}
	if m.selectedRun >= m.runScroll+maxVisibleRuns {
		m.runScroll = m.selectedRun - maxVisibleRuns + 1
	}
}

// relocateSelection keeps the same run selected after a refresh reorders the
// list, falling back to a clamped index when the run is gone.
func (m *Model) relocateSelection(id string) {
	if id != "" {
		for i, run := range m.runs {
			if run.ID == id {
				m.selectedRun = i
				m.clampScroll()
				return
			}
		}
	}
	if m.selectedRun >= len(m.runs) {
		m.selectedRun = len(m.runs) - 1
	}
	if m.selectedRun < 0 {
		m.selectedRun = 0
	}
	m.clampScroll()
}
