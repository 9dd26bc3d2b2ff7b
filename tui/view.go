package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/levelup/internal/checkpoint"
	"github.com/hochfrequenz/levelup/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedSectionStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("205")).
				Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)
)

// View renders the dashboard
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" levelup │ Runs: %d │ Awaiting decision: %d ",
		len(m.runs), len(m.pending))
	if !m.lastRefresh.IsZero() {
		header += fmt.Sprintf("│ Refreshed: %s ", m.lastRefresh.Format("15:04:05"))
	}
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	leftWidth := (m.width - 4) * 2 / 5
	if leftWidth < 36 {
		leftWidth = 36
	}
	rightWidth := m.width - 4 - leftWidth
	if rightWidth < 24 {
		rightWidth = 24
	}

	left := m.paneStyle(paneRuns).Width(leftWidth).Render(m.renderRunList())
	right := m.paneStyle(paneCheckpoint).Width(rightWidth).Render(m.renderDetail())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	b.WriteString("\n")

	if m.feedbackMode {
		b.WriteString(warningStyle.Width(m.width).Render(" Revision feedback: " + m.feedbackInput + "█"))
		b.WriteString("\n")
	}

	if m.statusMsg != "" {
		style := queuedStyle
		if strings.HasPrefix(m.statusMsg, "Error") {
			style = warningStyle
		}
		b.WriteString(style.Width(m.width).Render(" " + m.statusMsg + " "))
		b.WriteString("\n")
	}

	b.WriteString(statusBarStyle.Width(m.width).Render(m.renderStatusBar()))

	return b.String()
}

func (m Model) paneStyle(p pane) lipgloss.Style {
	if m.activePane == p {
		return focusedSectionStyle
	}
	return sectionStyle
}

func (m Model) renderRunList() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RUNS"))
	b.WriteString("\n")

	if len(m.runs) == 0 {
		b.WriteString(queuedStyle.Render("  No runs found. Start one with 'levelup run'."))
		return b.String()
	}

	start := m.runScroll
	if start >= len(m.runs) {
		start = 0
	}
	end := start + maxVisibleRuns
	if end > len(m.runs) {
		end = len(m.runs)
	}

	for i := start; i < end; i++ {
		run := m.runs[i]
		waiting := m.pending[run.ID] != nil

		statusText := string(run.Status)
		style := statusStyle(run.Status)
		if waiting {
			statusText = "awaiting decision"
			style = warningStyle
		}

		line := fmt.Sprintf("  %s %-9s %-24s %s",
			statusIcon(run.Status, waiting),
			shortID(run.ID), truncate(run.TaskTitle, 24), statusText)

		if i == m.selectedRun {
			line = fmt.Sprintf("> %s", line[2:])
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(style.Render(line))
		}
		b.WriteString("\n")
	}

	if len(m.runs) > maxVisibleRuns {
		b.WriteString(queuedStyle.Render(fmt.Sprintf("  ... showing %d-%d of %d (j/k to scroll)",
			start+1, end, len(m.runs))))
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderDetail() string {
	run := m.currentRun()
	if run == nil {
		return titleStyle.Render("RUN") + "\n" +
			queuedStyle.Render("  Select a run on the left.")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("RUN " + shortID(run.ID)))
	b.WriteString("\n")

	fmt.Fprintf(&b, "  Task:     %s\n", truncate(run.TaskTitle, 60))
	b.WriteString("  Status:   " + statusStyle(run.Status).Render(string(run.Status)) + "\n")
	if run.CurrentStep != "" {
		fmt.Fprintf(&b, "  Step:     %s\n", run.CurrentStep)
	}
	fmt.Fprintf(&b, "  Project:  %s\n", truncate(run.ProjectPath, 50))
	fmt.Fprintf(&b, "  Started:  %s\n", humanize.Time(run.StartedAt))
	if run.InputTokens > 0 || run.OutputTokens > 0 {
		fmt.Fprintf(&b, "  Tokens:   %s in / %s out ($%.4f)\n",
			formatTokens(run.InputTokens), formatTokens(run.OutputTokens), run.TotalCostUSD)
	}
	if run.ErrorMessage != "" {
		b.WriteString(warningStyle.Render("  Error:    "+truncate(run.ErrorMessage, 60)) + "\n")
	}
	b.WriteString("\n")

	req := m.pending[run.ID]
	if req == nil {
		b.WriteString(queuedStyle.Render("  No checkpoint awaiting decision."))
		return b.String()
	}

	payload, err := checkpoint.DecodePayload(req.PayloadJSON)
	if err != nil {
		b.WriteString(warningStyle.Render("  Unreadable checkpoint payload: " + err.Error()))
		return b.String()
	}

	b.WriteString(m.renderPayload(checkpoint.Render(payload)))
	b.WriteString("\n")
	b.WriteString(queuedStyle.Render("  Waiting since " + humanize.Time(req.CreatedAt)))

	return b.String()
}

// renderPayload applies the scroll window to a rendered checkpoint payload
func (m Model) renderPayload(rendered string) string {
	lines := strings.Split(rendered, "\n")

	maxLines := 20
	if m.height > 20 {
		maxLines = m.height - 16
	}

	total := len(lines)
	scroll := m.payloadScroll
	if scroll > total-maxLines {
		scroll = total - maxLines
	}
	if scroll < 0 {
		scroll = 0
	}
	end := scroll + maxLines
	if end > total {
		end = total
	}

	var b strings.Builder
	if scroll > 0 {
		b.WriteString(queuedStyle.Render("  ↑ (more above)"))
		b.WriteString("\n")
	}
	for _, line := range lines[scroll:end] {
		b.WriteString("  " + line)
		b.WriteString("\n")
	}
	if end < total {
		b.WriteString(queuedStyle.Render(fmt.Sprintf("  ↓ (%d more below)", total-end)))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	if m.feedbackMode {
		return " [enter]submit feedback [esc]cancel "
	}
	if m.activePane == paneCheckpoint {
		return " [tab]runs [j/k]scroll [a]pprove [r]evise [x]reject [q]uit "
	}
	return " [tab]checkpoint [j/k]navigate [a]pprove [r]evise [x]reject [p]ause [q]uit "
}

func statusStyle(s domain.RunStatus) lipgloss.Style {
	switch s {
	case domain.StatusRunning:
		return runningStyle
	case domain.StatusWaitingForInput:
		return warningStyle
	case domain.StatusCompleted:
		return completedStyle
	case domain.StatusFailed:
		return failedStyle
	case domain.StatusAborted:
		return dimmedStyle
	default:
		return queuedStyle
	}
}

func statusIcon(s domain.RunStatus, waiting bool) string {
	if waiting {
		return "⚠"
	}
	switch s {
	case domain.StatusRunning:
		return "●"
	case domain.StatusWaitingForInput:
		return "⚠"
	case domain.StatusPaused:
		return "⏸"
	case domain.StatusCompleted:
		return "✓"
	case domain.StatusFailed, domain.StatusAborted:
		return "✗"
	default:
		return "○"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatTokens(n int) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	if n >= 1000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}
