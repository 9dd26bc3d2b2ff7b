package checkpoint

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	checkpointTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	criticalStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("196"))

	errorSevStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	warnSevStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	infoSevStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	passedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	mutedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

// Render formats a checkpoint payload for terminal display
func Render(p Payload) string {
	var b strings.Builder
	b.WriteString(checkpointTitleStyle.Render("Checkpoint: " + p.Step))
	b.WriteString("\n")

	switch {
	case p.Requirements != nil:
		for i, r := range p.Requirements {
			fmt.Fprintf(&b, "  %2d. %s\n", i+1, r)
		}

	case p.TestFiles != nil:
		b.WriteString("  Test files:\n")
		for _, f := range p.TestFiles {
			b.WriteString("  - " + f + "\n")
		}

	case p.Security != nil:
		if len(p.Security.Findings) == 0 {
			b.WriteString(passedStyle.Render("  No security findings.") + "\n")
		}
		for _, f := range p.Security.Findings {
			b.WriteString("  " + renderFinding(f.Severity, f.Description, f.File) + "\n")
		}
		fmt.Fprintf(&b, "  Patches applied: %d\n", p.Security.PatchesApplied)
		if p.Security.RequiresRework {
			b.WriteString(warnSevStyle.Render("  Coding rework required") + "\n")
		}

	case p.Review != nil:
		if len(p.Review.CodeFiles) > 0 {
			b.WriteString("  Implementation files:\n")
			for _, f := range p.Review.CodeFiles {
				b.WriteString("  - " + f + "\n")
			}
		}
		if tr := p.Review.TestResults; tr != nil {
			line := fmt.Sprintf("  Tests: %s, %s",
				passedStyle.Render(fmt.Sprintf("%d passed", tr.Passed)),
				failedStyle.Render(fmt.Sprintf("%d failed", tr.Failed)))
			b.WriteString(line + "\n")
		}
		if len(p.Review.Findings) == 0 {
			b.WriteString(passedStyle.Render("  No review findings.") + "\n")
		}
		for _, f := range p.Review.Findings {
			b.WriteString("  " + renderFinding(f.Severity, f.Description, f.File) + "\n")
		}

	default:
		b.WriteString(mutedStyle.Render("  "+p.Message) + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderFinding(severity, description, file string) string {
	label := severityStyle(severity).Render("[" + strings.ToUpper(severity) + "]")
	if file != "" {
		return fmt.Sprintf("%s %s (%s)", label, description, file)
	}
	return fmt.Sprintf("%s %s", label, description)
}

func severityStyle(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "critical":
		return criticalStyle
	case "error", "high":
		return errorSevStyle
	case "warning", "medium":
		return warnSevStyle
	default:
		return infoSevStyle
	}
}
