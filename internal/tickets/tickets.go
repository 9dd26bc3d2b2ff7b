// Package tickets parses legacy markdown ticket files. Projects that
// predate the shared store kept work items in levelup/tickets.md, one
// `## Title` heading per ticket with an optional status tag and an
// optional `<!--metadata ... -->` YAML block.
package tickets

import (
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/levelup/internal/domain"
)

// Parsed is one entry of a legacy ticket file.
type Parsed struct {
	Title       string
	Description string
	Status      domain.TicketStatus
	Metadata    map[string]interface{}
}

// Legacy status tags. The old format distinguished merged and declined
// tickets; both are closed states and map to done.
var statusTags = map[string]domain.TicketStatus{
	"in progress": domain.TicketInProgress,
	"done":        domain.TicketDone,
	"merged":      domain.TicketDone,
	"declined":    domain.TicketDone,
}

var statusTagPattern = regexp.MustCompile(`(?i)^\[(in progress|done|merged|declined)\]\s*`)

// DefaultFilePath returns the conventional location of the legacy file.
func DefaultFilePath(projectPath string) string {
	return filepath.Join(projectPath, "levelup", "tickets.md")
}

// Parse reads a legacy ticket file body. A `## ` heading starts a ticket
// and everything until the next heading is its description. Headings
// inside fenced code blocks do not start tickets. An untagged heading is
// an open ticket.
func Parse(text string) []Parsed {
	var (
		parsed     []Parsed
		cur        *Parsed
		descLines  []string
		metaLines  []string
		inCode     bool
		inMetadata bool
	)

	flush := func() {
		if cur != nil {
			cur.Description = strings.TrimSpace(strings.Join(descLines, "\n"))
			parsed = append(parsed, *cur)
		}
		cur = nil
		descLines = nil
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r")

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCode = !inCode
			if cur != nil && !inMetadata {
				descLines = append(descLines, line)
			}
			continue
		}
		if inCode {
			if cur != nil && !inMetadata {
				descLines = append(descLines, line)
			}
			continue
		}

		if cur != nil && strings.TrimSpace(line) == "<!--metadata" {
			inMetadata = true
			metaLines = nil
			continue
		}
		if inMetadata && strings.TrimSpace(line) == "-->" {
			inMetadata = false
			cur.Metadata = parseMetadata(metaLines)
			metaLines = nil
			continue
		}
		if inMetadata {
			metaLines = append(metaLines, line)
			continue
		}

		switch {
		case strings.HasPrefix(line, "## ") && !strings.HasPrefix(line, "### "):
			flush()
			heading := strings.TrimSpace(line[3:])
			status := domain.TicketOpen
			if m := statusTagPattern.FindStringSubmatch(heading); m != nil {
				status = statusTags[strings.ToLower(m[1])]
				heading = strings.TrimSpace(heading[len(m[0]):])
			}
			cur = &Parsed{Title: heading, Status: status}

		case strings.HasPrefix(line, "# ") && !strings.HasPrefix(line, "## "):
			// Document title. Inside a ticket it is part of the description.
			if cur != nil {
				descLines = append(descLines, line)
			}

		default:
			if cur != nil {
				descLines = append(descLines, line)
			}
		}
	}
	flush()

	return parsed
}

func parseMetadata(lines []string) map[string]interface{} {
	if len(lines) == 0 {
		return nil
	}
	var meta map[string]interface{}
	if err := yaml.Unmarshal([]byte(strings.Join(lines, "\n")), &meta); err != nil {
		return nil
	}
	return meta
}
