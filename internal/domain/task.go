package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	SourceManual = "manual"
	SourceTicket = "ticket"
)

var ticketSourceRegex = regexp.MustCompile(`^ticket:(\d+)$`)

// TaskInput describes the work a run was started for
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	SourceID    string `json:"source_id,omitempty"`
}

// ManualTask builds the input for an operator-provided task
func ManualTask(title, description string) TaskInput {
	return TaskInput{Title: title, Description: description, Source: SourceManual}
}

// TicketTask builds the input for a run started from local ticket t
func TicketTask(t Ticket) TaskInput {
	return TaskInput{
		Title:       t.Title,
		Description: t.Description,
		Source:      SourceTicket,
		SourceID:    TicketSourceID(t.Number),
	}
}

// TicketSourceID formats the source identifier for ticket number n
func TicketSourceID(n int) string {
	return fmt.Sprintf("ticket:%d", n)
}

// TicketNumber extracts the ticket number from the source identifier.
// The second return is false for manual runs.
func (t TaskInput) TicketNumber() (int, bool) {
	matches := ticketSourceRegex.FindStringSubmatch(t.SourceID)
	if matches == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(matches[1]) // regex guarantees digits
	return n, true
}
