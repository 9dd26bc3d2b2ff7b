package tickets

import (
	"fmt"
	"os"

	"github.com/hochfrequenz/levelup/internal/domain"
)

// Store is the slice of the ticket store the importer needs.
type Store interface {
	CreateTicket(t *domain.Ticket) error
	ListTickets(projectPath string, includeDone bool) ([]*domain.Ticket, error)
}

// ImportFile loads a legacy markdown ticket file into the store. Entries
// whose title the project already has are skipped, so importing twice is
// a no-op. Returns how many tickets were imported and skipped.
func ImportFile(store Store, projectPath, path string) (imported, skipped int, err error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read ticket file: %w", err)
	}

	existing, err := store.ListTickets(projectPath, true)
	if err != nil {
		return 0, 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t.Title] = true
	}

	for _, p := range Parse(string(content)) {
		if seen[p.Title] {
			skipped++
			continue
		}
		t := &domain.Ticket{
			ProjectPath: projectPath,
			Title:       p.Title,
			Description: p.Description,
			Status:      p.Status,
		}
		if err := store.CreateTicket(t); err != nil {
			return imported, skipped, err
		}
		seen[p.Title] = true
		imported++
	}
	return imported, skipped, nil
}
