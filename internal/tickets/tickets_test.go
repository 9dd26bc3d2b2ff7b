package tickets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/levelup/internal/domain"
)

func TestParseHeadingsAndStatus(t *testing.T) {
	content := `# Project Tickets

## Add CSV export

Users want to download their data.

## [in progress] Fix login timeout

## [DONE] Update dependencies

## [merged] Add dark mode

## [declined] Rewrite in Rust
`
	parsed := Parse(content)
	if len(parsed) != 5 {
		t.Fatalf("parsed %d tickets, want 5", len(parsed))
	}

	want := []struct {
		title  string
		status domain.TicketStatus
	}{
		{"Add CSV export", domain.TicketOpen},
		{"Fix login timeout", domain.TicketInProgress},
		{"Update dependencies", domain.TicketDone},
		{"Add dark mode", domain.TicketDone},
		{"Rewrite in Rust", domain.TicketDone},
	}
	for i, w := range want {
		if parsed[i].Title != w.title {
			t.Errorf("ticket[%d] title = %q, want %q", i, parsed[i].Title, w.title)
		}
		if parsed[i].Status != w.status {
			t.Errorf("ticket[%d] status = %s, want %s", i, parsed[i].Status, w.status)
		}
	}
	if parsed[0].Description != "Users want to download their data." {
		t.Errorf("description = %q", parsed[0].Description)
	}
	if parsed[1].Description != "" {
		t.Errorf("empty ticket description = %q", parsed[1].Description)
	}
}

func TestParseCodeBlockHeadingsIgnored(t *testing.T) {
	content := "## Add API docs\n\nExample:\n\n```markdown\n## This is not a ticket\n```\n\nEnd of description.\n"
	parsed := Parse(content)
	if len(parsed) != 1 {
		t.Fatalf("parsed %d tickets, want 1", len(parsed))
	}
	desc := parsed[0].Description
	for _, part := range []string{"```markdown", "## This is not a ticket", "End of description."} {
		if !strings.Contains(desc, part) {
			t.Errorf("description missing %q:\n%s", part, desc)
		}
	}
}

func TestParseMetadataBlock(t *testing.T) {
	content := `## Tune cache sizes

<!--metadata
model: claude-sonnet-4-5
effort: high
-->

Increase the hot cache.
`
	parsed := Parse(content)
	if len(parsed) != 1 {
		t.Fatalf("parsed %d tickets, want 1", len(parsed))
	}
	if parsed[0].Metadata["model"] != "claude-sonnet-4-5" {
		t.Errorf("metadata = %v, want model key", parsed[0].Metadata)
	}
	if strings.Contains(parsed[0].Description, "metadata") {
		t.Errorf("metadata leaked into description: %q", parsed[0].Description)
	}
	if parsed[0].Description != "Increase the hot cache." {
		t.Errorf("description = %q", parsed[0].Description)
	}
}

func TestParseMalformedMetadataIgnored(t *testing.T) {
	content := "## Broken meta\n\n<!--metadata\n[not yaml\n-->\n\nStill a ticket.\n"
	parsed := Parse(content)
	if len(parsed) != 1 {
		t.Fatalf("parsed %d tickets, want 1", len(parsed))
	}
	if parsed[0].Metadata != nil {
		t.Errorf("metadata = %v, want nil for malformed YAML", parsed[0].Metadata)
	}
	if parsed[0].Description != "Still a ticket." {
		t.Errorf("description = %q", parsed[0].Description)
	}
}

func TestParseSubheadingsStayInDescription(t *testing.T) {
	content := "## Refactor billing\n\n### Acceptance\n\n- invoices unchanged\n"
	parsed := Parse(content)
	if len(parsed) != 1 {
		t.Fatalf("parsed %d tickets, want 1", len(parsed))
	}
	if !strings.Contains(parsed[0].Description, "### Acceptance") {
		t.Errorf("subheading lost: %q", parsed[0].Description)
	}
}

func TestParseEmpty(t *testing.T) {
	if got := Parse(""); len(got) != 0 {
		t.Errorf("Parse(\"\") = %v, want none", got)
	}
	if got := Parse("# Just a title\n\nprose without headings\n"); len(got) != 0 {
		t.Errorf("parsed %v from ticket-free file, want none", got)
	}
}

type mockTicketStore struct {
	created []*domain.Ticket
	listed  []*domain.Ticket
}

func (m *mockTicketStore) CreateTicket(t *domain.Ticket) error {
	t.Number = len(m.created) + len(m.listed) + 1
	m.created = append(m.created, t)
	return nil
}

func (m *mockTicketStore) ListTickets(projectPath string, includeDone bool) ([]*domain.Ticket, error) {
	return m.listed, nil
}

func TestImportFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickets.md")
	content := "## Add CSV export\n\nDetails here.\n\n## [done] Old work\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	store := &mockTicketStore{}
	imported, skipped, err := ImportFile(store, dir, path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if imported != 2 || skipped != 0 {
		t.Fatalf("imported=%d skipped=%d, want 2/0", imported, skipped)
	}
	if store.created[0].ProjectPath != dir || store.created[0].Title != "Add CSV export" {
		t.Errorf("created[0] = %+v", store.created[0])
	}
	if store.created[1].Status != domain.TicketDone {
		t.Errorf("created[1] status = %s, want done", store.created[1].Status)
	}
}

func TestImportFileSkipsExistingTitles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickets.md")
	if err := os.WriteFile(path, []byte("## Add CSV export\n\n## New idea\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := &mockTicketStore{
		listed: []*domain.Ticket{{Number: 1, Title: "Add CSV export"}},
	}
	imported, skipped, err := ImportFile(store, dir, path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if imported != 1 || skipped != 1 {
		t.Errorf("imported=%d skipped=%d, want 1/1", imported, skipped)
	}
	if len(store.created) != 1 || store.created[0].Title != "New idea" {
		t.Errorf("created = %+v", store.created)
	}
}

func TestImportFileMissing(t *testing.T) {
	store := &mockTicketStore{}
	_, _, err := ImportFile(store, t.TempDir(), filepath.Join(t.TempDir(), "absent.md"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultFilePath(t *testing.T) {
	got := DefaultFilePath("/work/proj")
	want := filepath.Join("/work/proj", "levelup", "tickets.md")
	if got != want {
		t.Errorf("DefaultFilePath = %q, want %q", got, want)
	}
}
