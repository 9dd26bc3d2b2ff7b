package statestore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/levelup/internal/domain"
)

const ticketColumns = `id, project_path, number, title, description, status, created_at, updated_at`

// CreateTicket inserts a ticket, assigning the next free number for the
// project and filling in the generated fields
func (s *Store) CreateTicket(t *domain.Ticket) error {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if t.Number == 0 {
		var max sql.NullInt64
		if err := tx.QueryRow(
			`SELECT MAX(number) FROM tickets WHERE project_path = ?`, t.ProjectPath,
		).Scan(&max); err != nil {
			return err
		}
		t.Number = int(max.Int64) + 1
	}
	if t.Status == "" {
		t.Status = domain.TicketOpen
	}

	res, err := tx.Exec(`
		INSERT INTO tickets (project_path, number, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ProjectPath, t.Number, t.Title, t.Description, string(t.Status), now, now)
	if err != nil {
		return fmt.Errorf("create ticket #%d: %w", t.Number, err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	t.ID, _ = res.LastInsertId()
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

// GetTicket retrieves a ticket by project and number
func (s *Store) GetTicket(projectPath string, number int) (*domain.Ticket, error) {
	row := s.db.QueryRow(
		`SELECT `+ticketColumns+` FROM tickets WHERE project_path = ? AND number = ?`,
		projectPath, number)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket #%d: %w", number, ErrNotFound)
	}
	return t, err
}

// ListTickets returns a project's tickets by number. Completed tickets are
// included only when includeDone is set.
func (s *Store) ListTickets(projectPath string, includeDone bool) ([]*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE project_path = ?`
	args := []interface{}{projectPath}

	if !includeDone {
		query += " AND status != ?"
		args = append(args, string(domain.TicketDone))
	}
	query += " ORDER BY number ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// SetTicketStatus updates a ticket's lifecycle status
func (s *Store) SetTicketStatus(projectPath string, number int, status domain.TicketStatus) error {
	res, err := s.db.Exec(
		`UPDATE tickets SET status = ?, updated_at = ? WHERE project_path = ? AND number = ?`,
		string(status), time.Now().UTC(), projectPath, number)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticket #%d: %w", number, ErrNotFound)
	}
	return nil
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var t domain.Ticket
	var status string
	var description sql.NullString

	err := row.Scan(&t.ID, &t.ProjectPath, &t.Number, &t.Title, &description, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TicketStatus(status)
	t.Description = description.String
	return &t, nil
}
