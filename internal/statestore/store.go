// Package statestore persists runs, checkpoint requests and tickets in a
// single SQLite file shared by every levelup process. Connections are opened
// in WAL mode with a bounded lock wait so many short-lived writers can
// coexist; every mutation is one short transaction.
package statestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/levelup/internal/domain"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound means the requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrActiveRunExists means the ticket already has a pending, running or
	// waiting run and a second one may not be registered
	ErrActiveRunExists = errors.New("an active run already exists for this ticket")
)

// Store provides SQLite-backed run persistence
type Store struct {
	db   *sql.DB
	path string
}

// New opens (and if needed creates and migrates) the store at dbPath.
// ":memory:" is supported for tests.
func New(dbPath string) (*Store, error) {
	var db *sql.DB
	var err error

	if dbPath == ":memory:" {
		db, err = sql.Open("sqlite", ":memory:")
		if err != nil {
			return nil, err
		}
		// A pooled second connection would see a different empty database.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		// Pragmas go in the DSN so every pooled connection gets them.
		dsn := "file:" + dbPath + "?_txlock=immediate" +
			"&_pragma=busy_timeout(5000)" +
			"&_pragma=journal_mode(WAL)" +
			"&_pragma=foreign_keys(1)"
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: dbPath}, nil
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const runColumns = `id, task_title, task_description, source, source_id, ticket_number,
	project_path, language, framework, test_command, status, current_step,
	error_message, pid, context_json, branch_pattern, pause_requested,
	total_cost_usd, input_tokens, output_tokens, started_at, updated_at`

// RegisterRun inserts a run record, or replaces it when the run id already
// exists (a resume re-registers under the resuming process's pid). For runs
// carrying a ticket number the one-active-run-per-ticket guard is enforced
// here, before any workspace or agent work can start.
func (s *Store) RegisterRun(run *domain.Run) error {
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if run.TicketNumber != nil {
		placeholders, args := activeStatusArgs()
		args = append([]interface{}{run.ProjectPath, *run.TicketNumber, run.ID}, args...)
		var existing string
		err := tx.QueryRow(fmt.Sprintf(
			`SELECT id FROM runs WHERE project_path = ? AND ticket_number = ? AND id != ? AND status IN (%s)`,
			placeholders), args...).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%w: ticket %d is held by run %s", ErrActiveRunExists, *run.TicketNumber, existing)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	_, err = tx.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_step = excluded.current_step,
			error_message = excluded.error_message,
			pid = excluded.pid,
			context_json = excluded.context_json,
			pause_requested = excluded.pause_requested,
			updated_at = excluded.updated_at
	`,
		run.ID,
		run.TaskTitle,
		run.TaskDescription,
		run.Source,
		run.SourceID,
		run.TicketNumber,
		run.ProjectPath,
		run.Language,
		run.Framework,
		run.TestCommand,
		string(run.Status),
		run.CurrentStep,
		run.ErrorMessage,
		run.PID,
		run.ContextJSON,
		run.BranchPattern,
		run.PauseRequested,
		run.TotalCostUSD,
		run.InputTokens,
		run.OutputTokens,
		run.StartedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("register run %s: %w", run.ID, err)
	}

	return tx.Commit()
}

// UpdateRun persists the mutable fields of a run after a step or a
// checkpoint decision
func (s *Store) UpdateRun(run *domain.Run) error {
	run.UpdatedAt = time.Now().UTC()

	res, err := s.db.Exec(`
		UPDATE runs SET
			status = ?, current_step = ?, error_message = ?, context_json = ?,
			language = ?, framework = ?, test_command = ?,
			total_cost_usd = ?, input_tokens = ?, output_tokens = ?,
			updated_at = ?
		WHERE id = ?
	`,
		string(run.Status),
		run.CurrentStep,
		run.ErrorMessage,
		run.ContextJSON,
		run.Language,
		run.Framework,
		run.TestCommand,
		run.TotalCostUSD,
		run.InputTokens,
		run.OutputTokens,
		run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// SetRunStatus updates just the lifecycle status of a run
func (s *Store) SetRunStatus(id string, status domain.RunStatus) error {
	res, err := s.db.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by id
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Status domain.RunStatus
	Limit  int
}

// ListRuns returns runs matching the given options, most recently
// updated first. The default limit is 50.
func (s *Store) ListRuns(opts ListOptions) ([]*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its checkpoint requests. Runs are never
// deleted automatically; this backs the explicit forget command.
func (s *Store) DeleteRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM checkpoint_requests WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete checkpoints for %s: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// ActiveRunForTicket returns the pending, running or waiting run holding the
// given ticket, or nil when the ticket is free
func (s *Store) ActiveRunForTicket(projectPath string, ticket int) (*domain.Run, error) {
	placeholders, statusArgs := activeStatusArgs()
	args := append([]interface{}{projectPath, ticket}, statusArgs...)

	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT `+runColumns+` FROM runs
		 WHERE project_path = ? AND ticket_number = ? AND status IN (%s)
		 ORDER BY started_at DESC LIMIT 1`, placeholders), args...)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// RequestPause sets the cooperative pause flag; the engine honors it at the
// next step boundary
func (s *Store) RequestPause(id string) error {
	res, err := s.db.Exec(`UPDATE runs SET pause_requested = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// PauseRequested reports whether a pause has been requested for the run
func (s *Store) PauseRequested(id string) (bool, error) {
	var flag bool
	err := s.db.QueryRow(`SELECT pause_requested FROM runs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return flag, err
}

// ClearPause resets the pause flag
func (s *Store) ClearPause(id string) error {
	_, err := s.db.Exec(`UPDATE runs SET pause_requested = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

// activeStatusArgs builds the placeholder list and arguments for queries
// filtering on the non-terminal statuses
func activeStatusArgs() (string, []interface{}) {
	statuses := domain.ActiveStatuses()
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return strings.Join(placeholders, ", "), args
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	var taskDescription, sourceID, language, framework, testCommand sql.NullString
	var currentStep, errorMessage, contextJSON, branchPattern sql.NullString
	var ticketNumber sql.NullInt64
	var pid sql.NullInt64

	err := row.Scan(
		&run.ID,
		&run.TaskTitle,
		&taskDescription,
		&run.Source,
		&sourceID,
		&ticketNumber,
		&run.ProjectPath,
		&language,
		&framework,
		&testCommand,
		&status,
		&currentStep,
		&errorMessage,
		&pid,
		&contextJSON,
		&branchPattern,
		&run.PauseRequested,
		&run.TotalCostUSD,
		&run.InputTokens,
		&run.OutputTokens,
		&run.StartedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.TaskDescription = taskDescription.String
	run.SourceID = sourceID.String
	run.Language = language.String
	run.Framework = framework.String
	run.TestCommand = testCommand.String
	run.CurrentStep = currentStep.String
	run.ErrorMessage = errorMessage.String
	run.ContextJSON = contextJSON.String
	run.BranchPattern = branchPattern.String
	if ticketNumber.Valid {
		n := int(ticketNumber.Int64)
		run.TicketNumber = &n
	}
	if pid.Valid {
		run.PID = int(pid.Int64)
	}

	return &run, nil
}
