package statestore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/levelup/internal/domain"
)

var (
	// ErrDuplicatePending means a pending checkpoint already exists for the
	// same run and step. This is a programming error in the caller, not a
	// user-facing condition.
	ErrDuplicatePending = errors.New("pending checkpoint request already exists")
	// ErrAlreadyDecided means the checkpoint was decided before; decisions
	// are immutable
	ErrAlreadyDecided = errors.New("checkpoint request already decided")
	// ErrFeedbackRequired means a revise decision arrived without feedback
	ErrFeedbackRequired = errors.New("revise decision requires feedback")
)

const checkpointColumns = `id, run_id, step_name, payload_json, status, decision, feedback, created_at, decided_at`

// CreateCheckpoint inserts a pending checkpoint request and fills in the
// generated id and timestamps. At most one pending request may exist per
// (run, step).
func (s *Store) CreateCheckpoint(req *domain.CheckpointRequest) error {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRow(
		`SELECT id FROM checkpoint_requests WHERE run_id = ? AND step_name = ? AND status = ?`,
		req.RunID, req.StepName, string(domain.CheckpointPending),
	).Scan(&existing)
	if err == nil {
		return fmt.Errorf("%w: run %s step %s (request %d)", ErrDuplicatePending, req.RunID, req.StepName, existing)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	res, err := tx.Exec(`
		INSERT INTO checkpoint_requests (run_id, step_name, payload_json, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, req.RunID, req.StepName, req.PayloadJSON, string(domain.CheckpointPending), now)
	if err != nil {
		return fmt.Errorf("create checkpoint for run %s step %s: %w", req.RunID, req.StepName, err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	req.ID, _ = res.LastInsertId()
	req.Status = domain.CheckpointPending
	req.CreatedAt = now
	return nil
}

// GetCheckpoint retrieves a checkpoint request by id
func (s *Store) GetCheckpoint(id int64) (*domain.CheckpointRequest, error) {
	row := s.db.QueryRow(`SELECT `+checkpointColumns+` FROM checkpoint_requests WHERE id = ?`, id)
	req, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %d: %w", id, ErrNotFound)
	}
	return req, err
}

// PendingCheckpoints returns all pending requests, oldest first. An empty
// runID returns pending requests across every run.
func (s *Store) PendingCheckpoints(runID string) ([]*domain.CheckpointRequest, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoint_requests WHERE status = ?`
	args := []interface{}{string(domain.CheckpointPending)}

	if runID != "" {
		query += " AND run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*domain.CheckpointRequest
	for rows.Next() {
		req, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// GetDecision returns the most recent decided request for a run and step,
// or nil while the decision is still outstanding. This is the read side of
// the cross-process checkpoint round-trip: the waiting engine polls it.
func (s *Store) GetDecision(runID, stepName string) (*domain.CheckpointRequest, error) {
	row := s.db.QueryRow(`
		SELECT `+checkpointColumns+` FROM checkpoint_requests
		WHERE run_id = ? AND step_name = ? AND status = ?
		ORDER BY decided_at DESC, id DESC LIMIT 1
	`, runID, stepName, string(domain.CheckpointDecided))
	req, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

// SubmitDecision records a human decision on a pending checkpoint request.
// Decided requests are immutable; feedback is mandatory for revise and
// preserved verbatim.
func (s *Store) SubmitDecision(id int64, decision domain.Decision, feedback string) error {
	switch decision {
	case domain.DecisionApprove, domain.DecisionRevise, domain.DecisionReject:
	default:
		return fmt.Errorf("invalid decision %q", decision)
	}
	if decision == domain.DecisionRevise && feedback == "" {
		return ErrFeedbackRequired
	}

	res, err := s.db.Exec(`
		UPDATE checkpoint_requests
		SET status = ?, decision = ?, feedback = ?, decided_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.CheckpointDecided), string(decision), feedback, time.Now().UTC(),
		id, string(domain.CheckpointPending))
	if err != nil {
		return fmt.Errorf("submit decision for checkpoint %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetCheckpoint(id); err != nil {
			return err
		}
		return fmt.Errorf("checkpoint %d: %w", id, ErrAlreadyDecided)
	}
	return nil
}

func scanCheckpoint(row rowScanner) (*domain.CheckpointRequest, error) {
	var req domain.CheckpointRequest
	var status string
	var payload, decision, feedback sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(
		&req.ID,
		&req.RunID,
		&req.StepName,
		&payload,
		&status,
		&decision,
		&feedback,
		&req.CreatedAt,
		&decidedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = domain.CheckpointStatus(status)
	req.PayloadJSON = payload.String
	req.Decision = domain.Decision(decision.String)
	req.Feedback = feedback.String
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}

	return &req, nil
}
