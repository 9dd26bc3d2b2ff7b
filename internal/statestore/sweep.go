package statestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/hochfrequenz/levelup/internal/domain"
)

// deadRunMessage is recorded on runs reclaimed by the sweep
const deadRunMessage = "process died"

// MarkDeadRuns reclassifies pending, running and waiting runs whose owning
// process is no longer alive as failed. Any process holding the store may
// perform the sweep; it returns the ids of the runs it reclaimed.
func (s *Store) MarkDeadRuns() ([]string, error) {
	placeholders, args := activeStatusArgs()

	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT id, pid FROM runs WHERE status IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}

	var dead []string
	for rows.Next() {
		var id string
		var pid sql.NullInt64
		if err := rows.Scan(&id, &pid); err != nil {
			rows.Close()
			return nil, err
		}
		// Runs that never recorded a pid are left alone.
		if pid.Valid && pid.Int64 > 0 && !processAlive(int(pid.Int64)) {
			dead = append(dead, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now().UTC()
	for _, id := range dead {
		// Re-check the status so a run that finished between the scan and
		// this write is not clobbered.
		updateArgs := append([]interface{}{
			string(domain.StatusFailed), deadRunMessage, now, id,
		}, args...)
		if _, err := s.db.Exec(fmt.Sprintf(
			`UPDATE runs SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status IN (%s)`,
			placeholders), updateArgs...); err != nil {
			return dead, fmt.Errorf("mark run %s dead: %w", id, err)
		}
	}

	return dead, nil
}

// processAlive probes a pid with signal 0. EPERM still means the process
// exists, just owned by someone else.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
