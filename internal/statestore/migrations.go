package statestore

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrSchemaTooNew means the database was written by a newer binary.
// Opening such a store is a fatal configuration error, not something
// to silently downgrade.
var ErrSchemaTooNew = errors.New("database schema is newer than this binary supports")

// migration is one ordered schema change. Each runs exactly once inside its
// own transaction; the schema_version row advances with it.
type migration struct {
	version int
	desc    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		desc:    "runs and checkpoint requests",
		sql: `
CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    task_title TEXT NOT NULL,
    task_description TEXT,
    source TEXT NOT NULL DEFAULT 'manual',
    source_id TEXT,
    project_path TEXT NOT NULL,
    language TEXT,
    framework TEXT,
    test_command TEXT,
    status TEXT NOT NULL,
    current_step TEXT,
    error_message TEXT,
    pid INTEGER,
    context_json TEXT,
    branch_pattern TEXT,
    started_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX idx_runs_status ON runs(status);
CREATE INDEX idx_runs_project ON runs(project_path);

CREATE TABLE checkpoint_requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    step_name TEXT NOT NULL,
    payload_json TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    decision TEXT,
    feedback TEXT,
    created_at TIMESTAMP NOT NULL,
    decided_at TIMESTAMP
);

CREATE INDEX idx_checkpoints_run ON checkpoint_requests(run_id);
CREATE INDEX idx_checkpoints_status ON checkpoint_requests(status);
CREATE UNIQUE INDEX idx_checkpoints_one_pending
    ON checkpoint_requests(run_id, step_name) WHERE status = 'pending';
`,
	},
	{
		version: 2,
		desc:    "ticket linkage, usage totals and pause flag",
		sql: `
ALTER TABLE runs ADD COLUMN ticket_number INTEGER;
ALTER TABLE runs ADD COLUMN total_cost_usd REAL NOT NULL DEFAULT 0;
ALTER TABLE runs ADD COLUMN input_tokens INTEGER NOT NULL DEFAULT 0;
ALTER TABLE runs ADD COLUMN output_tokens INTEGER NOT NULL DEFAULT 0;
ALTER TABLE runs ADD COLUMN pause_requested INTEGER NOT NULL DEFAULT 0;

CREATE INDEX idx_runs_ticket ON runs(project_path, ticket_number);
`,
	},
	{
		version: 3,
		desc:    "local tickets",
		sql: `
CREATE TABLE tickets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_path TEXT NOT NULL,
    number INTEGER NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'open',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE(project_path, number)
);
`,
	},
}

// schemaVersion is what this binary writes and expects at most
func schemaVersion() int {
	return migrations[len(migrations)-1].version
}

// migrate brings the database up to the current schema version. It is safe
// to call from many processes; SQLite's write lock serializes them and the
// version check makes re-application a no-op.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema_version: %w", err)
	}

	if version > schemaVersion() {
		return fmt.Errorf("%w: database at version %d, binary supports up to %d",
			ErrSchemaTooNew, version, schemaVersion())
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.desc, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("advance schema_version to %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		version = m.version
	}

	return nil
}
