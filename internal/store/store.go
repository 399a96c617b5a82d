// Package store persists run records in a local SQLite database so runs
// can be listed and their artifacts located after the process exits.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// RunRecord is one persisted run.
type RunRecord struct {
	ID                string     `db:"id" json:"id"`
	Question          string     `db:"question" json:"question"`
	Status            string     `db:"status" json:"status"`
	TerminationReason string     `db:"termination_reason" json:"termination_reason,omitempty"`
	ReportMarkdown    string     `db:"report_markdown" json:"report_markdown,omitempty"`
	ReportJSON        string     `db:"report_json" json:"report_json,omitempty"`
	InteractionLog    string     `db:"interaction_log" json:"interaction_log,omitempty"`
	Error             string     `db:"error" json:"error,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// RunStore wraps the SQLite database.
type RunStore struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	question           TEXT NOT NULL,
	status             TEXT NOT NULL,
	termination_reason TEXT NOT NULL DEFAULT '',
	report_markdown    TEXT NOT NULL DEFAULT '',
	report_json        TEXT NOT NULL DEFAULT '',
	interaction_log    TEXT NOT NULL DEFAULT '',
	error              TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL,
	completed_at       TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Open initializes the database at path.
func Open(path string) (*RunStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Close releases the database handle.
func (s *RunStore) Close() error { return s.db.Close() }

// CreateRun inserts a new run in running state.
func (s *RunStore) CreateRun(id, question, interactionLog string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, question, status, interaction_log, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, question, StatusRunning, interactionLog, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}
	return nil
}

// MarkCompleted records a successful run and its artifact paths.
func (s *RunStore) MarkCompleted(id, terminationReason, reportMarkdown, reportJSON string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, termination_reason = ?, report_markdown = ?, report_json = ?, completed_at = ? WHERE id = ?`,
		StatusCompleted, terminationReason, reportMarkdown, reportJSON, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark run completed: %w", err)
	}
	return checkAffected(res)
}

// MarkFailed records a failed run and the triggering error.
func (s *RunStore) MarkFailed(id, errMsg string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		StatusFailed, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return checkAffected(res)
}

// GetRun fetches one run.
func (s *RunStore) GetRun(id string) (*RunRecord, error) {
	var rec RunRecord
	if err := s.db.Get(&rec, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch run: %w", err)
	}
	return &rec, nil
}

// ListRuns returns all runs, newest first.
func (s *RunStore) ListRuns() ([]RunRecord, error) {
	var recs []RunRecord
	if err := s.db.Select(&recs, `SELECT * FROM runs ORDER BY created_at DESC`); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return recs, nil
}

// DeleteRun evicts a run record.
func (s *RunStore) DeleteRun(id string) error {
	res, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
