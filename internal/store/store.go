// Package store keeps a local ledger of remodel runs in SQLite, so past
// decompositions stay inspectable after the process exits.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Statuses recorded in the ledger.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	mode             TEXT NOT NULL,
	model            TEXT NOT NULL,
	input_path       TEXT NOT NULL DEFAULT '',
	unit_count       INTEGER NOT NULL DEFAULT 0,
	extraction_count INTEGER NOT NULL DEFAULT 0,
	prompt_tokens    INTEGER NOT NULL DEFAULT 0,
	batch_path       TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	error            TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMP NOT NULL,
	finished_at      TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// Run is one recorded pipeline invocation.
type Run struct {
	ID              string     `json:"id"`
	Mode            string     `json:"mode"`
	Model           string     `json:"model"`
	InputPath       string     `json:"input_path"`
	UnitCount       int        `json:"unit_count"`
	ExtractionCount int        `json:"extraction_count"`
	PromptTokens    int        `json:"prompt_tokens"`
	BatchPath       string     `json:"batch_path"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Store wraps the runs database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at path and ensures the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordStart inserts a running entry and returns its id. Missing id and
// start time are filled in.
func (s *Store) RecordStart(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(id, mode, model, input_path, unit_count, extraction_count, prompt_tokens, batch_path, status, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?)`,
		run.ID, run.Mode, run.Model, run.InputPath, run.UnitCount, run.ExtractionCount,
		run.PromptTokens, run.BatchPath, StatusRunning, run.StartedAt)
	if err != nil {
		return "", fmt.Errorf("store: record run start: %w", err)
	}
	return run.ID, nil
}

// RecordFinish marks a run completed, or failed with the error message.
func (s *Store) RecordFinish(ctx context.Context, id string, runErr error) error {
	status := StatusCompleted
	message := ""
	if runErr != nil {
		status = StatusFailed
		message = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: record run finish: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, mode, model, input_path,
		unit_count, extraction_count, prompt_tokens, batch_path, status, error,
		started_at, finished_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Mode, &run.Model, &run.InputPath,
			&run.UnitCount, &run.ExtractionCount, &run.PromptTokens, &run.BatchPath,
			&run.Status, &run.Error, &run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return runs, nil
}
