package db

import (
	"context"

	"github.com/anstrom/gvmscan/internal/orchestrator"
)

const defaultHistoryLimit = 20

const upsertRunQuery = `
	INSERT INTO scan_runs (
		id, target, profile, report_format, output_path, state,
		target_id, task_id, report_id, task_status, progress,
		polls, poll_failures, error, started_at, finished_at
	) VALUES (
		:id, :target, :profile, :report_format, :output_path, :state,
		:target_id, :task_id, :report_id, :task_status, :progress,
		:polls, :poll_failures, :error, :started_at, :finished_at
	)
	ON CONFLICT (id) DO UPDATE SET
		state = EXCLUDED.state,
		target_id = EXCLUDED.target_id,
		task_id = EXCLUDED.task_id,
		report_id = EXCLUDED.report_id,
		task_status = EXCLUDED.task_status,
		progress = EXCLUDED.progress,
		polls = EXCLUDED.polls,
		poll_failures = EXCLUDED.poll_failures,
		error = EXCLUDED.error,
		finished_at = EXCLUDED.finished_at,
		updated_at = NOW()`

const runColumns = `id, target, profile, report_format, output_path, state,
	target_id, task_id, report_id, task_status, progress,
	polls, poll_failures, error, started_at, finished_at`

// HistoryStore persists run snapshots. It satisfies orchestrator.RunRecorder.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore creates a history store.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// RecordRun inserts the run or updates the row recorded earlier for it.
func (s *HistoryStore) RecordRun(ctx context.Context, snap orchestrator.Snapshot) error {
	if _, err := s.db.NamedExecContext(ctx, upsertRunQuery, snap); err != nil {
		return sanitizeDBError("record scan run", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]orchestrator.Snapshot, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var runs []orchestrator.Snapshot
	query := `SELECT ` + runColumns + ` FROM scan_runs ORDER BY started_at DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, sanitizeDBError("list scan runs", err)
	}
	return runs, nil
}

// Get returns one run by ID.
func (s *HistoryStore) Get(ctx context.Context, runID string) (*orchestrator.Snapshot, error) {
	var run orchestrator.Snapshot
	query := `SELECT ` + runColumns + ` FROM scan_runs WHERE id = $1`
	if err := s.db.GetContext(ctx, &run, query, runID); err != nil {
		return nil, sanitizeDBError("get scan run", err)
	}
	return &run, nil
}

// PingContext checks the database connection.
func (s *HistoryStore) PingContext(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return sanitizeDBError("ping", err)
	}
	return nil
}
