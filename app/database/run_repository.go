package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var ErrRunFinalized = errors.New("fetch run is not running")

// RunRepo records the fetch run audit log
type RunRepo struct {
	db  *DB
	now func() time.Time
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db, now: time.Now}
}

// StartRun creates a run row in status running
func (r *RunRepo) StartRun(ctx context.Context, spec RunSpec) (int64, error) {
	jobType := spec.JobType
	if jobType == "" {
		jobType = "manual"
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO fetch_runs (job_type, mode, category, window_start, window_end, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, jobType, spec.Mode, spec.Category, formatTimePtr(spec.WindowStart), formatTimePtr(spec.WindowEnd),
		formatTime(r.now()), RunRunning).Scan(&id)
	if err != nil {
		return 0, wrap("start_run", err)
	}
	return id, nil
}

// UpdateRun stores the counters of a running run
func (r *RunRepo) UpdateRun(ctx context.Context, runID int64, c RunCounters) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE fetch_runs
		SET articles_fetched = ?, articles_inserted = ?, articles_updated = ?,
		    articles_skipped = ?, failed_pages = ?, api_calls = ?
		WHERE id = ? AND status = 'running'
	`, c.Fetched, c.Inserted, c.Updated, c.Skipped, c.FailedPages, c.APICalls, runID)
	if err != nil {
		return wrap("update_run", err)
	}
	return expectOneRow("update_run", res, runID)
}

// FinishRun moves a running run to a terminal status. A run is finalized once.
func (r *RunRepo) FinishRun(ctx context.Context, runID int64, status RunStatus, c RunCounters, errorMessage string) error {
	if status != RunCompleted && status != RunFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}

	var message any
	if status == RunFailed {
		message = errorMessage
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE fetch_runs
		SET status = ?, ended_at = ?, error_message = ?,
		    articles_fetched = ?, articles_inserted = ?, articles_updated = ?,
		    articles_skipped = ?, failed_pages = ?, api_calls = ?
		WHERE id = ? AND status = 'running'
	`, status, formatTime(r.now()), message,
		c.Fetched, c.Inserted, c.Updated, c.Skipped, c.FailedPages, c.APICalls, runID)
	if err != nil {
		return wrap("finish_run", err)
	}
	return expectOneRow("finish_run", res, runID)
}

// GetRun returns nil when the run does not exist
func (r *RunRepo) GetRun(ctx context.Context, runID int64) (*FetchRun, error) {
	stmt, args, err := runColumns().Where(sq.Eq{"id": runID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}

	run, err := scanRun(r.db.QueryRowContext(ctx, stmt, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get_run", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, optionally of one job type
func (r *RunRepo) ListRuns(ctx context.Context, jobType string, limit int) ([]FetchRun, error) {
	query := runColumns().OrderBy("started_at DESC", "id DESC")
	if jobType != "" {
		query = query.Where(sq.Eq{"job_type": jobType})
	}
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build runs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrap("list_runs", err)
	}
	defer rows.Close()

	var runs []FetchRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, wrap("list_runs", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list_runs", err)
	}

	return runs, nil
}

// LastCompletedRun returns nil when no run has completed yet
func (r *RunRepo) LastCompletedRun(ctx context.Context) (*FetchRun, error) {
	stmt, args, err := runColumns().
		Where(sq.Eq{"status": RunCompleted}).
		OrderBy("ended_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}

	run, err := scanRun(r.db.QueryRowContext(ctx, stmt, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("last_completed_run", err)
	}
	return run, nil
}

// CountRunsBefore counts finalized runs started before cutoff
func (r *RunRepo) CountRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fetch_runs WHERE started_at < ? AND status <> 'running'
	`, formatTime(cutoff)).Scan(&count)
	if err != nil {
		return 0, wrap("count_runs", err)
	}
	return count, nil
}

// DeleteRunsBefore removes finalized runs started before cutoff
func (r *RunRepo) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM fetch_runs WHERE started_at < ? AND status <> 'running'
	`, formatTime(cutoff))
	if err != nil {
		return 0, wrap("delete_runs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete_runs", err)
	}
	return int(n), nil
}

func runColumns() sq.SelectBuilder {
	return sq.Select(
		"id", "job_type", "mode", "category", "window_start", "window_end", "started_at", "ended_at",
		"articles_fetched", "articles_inserted", "articles_updated", "articles_skipped",
		"failed_pages", "api_calls", "status", "COALESCE(error_message, '')",
	).From("fetch_runs")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*FetchRun, error) {
	var run FetchRun
	var windowStart, windowEnd, endedAt sql.NullString
	var startedAt string

	err := row.Scan(
		&run.ID, &run.JobType, &run.Mode, &run.Category, &windowStart, &windowEnd, &startedAt, &endedAt,
		&run.Counters.Fetched, &run.Counters.Inserted, &run.Counters.Updated, &run.Counters.Skipped,
		&run.Counters.FailedPages, &run.Counters.APICalls, &run.Status, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.WindowStart, err = parseNullTime(windowStart); err != nil {
		return nil, err
	}
	if run.WindowEnd, err = parseNullTime(windowEnd); err != nil {
		return nil, err
	}
	if run.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, err
	}

	return &run, nil
}

func expectOneRow(op string, res sql.Result, runID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n != 1 {
		return wrap(op, fmt.Errorf("run %d: %w", runID, ErrRunFinalized))
	}
	return nil
}
