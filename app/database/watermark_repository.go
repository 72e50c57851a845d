package database

import (
	"context"
	"database/sql"
	"time"
)

// WatermarkRepo persists the per-job-type ingestion watermarks
type WatermarkRepo struct {
	db  *DB
	now func() time.Time
}

func NewWatermarkRepo(db *DB) *WatermarkRepo {
	return &WatermarkRepo{db: db, now: time.Now}
}

// GetWatermark returns nil when the job type has no watermark yet
func (r *WatermarkRepo) GetWatermark(ctx context.Context, jobType string) (*time.Time, error) {
	var mark string
	err := r.db.QueryRowContext(ctx, `SELECT mark FROM job_watermarks WHERE job_type = ?`, jobType).Scan(&mark)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get_watermark", err)
	}

	t, err := parseTime(mark)
	if err != nil {
		return nil, wrap("get_watermark", err)
	}
	return &t, nil
}

// AdvanceWatermark moves the watermark forward. A mark older than the stored
// one is ignored.
func (r *WatermarkRepo) AdvanceWatermark(ctx context.Context, jobType string, mark time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_watermarks (job_type, mark, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (job_type) DO UPDATE
		SET mark       = excluded.mark,
		    updated_at = excluded.updated_at
		WHERE excluded.mark > job_watermarks.mark
	`, jobType, formatTime(mark), formatTime(r.now()))
	return wrap("advance_watermark", err)
}

func (r *WatermarkRepo) ListWatermarks(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT job_type, mark FROM job_watermarks ORDER BY job_type`)
	if err != nil {
		return nil, wrap("list_watermarks", err)
	}
	defer rows.Close()

	marks := make(map[string]time.Time)
	for rows.Next() {
		var jobType, mark string
		if err := rows.Scan(&jobType, &mark); err != nil {
			return nil, wrap("list_watermarks", err)
		}
		t, err := parseTime(mark)
		if err != nil {
			return nil, wrap("list_watermarks", err)
		}
		marks[jobType] = t
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list_watermarks", err)
	}

	return marks, nil
}
