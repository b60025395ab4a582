package database

import (
	"context"
	"fmt"
	"time"

	"techtrims/internal/models"
)

func (db *DB) CreateJob(ctx context.Context, job *models.ScheduledJob) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	if job.Status == "" {
		job.Status = models.JobPending
	}
	query := `INSERT INTO scheduled_jobs (job_type, payload, run_at, status, attempts, last_error, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := db.now()
	result, err := db.ExecContext(ctx, query,
		job.JobType,
		job.Payload,
		utc(job.RunAt),
		job.Status,
		job.Attempts,
		job.LastError,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", mapErr(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now
	return nil
}

// DueJobs returns pending and retrying jobs whose run_at has passed, oldest first.
func (db *DB) DueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	query := `SELECT id, job_type, payload, run_at, status, attempts, last_error, created_at, processed_at
              FROM scheduled_jobs
              WHERE status IN (?, ?) AND run_at <= ?
              ORDER BY run_at ASC, id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.JobPending, models.JobRetry, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %w", mapErr(err))
	}
	defer rows.Close()

	var jobs []models.ScheduledJob
	for rows.Next() {
		var j models.ScheduledJob
		if err := rows.Scan(
			&j.ID, &j.JobType, &j.Payload, &j.RunAt, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, mapErr(rows.Err())
}

// UpdateJobStatus records a job outcome. A retry reschedules the job to runAt.
func (db *DB) UpdateJobStatus(ctx context.Context, id int64, status, errMsg string, runAt *time.Time) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	var lastErr interface{}
	if errMsg != "" {
		lastErr = errMsg
	}

	var query string
	var args []interface{}
	switch status {
	case models.JobRetry:
		query = `UPDATE scheduled_jobs SET status = ?, last_error = ?, run_at = COALESCE(?, run_at), attempts = attempts + 1 WHERE id = ?`
		args = []interface{}{status, lastErr, nullTime(runAt), id}
	case models.JobCompleted, models.JobFailed:
		query = `UPDATE scheduled_jobs SET status = ?, last_error = ?, attempts = attempts + 1, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, db.now(), id}
	default:
		query = `UPDATE scheduled_jobs SET status = ?, last_error = ? WHERE id = ?`
		args = []interface{}{status, lastErr, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update job status: %w", mapErr(err))
	}
	return nil
}
