package models

import "time"

const (
	JobPending   = "pending"
	JobRetry     = "retry"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// ScheduledJob is a time-indexed unit of deferred work polled by the job runner.
type ScheduledJob struct {
	ID          int64      `json:"id"`
	JobType     string     `json:"job_type"`
	Payload     string     `json:"payload"`
	RunAt       time.Time  `json:"run_at"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}
