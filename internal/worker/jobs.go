package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"techtrims/internal/domain"
	"techtrims/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobHandler executes one scheduled job payload.
type JobHandler func(ctx context.Context, payload []byte) error

// JobRunner polls the scheduled_jobs table and dispatches due jobs by type.
// Jobs survive restarts because the table, not the process, holds the timer.
type JobRunner struct {
	store         domain.JobStore
	redis         *redis.Client
	retryPolicy   RetryPolicy
	handlers      map[string]JobHandler
	mu            sync.RWMutex
	wake          chan struct{}
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
	now           func() time.Time
}

// NewJobRunner builds a runner with sane defaults. redisClient is optional and
// only receives dead letters.
func NewJobRunner(store domain.JobStore, redisClient *redis.Client, retry RetryPolicy, pollInterval time.Duration, logger *zerolog.Logger) *JobRunner {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if pollInterval <= 0 {
		pollInterval = models.DefaultJobPollInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &JobRunner{
		store:         store,
		redis:         redisClient,
		retryPolicy:   retry,
		handlers:      make(map[string]JobHandler),
		wake:          make(chan struct{}, 1),
		deadLetterKey: "jobs:deadletter",
		pollInterval:  pollInterval,
		batchSize:     20,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Register binds a handler to a job type.
func (w *JobRunner) Register(jobType string, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

// Schedule persists a job to run at runAt. It satisfies domain.JobScheduler.
func (w *JobRunner) Schedule(ctx context.Context, jobType string, runAt time.Time, payload interface{}) error {
	if jobType == "" {
		return fmt.Errorf("%w: job type is required", domain.ErrInvalidInput)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	job := models.ScheduledJob{
		JobType: jobType,
		Payload: string(raw),
		RunAt:   runAt.UTC(),
		Status:  models.JobPending,
	}
	if err := w.store.CreateJob(ctx, &job); err != nil {
		return fmt.Errorf("persist job: %w", err)
	}

	if !job.RunAt.After(w.now()) {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start launches the poll loop; stops when ctx is done.
func (w *JobRunner) Start(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("job runner started")
	defer w.logger.Info().Msg("job runner stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.RunDue(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// RunDue processes one batch of due jobs and returns how many were attempted.
func (w *JobRunner) RunDue(ctx context.Context) int {
	jobs, err := w.store.DueJobs(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to fetch due jobs")
		return 0
	}
	for i := range jobs {
		w.processJob(ctx, &jobs[i])
	}
	return len(jobs)
}

func (w *JobRunner) processJob(ctx context.Context, job *models.ScheduledJob) {
	w.mu.RLock()
	handler, ok := w.handlers[job.JobType]
	w.mu.RUnlock()
	if !ok {
		w.failJob(ctx, job, fmt.Errorf("unknown job type: %s", job.JobType))
		return
	}

	if err := handler(ctx, []byte(job.Payload)); err != nil {
		w.retryOrFail(ctx, job, err)
		return
	}

	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to mark job completed")
	}
}

func (w *JobRunner) retryOrFail(ctx context.Context, job *models.ScheduledJob, cause error) {
	attempt := job.Attempts + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failJob(ctx, job, cause)
		return
	}

	next := w.now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("job_id", job.ID).Int("attempt", attempt).Time("next_run", next).Msg("job failed, retrying")
	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to mark job for retry")
	}
}

func (w *JobRunner) failJob(ctx context.Context, job *models.ScheduledJob, cause error) {
	w.logger.Error().Err(cause).Int64("job_id", job.ID).Str("job_type", job.JobType).Msg("job failed permanently")
	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to mark job failed")
	}
	w.pushDeadLetter(ctx, job)
}

func (w *JobRunner) pushDeadLetter(ctx context.Context, job *models.ScheduledJob) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to push dead letter")
	}
}

// DecodePayload unmarshals a job payload into dst.
func DecodePayload(raw []byte, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
