package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/cog-core/internal/worker/domain"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob attempts to claim a job using optimistic locking
// Returns full job details on success, error if job is already claimed or doesn't exist
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE queue_jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING job_id, queue_name, job_name, payload, status, worker_id, retry_count, max_retries, timeout_seconds
	`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusRunning, workerID, jobID, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("queue", job.QueueName),
	)

	return &job, nil
}

// UpdateJobStatus sets a terminal status with its result or error message
func (s *Storage) UpdateJobStatus(ctx context.Context, jobID, status string, result json.RawMessage, errorMsg string) error {
	query := `
		UPDATE queue_jobs
		SET status = $1::text,
			result = $2,
			error_message = NULLIF($3, ''),
			completed_at = CASE
				WHEN $1::text IN ($4::text, $5::text) THEN NOW()
				ELSE NULL
			END,
			updated_at = NOW()
		WHERE job_id = $6
	`

	var resultJSON []byte
	if len(result) > 0 {
		resultJSON = result
	}

	_, err := s.db.ExecContext(ctx, query, status, resultJSON, errorMsg, domain.JobStatusCompleted, domain.JobStatusFailed, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// ScheduleRetry returns a failed job to PENDING and counts the attempt so the
// requeued delivery can claim it again
func (s *Storage) ScheduleRetry(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE queue_jobs
		SET status = $1,
		    retry_count = retry_count + 1,
		    error_message = $2,
		    worker_id = NULL,
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, errorMsg, jobID, domain.JobStatusRunning); err != nil {
		return fmt.Errorf("failed to schedule job retry: %w", err)
	}
	return nil
}

// UpdateJobHeartbeat updates the last_heartbeat_at timestamp for a running job
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE queue_jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}
