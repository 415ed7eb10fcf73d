package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/cog-core/internal/downstream"
	"github.com/cuongbtq/cog-core/internal/worker/domain"
)

// processJob claims a job, runs its executor under timeout and heartbeat,
// and records the outcome. The returned error drives the ACK/NACK decision.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	job, err := w.store.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			return err
		}
		w.logger.Error("Failed to claim job",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	logger := w.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("queue", job.QueueName),
		slog.String("job_name", job.JobName),
	)

	executor, ok := w.executors[job.QueueName]
	if !ok {
		err := fmt.Errorf("%w: %s", domain.ErrNoExecutor, job.QueueName)
		w.fail(ctx, logger, job, err)
		return err
	}

	var envelope domain.Envelope
	if err := json.Unmarshal(job.Payload, &envelope); err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		w.fail(ctx, logger, job, err)
		return err
	}

	jobTimeout := w.jobTimeout
	if job.TimeoutSeconds > 0 {
		jobTimeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	jobCtx := ctx
	if jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, jobTimeout)
		defer cancel()
	}

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone)
	defer close(heartbeatDone)

	start := time.Now()
	result, err := runExecutor(jobCtx, executor, job, envelope.ReqBody)
	if err == nil {
		logger.Info("Job completed successfully", slog.Duration("duration", time.Since(start)))
		if updateErr := w.store.UpdateJobStatus(ctx, job.JobID, domain.JobStatusCompleted, result, ""); updateErr != nil {
			logger.Error("Failed to update job status to COMPLETED", slog.Any("error", updateErr))
		}
		return nil
	}

	logger.Error("Job execution failed",
		slog.Duration("duration", time.Since(start)),
		slog.Any("error", err),
	)

	if isTransient(err) && job.RetryCount < job.MaxRetries {
		logger.Info("Job will be retried",
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", job.MaxRetries),
		)
		if retryErr := w.store.ScheduleRetry(ctx, job.JobID, err.Error()); retryErr != nil {
			logger.Error("Failed to schedule job retry", slog.Any("error", retryErr))
		}
		return domain.NewRetryableError(fmt.Errorf("job execution failed: %w", err))
	}

	w.fail(ctx, logger, job, err)
	if isTransient(err) {
		logger.Warn("Job exceeded max retries",
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", job.MaxRetries),
		)
		return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, err)
	}
	return err
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *domain.Job, err error) {
	if updateErr := w.store.UpdateJobStatus(ctx, job.JobID, domain.JobStatusFailed, nil, err.Error()); updateErr != nil {
		logger.Error("Failed to update job status to FAILED", slog.Any("error", updateErr))
	}
}

// runExecutor converts an executor panic into ErrExecutorPanic
func runExecutor(ctx context.Context, executor Executor, job *domain.Job, reqBody json.RawMessage) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", domain.ErrExecutorPanic, r)
		}
	}()
	return executor(ctx, job, reqBody)
}

// isTransient reports whether a failed execution may succeed on retry
func isTransient(err error) bool {
	switch {
	case errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrExecutorPanic):
		return false
	case domain.IsRetryable(err):
		return true
	}
	return downstream.Retryable(err)
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.store.UpdateJobHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
		}
	}
}
