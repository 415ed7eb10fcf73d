package pgbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/cog-core/internal/queue"
)

type jobRow struct {
	JobID     string    `db:"job_id"`
	QueueName string    `db:"queue_name"`
	JobName   string    `db:"job_name"`
	Payload   []byte    `db:"payload"`
	Status    string    `db:"status"`
	RunAt     time.Time `db:"run_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (r jobRow) toJob() (*queue.Job, error) {
	var payload queue.Payload
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return nil, fmt.Errorf("pgbroker: decode payload of job %s: %w", r.JobID, err)
	}
	return &queue.Job{
		ID:        r.JobID,
		Name:      r.JobName,
		Queue:     r.QueueName,
		Data:      payload,
		Status:    r.Status,
		RunAt:     r.RunAt,
		CreatedAt: r.CreatedAt,
	}, nil
}

func marshalMessage(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("pgbroker: marshal message: %w", err)
	}
	return body, nil
}

const insertJobQuery = `
	INSERT INTO queue_jobs (job_id, queue_name, job_name, repeat_key, payload, status, max_retries, timeout_seconds, run_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (job_id) DO NOTHING
`

// Add implements queue.Broker. The job row is the source of truth: a failed
// publish is logged and the job is re-delivered by RepublishStale.
func (b *Broker) Add(ctx context.Context, queueName, name string, payload queue.Payload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("pgbroker: marshal payload: %w", err)
	}

	jobID := uuid.NewString()
	_, err = b.db.ExecContext(ctx, insertJobQuery,
		jobID, queueName, name, nil, data, StatusPending, b.opts.MaxRetries, b.opts.TimeoutSeconds, b.now())
	if err != nil {
		return "", classify("insert job", err)
	}

	if err := b.publish(ctx, queueName, jobID); err != nil {
		b.logger.Warn("Job stored but not published, will be republished",
			slog.String("job_id", jobID),
			slog.String("queue", queueName),
			slog.Any("error", err),
		)
	}

	return jobID, nil
}

// Job implements queue.Broker.
func (b *Broker) Job(ctx context.Context, queueName, jobID string) (*queue.Job, error) {
	query := `
		SELECT job_id, queue_name, job_name, payload, status, run_at, created_at
		FROM queue_jobs
		WHERE queue_name = $1 AND job_id = $2
	`

	var row jobRow
	if err := b.db.GetContext(ctx, &row, query, queueName, jobID); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
		}
		return nil, classify("get job", err)
	}

	return row.toJob()
}

// RepublishStale re-sends pending jobs not touched since olderThan. Workers
// claim jobs with an optimistic update, so a duplicate delivery is harmless.
func (b *Broker) RepublishStale(ctx context.Context, olderThan time.Time, batch int) (int, error) {
	query := `
		UPDATE queue_jobs
		SET updated_at = NOW()
		WHERE job_id IN (
			SELECT job_id FROM queue_jobs
			WHERE status = $1 AND updated_at < $2
			ORDER BY updated_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id, queue_name
	`

	var rows []struct {
		JobID     string `db:"job_id"`
		QueueName string `db:"queue_name"`
	}
	if err := b.db.SelectContext(ctx, &rows, query, StatusPending, olderThan, batch); err != nil {
		return 0, classify("select stale jobs", err)
	}

	republished := 0
	for _, r := range rows {
		if err := b.publish(ctx, r.QueueName, r.JobID); err != nil {
			b.logger.Error("Failed to republish job",
				slog.String("job_id", r.JobID),
				slog.String("queue", r.QueueName),
				slog.Any("error", err),
			)
			continue
		}
		republished++
	}
	return republished, nil
}
