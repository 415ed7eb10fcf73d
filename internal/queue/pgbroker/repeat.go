package pgbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/cog-core/internal/jobid"
	"github.com/cuongbtq/cog-core/internal/queue"
)

type seriesRow struct {
	RepeatKey string    `db:"repeat_key"`
	JobName   string    `db:"job_name"`
	Cron      string    `db:"cron"`
	NextRunAt time.Time `db:"next_run_at"`
}

func (r seriesRow) toRepeatable() queue.RepeatableJob {
	return queue.RepeatableJob{
		Key:  r.RepeatKey,
		Name: r.JobName,
		Cron: r.Cron,
		Next: r.NextRunAt.UTC(),
	}
}

// AddRepeatable implements queue.Broker. Adding an existing key returns the
// stored series unchanged.
func (b *Broker) AddRepeatable(ctx context.Context, queueName, name, cron string, payload queue.Payload) (queue.RepeatableJob, error) {
	now := b.now()
	next, err := queue.NextRun(cron, now)
	if err != nil {
		return queue.RepeatableJob{}, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return queue.RepeatableJob{}, fmt.Errorf("pgbroker: marshal payload: %w", err)
	}
	key := jobid.RepeatKey(name, "", cron)

	var series queue.RepeatableJob
	err = b.inTx(ctx, "add repeatable", func(tx *sqlx.Tx) error {
		insert := `
			INSERT INTO repeatable_jobs (queue_name, repeat_key, job_name, cron, next_run_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (queue_name, repeat_key) DO NOTHING
		`
		res, err := tx.ExecContext(ctx, insert, queueName, key, name, cron, next)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if inserted == 0 {
			var row seriesRow
			err := tx.GetContext(ctx, &row, `
				SELECT repeat_key, job_name, cron, next_run_at
				FROM repeatable_jobs
				WHERE queue_name = $1 AND repeat_key = $2
			`, queueName, key)
			if err != nil {
				return err
			}
			series = row.toRepeatable()
			return nil
		}

		series = queue.RepeatableJob{Key: key, Name: name, Cron: cron, Next: next}
		return b.materialize(ctx, tx, queueName, series, data)
	})
	if err != nil {
		return queue.RepeatableJob{}, err
	}

	return series, nil
}

func (b *Broker) materialize(ctx context.Context, tx *sqlx.Tx, queueName string, series queue.RepeatableJob, payload []byte) error {
	id := jobid.RepeatInstanceID(series.Name, series.Next, series.Key)
	_, err := tx.ExecContext(ctx, insertJobQuery,
		id, queueName, series.Name, series.Key, payload, StatusDelayed, b.opts.MaxRetries, b.opts.TimeoutSeconds, series.Next)
	return err
}

// RepeatableJobs implements queue.Broker.
func (b *Broker) RepeatableJobs(ctx context.Context, queueName string) ([]queue.RepeatableJob, error) {
	var rows []seriesRow
	err := b.db.SelectContext(ctx, &rows, `
		SELECT repeat_key, job_name, cron, next_run_at
		FROM repeatable_jobs
		WHERE queue_name = $1
	`, queueName)
	if err != nil {
		return nil, classify("list repeatable jobs", err)
	}

	out := make([]queue.RepeatableJob, len(rows))
	for i, r := range rows {
		out[i] = r.toRepeatable()
	}
	return out, nil
}

// RemoveRepeatableByKey implements queue.Broker. The series' delayed
// instance goes with it; instances already released keep running.
func (b *Broker) RemoveRepeatableByKey(ctx context.Context, queueName, key string) error {
	return b.inTx(ctx, "remove repeatable", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM repeatable_jobs WHERE queue_name = $1 AND repeat_key = $2`, queueName, key)
		if err != nil {
			return err
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if removed == 0 {
			return fmt.Errorf("%w: %s", queue.ErrScheduleNotFound, key)
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM queue_jobs WHERE queue_name = $1 AND repeat_key = $2 AND status = $3`,
			queueName, key, StatusDelayed)
		return err
	})
}

// Promote implements queue.Promotable. Due instances are released inside one
// transaction and published after it commits.
func (b *Broker) Promote(ctx context.Context, now time.Time, batch int) (int, error) {
	type dueRow struct {
		JobID     string `db:"job_id"`
		QueueName string `db:"queue_name"`
		RepeatKey string `db:"repeat_key"`
		JobName   string `db:"job_name"`
		Cron      string `db:"cron"`
		Payload   []byte `db:"payload"`
	}

	var released []dueRow
	err := b.inTx(ctx, "promote", func(tx *sqlx.Tx) error {
		var due []dueRow
		err := tx.SelectContext(ctx, &due, `
			SELECT j.job_id, j.queue_name, j.repeat_key, r.job_name, r.cron, j.payload
			FROM queue_jobs j
			JOIN repeatable_jobs r ON r.queue_name = j.queue_name AND r.repeat_key = j.repeat_key
			WHERE j.status = $1 AND j.run_at <= $2
			ORDER BY j.run_at
			LIMIT $3
			FOR UPDATE OF j SKIP LOCKED
		`, StatusDelayed, now, batch)
		if err != nil {
			return err
		}

		for _, d := range due {
			_, err := tx.ExecContext(ctx,
				`UPDATE queue_jobs SET status = $1, updated_at = NOW() WHERE job_id = $2`,
				StatusPending, d.JobID)
			if err != nil {
				return err
			}

			next, err := queue.NextRun(d.Cron, now)
			if err != nil {
				b.logger.Error("Series has an unparseable cron, not rescheduling",
					slog.String("queue", d.QueueName),
					slog.String("key", d.RepeatKey),
					slog.Any("error", err),
				)
				released = append(released, d)
				continue
			}

			_, err = tx.ExecContext(ctx,
				`UPDATE repeatable_jobs SET next_run_at = $1 WHERE queue_name = $2 AND repeat_key = $3`,
				next, d.QueueName, d.RepeatKey)
			if err != nil {
				return err
			}

			series := queue.RepeatableJob{Key: d.RepeatKey, Name: d.JobName, Cron: d.Cron, Next: next}
			if err := b.materialize(ctx, tx, d.QueueName, series, d.Payload); err != nil {
				return err
			}
			released = append(released, d)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, d := range released {
		if err := b.publish(ctx, d.QueueName, d.JobID); err != nil {
			b.logger.Warn("Promoted job not published, will be republished",
				slog.String("job_id", d.JobID),
				slog.String("queue", d.QueueName),
				slog.Any("error", err),
			)
		}
	}

	return len(released), nil
}

func (b *Broker) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin "+op, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if isDomainError(err) {
			return err
		}
		return classify(op, err)
	}

	if err := tx.Commit(); err != nil {
		return classify("commit "+op, err)
	}
	return nil
}
