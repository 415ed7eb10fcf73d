package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/cog-core/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				return
			}

			// jobs already claimed keep running through shutdown
			err := w.processJob(context.WithoutCancel(ctx), msg)
			w.acknowledge(workerName, msg, err)
		}
	}
}

// acknowledge ACKs a handled message or NACKs it with a requeue decision
func (w *Worker) acknowledge(workerName string, msg *domain.JobMessage, err error) {
	if msg.Acker == nil {
		w.logger.Error("Message has no acknowledger",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
		)
		return
	}

	if err == nil {
		if ackErr := msg.Acker.Ack(msg.DeliveryTag, false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.Any("error", ackErr),
			)
		}
		return
	}

	// a duplicate delivery of a job someone else owns is done, not failed
	if errors.Is(err, domain.ErrJobAlreadyClaimed) {
		if ackErr := msg.Acker.Ack(msg.DeliveryTag, false); ackErr != nil {
			w.logger.Error("Failed to ACK duplicate message",
				slog.String("job_id", msg.JobID),
				slog.Any("error", ackErr),
			)
		}
		return
	}

	requeue := shouldRequeueJob(err)
	if nackErr := msg.Acker.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.Any("error", nackErr),
		)
		return
	}

	w.logger.Info("Message NACKed",
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.JobID),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)
}

// shouldRequeueJob determines if a job should be requeued based on the error type
func shouldRequeueJob(err error) bool {
	switch {
	case errors.Is(err, domain.ErrJobAlreadyClaimed),
		errors.Is(err, domain.ErrMaxRetriesExceeded),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrNoExecutor),
		errors.Is(err, domain.ErrExecutorPanic):
		return false
	}

	return domain.IsRetryable(err)
}
