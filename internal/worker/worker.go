package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/cog-core/internal/worker/domain"
)

// JobStore is the job table as seen by the worker
type JobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	UpdateJobStatus(ctx context.Context, jobID, status string, result json.RawMessage, errorMsg string) error
	ScheduleRetry(ctx context.Context, jobID, errorMsg string) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
}

// Consumer is the message transport as seen by the worker
type Consumer interface {
	DeclareQueue(name string) error
	Qos(prefetchCount int) error
	Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             JobStore
	Consumer          Consumer
	Executors         Executors
	WorkerID          string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Worker consumes one AMQP queue per executor and runs jobs on a fixed pool
type Worker struct {
	logger            *slog.Logger
	store             JobStore
	consumer          Consumer
	executors         Executors
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration

	jobsChan chan *domain.JobMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		logger:            logger,
		store:             cfg.Store,
		consumer:          cfg.Consumer,
		executors:         cfg.Executors,
		workerID:          workerID,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeat,
		jobsChan:          make(chan *domain.JobMessage, concurrency),
		stopChan:          make(chan struct{}),
	}
}

// Start subscribes to every served queue and processes jobs until ctx is
// canceled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Any("queues", w.executors.Queues()),
	)

	if len(w.executors) == 0 {
		return fmt.Errorf("worker has no executors")
	}

	if err := w.consumer.Qos(w.prefetchCount); err != nil {
		return err
	}
	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	for _, queueName := range w.executors.Queues() {
		deliveries, err := w.setupConsumer(queueName)
		if err != nil {
			return err
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.startMessageDispatcher(ctx, queueName, deliveries)
		}()
	}

	w.spawnWorkerPool(ctx)

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
	}

	return nil
}

// Stop gracefully stops the worker and waits for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
