package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
)

// Options configures timeouts and retries applied to every broker call.
type Options struct {
	OperationTimeout time.Duration
	RetryAttempts    int
	RetryInterval    time.Duration
	Logger           *slog.Logger
}

// Manager hands out one Queue per name. Queues are created lazily and
// never duplicated, even when first resolved concurrently.
type Manager struct {
	broker Broker
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	queues map[string]*Queue
	group  singleflight.Group
}

// NewManager creates a Manager over broker.
func NewManager(broker Broker, opts Options) *Manager {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 5 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		broker: broker,
		opts:   opts,
		logger: logger,
		queues: make(map[string]*Queue),
	}
}

// Resolve returns the queue for a function name, declaring it on first use.
func (m *Manager) Resolve(ctx context.Context, name string) (*Queue, error) {
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}

	m.mu.RLock()
	q, ok := m.queues[name]
	m.mu.RUnlock()
	if ok {
		return q, nil
	}

	v, err, _ := m.group.Do(name, func() (any, error) {
		m.mu.RLock()
		existing, ok := m.queues[name]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		created := &Queue{name: name, broker: m.broker, opts: m.opts, logger: m.logger.With(slog.String("queue", name))}
		if _, err := do(ctx, created, "declare", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.broker.Declare(ctx, name)
		}); err != nil {
			return nil, fmt.Errorf("failed to declare queue %q: %w", name, err)
		}

		m.mu.Lock()
		m.queues[name] = created
		m.mu.Unlock()

		m.logger.Debug("Queue resolved", slog.String("queue", name))
		return created, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Queue), nil
}

// Queue is a handle on one named broker queue. It is safe for concurrent use.
type Queue struct {
	name   string
	broker Broker
	opts   Options
	logger *slog.Logger
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Add submits a one-shot job.
func (q *Queue) Add(ctx context.Context, name string, payload Payload) (string, error) {
	return do(ctx, q, "add", func(ctx context.Context) (string, error) {
		return q.broker.Add(ctx, q.name, name, payload)
	})
}

// AddRepeatable creates a recurring series.
func (q *Queue) AddRepeatable(ctx context.Context, name, cron string, payload Payload) (RepeatableJob, error) {
	if err := ValidateCron(cron); err != nil {
		return RepeatableJob{}, err
	}
	return do(ctx, q, "add_repeatable", func(ctx context.Context) (RepeatableJob, error) {
		return q.broker.AddRepeatable(ctx, q.name, name, cron, payload)
	})
}

// RepeatableJobs lists recurring series on the queue.
func (q *Queue) RepeatableJobs(ctx context.Context) ([]RepeatableJob, error) {
	return do(ctx, q, "repeatable_jobs", func(ctx context.Context) ([]RepeatableJob, error) {
		return q.broker.RepeatableJobs(ctx, q.name)
	})
}

// Job fetches a concrete job instance.
func (q *Queue) Job(ctx context.Context, jobID string) (*Job, error) {
	return do(ctx, q, "job", func(ctx context.Context) (*Job, error) {
		return q.broker.Job(ctx, q.name, jobID)
	})
}

// RemoveRepeatableByKey cancels a recurring series.
func (q *Queue) RemoveRepeatableByKey(ctx context.Context, key string) error {
	_, err := do(ctx, q, "remove_repeatable", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, q.broker.RemoveRepeatableByKey(ctx, q.name, key)
	})
	return err
}

// do runs fn under the operation timeout and retries broker-unavailable
// failures with exponential backoff. Other errors are returned immediately.
func do[T any](ctx context.Context, q *Queue, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, q.opts.OperationTimeout)
		defer cancel()

		v, err := fn(callCtx)
		if err == nil {
			return v, nil
		}

		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, ErrBrokerUnavailable) {
			err = fmt.Errorf("%w: %s timed out after %s: %v", ErrBrokerUnavailable, op, q.opts.OperationTimeout, err)
		}
		if !errors.Is(err, ErrBrokerUnavailable) {
			return v, backoff.Permanent(err)
		}

		q.logger.Warn("Broker call failed, retrying...",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", q.opts.RetryAttempts),
			slog.Any("error", err),
		)
		return v, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.RetryInterval
	b.Multiplier = 2.0

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(q.opts.RetryAttempts)),
	)
}
