// Package membroker is an in-process queue.Broker. It keeps jobs and
// repeatable series in memory and is used for local development and tests.
package membroker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/cog-core/internal/jobid"
	"github.com/cuongbtq/cog-core/internal/queue"
)

// Job statuses used by the in-memory broker.
const (
	StatusDelayed = "DELAYED"
	StatusPending = "PENDING"
)

// Broker is an in-memory queue.Broker. It is safe for concurrent use.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	faults map[string]error
	now    func() time.Time
}

type memQueue struct {
	jobs   map[string]*queue.Job
	series map[string]queue.RepeatableJob
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// New creates an empty Broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		queues: make(map[string]*memQueue),
		faults: make(map[string]error),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fail makes every call on the named queue return err until cleared with a nil err.
func (b *Broker) Fail(queueName string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.faults, queueName)
		return
	}
	b.faults[queueName] = err
}

func (b *Broker) get(name string) (*memQueue, error) {
	if err := b.faults[name]; err != nil {
		return nil, err
	}
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{
			jobs:   make(map[string]*queue.Job),
			series: make(map[string]queue.RepeatableJob),
		}
		b.queues[name] = q
	}
	return q, nil
}

// Declare implements queue.Broker.
func (b *Broker) Declare(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.get(name)
	return err
}

// Add implements queue.Broker.
func (b *Broker) Add(ctx context.Context, queueName, name string, payload queue.Payload) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.get(queueName)
	if err != nil {
		return "", err
	}

	now := b.now()
	id := uuid.NewString()
	q.jobs[id] = &queue.Job{
		ID:        id,
		Name:      name,
		Queue:     queueName,
		Data:      payload,
		Status:    StatusPending,
		RunAt:     now,
		CreatedAt: now,
	}
	return id, nil
}

// AddRepeatable implements queue.Broker. Adding a series whose key already
// exists returns the existing series unchanged.
func (b *Broker) AddRepeatable(ctx context.Context, queueName, name, cron string, payload queue.Payload) (queue.RepeatableJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.get(queueName)
	if err != nil {
		return queue.RepeatableJob{}, err
	}

	key := jobid.RepeatKey(name, "", cron)
	if existing, ok := q.series[key]; ok {
		return existing, nil
	}

	now := b.now()
	next, err := queue.NextRun(cron, now)
	if err != nil {
		return queue.RepeatableJob{}, err
	}

	series := queue.RepeatableJob{Key: key, Name: name, Cron: cron, Next: next}
	q.series[key] = series
	b.materialize(q, queueName, series, payload, now)

	return series, nil
}

func (b *Broker) materialize(q *memQueue, queueName string, series queue.RepeatableJob, payload queue.Payload, now time.Time) {
	id := jobid.RepeatInstanceID(series.Name, series.Next, series.Key)
	q.jobs[id] = &queue.Job{
		ID:        id,
		Name:      series.Name,
		Queue:     queueName,
		Data:      payload,
		Status:    StatusDelayed,
		RunAt:     series.Next,
		CreatedAt: now,
	}
}

// RepeatableJobs implements queue.Broker.
func (b *Broker) RepeatableJobs(ctx context.Context, queueName string) ([]queue.RepeatableJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.get(queueName)
	if err != nil {
		return nil, err
	}

	out := make([]queue.RepeatableJob, 0, len(q.series))
	for _, s := range q.series {
		out = append(out, s)
	}
	return out, nil
}

// Job implements queue.Broker.
func (b *Broker) Job(ctx context.Context, queueName, jobID string) (*queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.get(queueName)
	if err != nil {
		return nil, err
	}

	j, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	cp := *j
	return &cp, nil
}

// RemoveRepeatableByKey implements queue.Broker.
func (b *Broker) RemoveRepeatableByKey(ctx context.Context, queueName, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.get(queueName)
	if err != nil {
		return err
	}

	series, ok := q.series[key]
	if !ok {
		return fmt.Errorf("%w: %s", queue.ErrScheduleNotFound, key)
	}
	delete(q.series, key)
	delete(q.jobs, jobid.RepeatInstanceID(series.Name, series.Next, series.Key))
	return nil
}

// RemoveJob deletes a concrete job. It reports whether the job existed.
func (b *Broker) RemoveJob(queueName, jobID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return false
	}
	_, existed := q.jobs[jobID]
	delete(q.jobs, jobID)
	return existed
}

// Promote moves up to batch delayed instances due at now to pending and
// materializes the next instance of each series. It returns the number
// promoted.
func (b *Broker) Promote(ctx context.Context, now time.Time, batch int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	promoted := 0
	for name, q := range b.queues {
		if b.faults[name] != nil {
			continue
		}
		for key, series := range q.series {
			if batch > 0 && promoted >= batch {
				return promoted, nil
			}
			id := jobid.RepeatInstanceID(series.Name, series.Next, series.Key)
			inst, ok := q.jobs[id]
			if !ok || inst.Status != StatusDelayed || inst.RunAt.After(now) {
				continue
			}
			inst.Status = StatusPending
			promoted++

			next, err := queue.NextRun(series.Cron, now)
			if err != nil {
				continue
			}
			series.Next = next
			q.series[key] = series
			b.materialize(q, name, series, inst.Data, now)
		}
	}
	return promoted, nil
}
