// Package workflow reconstructs the set of scheduled workflows from the
// repeatable jobs held by the broker.
//
// The broker only knows (name, key, next) for each recurring series. The
// workflow name, function, cron expression and owner are decoded from the
// series name, and the request body is read from the concrete job instance
// the series has materialized for its next run.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/cog-core/internal/function"
	"github.com/cuongbtq/cog-core/internal/jobid"
	"github.com/cuongbtq/cog-core/internal/queue"
)

var (
	// ErrWorkflowNotFound is returned when no scheduled workflow has the name.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowExists is returned when scheduling a name that is already in use.
	ErrWorkflowExists = errors.New("workflow already scheduled")
)

// Descriptor is the reconstructed view of one workflow.
type Descriptor struct {
	WorkflowName string          `json:"-"`
	Owner        string          `json:"-"`
	FunctionName string          `json:"functionName"`
	Cron         string          `json:"cron"`
	ReqBody      json.RawMessage `json:"reqBody"`
	Calls        *int            `json:"calls"`

	*Details
}

// Details carries broker-level fields, present only in extended reconstructions.
type Details struct {
	QueueName string `json:"queueName"`
	JobID     string `json:"jobId"`
	JobName   string `json:"jobName"`
	Next      int64  `json:"next"`
	Key       string `json:"key"`
}

// Schedule maps workflow names to descriptors. It is a snapshot.
type Schedule map[string]Descriptor

// Removal confirms a removed workflow.
type Removal struct {
	WorkflowName string          `json:"workflowName"`
	Cron         string          `json:"cron"`
	User         string          `json:"user"`
	Key          string          `json:"key"`
	ReqBody      json.RawMessage `json:"reqBody"`
}

// Reconstructor builds Schedules from the scheduleable functions' queues.
type Reconstructor struct {
	registry    *function.Registry
	queues      *queue.Manager
	logger      *slog.Logger
	concurrency int
}

// NewReconstructor creates a Reconstructor. concurrency bounds how many
// queues are read at once; values below 1 read them one at a time.
func NewReconstructor(registry *function.Registry, queues *queue.Manager, concurrency int, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reconstructor{
		registry:    registry,
		queues:      queues,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Reconstruct returns every scheduled workflow. Records that cannot be
// decoded or have no materialized instance are skipped, and a queue that
// cannot be read contributes nothing. When two records share a workflow
// name the one from the later function in registry order wins.
func (r *Reconstructor) Reconstruct(ctx context.Context, extended bool) Schedule {
	schedule, _ := r.reconstruct(ctx, extended, false)
	return schedule
}

// reconstruct builds the schedule. In strict mode the first queue or
// instance read failure is returned instead of skipped, and a series without
// a materialized instance is kept with an empty request body.
func (r *Reconstructor) reconstruct(ctx context.Context, extended, strict bool) (Schedule, error) {
	fns := r.registry.ListScheduleable()
	results := make([][]Descriptor, len(fns))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, fn := range fns {
		g.Go(func() error {
			descs, err := r.collect(ctx, fn, extended, strict)
			if err != nil {
				if strict {
					return fmt.Errorf("queue %q: %w", fn.QueueName(), err)
				}
				r.logger.Warn("Skipping queue during workflow reconstruction",
					slog.String("queue", fn.QueueName()),
					slog.Any("error", err),
				)
				return nil
			}
			results[i] = descs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	schedule := make(Schedule)
	for _, descs := range results {
		for _, d := range descs {
			if prev, exists := schedule[d.WorkflowName]; exists {
				r.logger.Warn("Workflow name collision, keeping later entry",
					slog.String("workflow", d.WorkflowName),
					slog.String("previous_function", prev.FunctionName),
					slog.String("function", d.FunctionName),
				)
			}
			schedule[d.WorkflowName] = d
		}
	}

	return schedule, nil
}

func (r *Reconstructor) collect(ctx context.Context, fn *function.IntegratedFunction, extended, strict bool) ([]Descriptor, error) {
	q, err := r.queues.Resolve(ctx, fn.QueueName())
	if err != nil {
		return nil, err
	}

	series, err := q.RepeatableJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repeatable jobs: %w", err)
	}

	sort.Slice(series, func(i, j int) bool {
		if !series[i].Next.Equal(series[j].Next) {
			return series[i].Next.Before(series[j].Next)
		}
		return series[i].Key < series[j].Key
	})

	descs := make([]Descriptor, 0, len(series))
	for _, s := range series {
		identity, err := jobid.Decode(s.Name)
		if err != nil {
			r.logger.Warn("Skipping repeatable job with malformed name",
				slog.String("queue", q.Name()),
				slog.String("job_name", s.Name),
				slog.Any("error", err),
			)
			continue
		}

		instanceID := jobid.RepeatInstanceID(s.Name, s.Next, s.Key)
		d := Descriptor{
			WorkflowName: identity.Workflow,
			Owner:        identity.Owner,
			FunctionName: identity.Function,
			Cron:         identity.Cron,
		}

		inst, err := q.Job(ctx, instanceID)
		switch {
		case err == nil:
			d.ReqBody = inst.Data.ReqBody
			d.Calls = inst.Data.Calls

		case strict && errors.Is(err, queue.ErrJobNotFound):
			// the series exists even before its instance does

		case strict:
			return nil, fmt.Errorf("failed to read instance %q: %w", instanceID, err)

		default:
			level := slog.LevelWarn
			if errors.Is(err, queue.ErrJobNotFound) {
				level = slog.LevelDebug
			}
			r.logger.Log(ctx, level, "Skipping repeatable job without instance",
				slog.String("queue", q.Name()),
				slog.String("workflow", identity.Workflow),
				slog.String("job_id", instanceID),
				slog.Any("error", err),
			)
			continue
		}

		if extended {
			d.Details = &Details{
				QueueName: q.Name(),
				JobID:     instanceID,
				JobName:   s.Name,
				Next:      s.Next.UnixMilli(),
				Key:       s.Key,
			}
		}
		descs = append(descs, d)
	}

	return descs, nil
}

// HasWorkflow reports whether name is currently scheduled. It fails when
// any scheduleable queue cannot be read.
func (r *Reconstructor) HasWorkflow(ctx context.Context, name string) (bool, error) {
	schedule, err := r.reconstruct(ctx, false, true)
	if err != nil {
		return false, err
	}
	_, ok := schedule[name]
	return ok, nil
}

// Remove cancels the series behind a workflow. It returns ErrWorkflowNotFound
// for unknown names, wraps queue.ErrScheduleNotFound when the series was
// removed concurrently, and wraps any queue read failure.
func (r *Reconstructor) Remove(ctx context.Context, name string) (*Removal, error) {
	schedule, err := r.reconstruct(ctx, true, true)
	if err != nil {
		return nil, fmt.Errorf("failed to look up workflow %q: %w", name, err)
	}
	d, ok := schedule[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, name)
	}

	q, err := r.queues.Resolve(ctx, d.QueueName)
	if err != nil {
		return nil, err
	}

	if err := q.RemoveRepeatableByKey(ctx, d.Key); err != nil {
		return nil, fmt.Errorf("failed to remove workflow %q: %w", name, err)
	}

	r.logger.Info("Workflow removed",
		slog.String("workflow", name),
		slog.String("queue", d.QueueName),
		slog.String("key", d.Key),
	)

	return &Removal{
		WorkflowName: name,
		Cron:         d.Cron,
		User:         d.Owner,
		Key:          d.Key,
		ReqBody:      d.ReqBody,
	}, nil
}
