// Package queue is the access layer between integrated functions and the
// durable broker. It resolves one queue per function name and wraps every
// broker call with a timeout and bounded retry.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when a concrete job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrScheduleNotFound is returned when a repeat key no longer names a series.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrBrokerUnavailable marks transient broker failures that may be retried.
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

// Payload is the envelope stored with every job.
type Payload struct {
	ReqBody json.RawMessage `json:"reqBody"`
	Calls   *int            `json:"calls"`
}

// NewPayload wraps a request body for submission. Calls is always nil at submission.
func NewPayload(reqBody json.RawMessage) Payload {
	return Payload{ReqBody: reqBody}
}

// RepeatableJob is one recurring series as reported by the broker.
type RepeatableJob struct {
	Key  string    `json:"key"`
	Name string    `json:"name"`
	Cron string    `json:"cron"`
	Next time.Time `json:"next"`
}

// Job is a concrete job instance.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Queue     string    `json:"queue"`
	Data      Payload   `json:"data"`
	Status    string    `json:"status"`
	RunAt     time.Time `json:"runAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Broker is the durable queue system. Implementations must derive the ids
// of materialized repeat instances with jobid.RepeatInstanceID and wrap
// transient failures with ErrBrokerUnavailable.
type Broker interface {
	// Declare prepares the named queue. It is safe to call more than once.
	Declare(ctx context.Context, queue string) error
	// Add submits a one-shot job and returns its id.
	Add(ctx context.Context, queue, name string, payload Payload) (string, error)
	// AddRepeatable creates a recurring series and materializes its first instance.
	AddRepeatable(ctx context.Context, queue, name, cron string, payload Payload) (RepeatableJob, error)
	// RepeatableJobs lists the recurring series on a queue in no particular order.
	RepeatableJobs(ctx context.Context, queue string) ([]RepeatableJob, error)
	// Job returns a concrete job or ErrJobNotFound.
	Job(ctx context.Context, queue, jobID string) (*Job, error)
	// RemoveRepeatableByKey removes a series or returns ErrScheduleNotFound.
	RemoveRepeatableByKey(ctx context.Context, queue, key string) error
}
