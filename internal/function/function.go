// Package function holds the integrated function registry: the catalogue of
// named, schema-validated operations that callers can dispatch.
package function

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/cog-core/internal/queue"
	"github.com/cuongbtq/cog-core/internal/schema"
)

// Response is the envelope returned by every dispatch, success or failure.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

// RespondWith builds a Response.
func RespondWith(statusCode int, message string, data any) Response {
	return Response{StatusCode: statusCode, Message: message, Data: data}
}

// RespondError builds a Response without data.
func RespondError(statusCode int, message string) Response {
	return Response{StatusCode: statusCode, Message: message}
}

// OK reports whether the response carries a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// WorkflowIndex answers whether a workflow name is currently scheduled.
type WorkflowIndex interface {
	HasWorkflow(ctx context.Context, name string) (bool, error)
}

// Env is what a handler may use while servicing one dispatch.
type Env struct {
	Queues    *queue.Manager
	Registry  *Registry
	Workflows WorkflowIndex
	Logger    *slog.Logger
}

// Handler services a dispatch. body has already been validated against the
// function's schema, with defaults applied. A handler reports whether the
// work was submitted, not the result of the work.
type Handler func(ctx context.Context, env *Env, body json.RawMessage) Response

// IntegratedFunction is one registered function.
type IntegratedFunction struct {
	Name         string
	Description  string
	Scheduleable bool
	Schema       schema.Node
	Handler      Handler
}

// QueueName returns the queue the function enqueues onto.
func (f *IntegratedFunction) QueueName() string {
	return f.Name
}
