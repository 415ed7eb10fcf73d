package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/cog-core/internal/dispatcher"
	"github.com/cuongbtq/cog-core/internal/function"
	"github.com/cuongbtq/cog-core/internal/workflow"
)

// Workflows is the schedule view the handlers read and cancel
type Workflows interface {
	Reconstruct(ctx context.Context, extended bool) workflow.Schedule
	Remove(ctx context.Context, name string) (*workflow.Removal, error)
}

// HealthCheck reports whether a backing service is reachable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Registry     *function.Registry
	Dispatcher   *dispatcher.Dispatcher
	Workflows    Workflows
	Host         string
	BrokerDriver string
	HealthChecks map[string]HealthCheck
}

// FunctionHandler serves dispatch and the function catalogue
type FunctionHandler struct {
	logger     *slog.Logger
	registry   *function.Registry
	dispatcher *dispatcher.Dispatcher
}

// NewFunctionHandler creates a new FunctionHandler instance
func NewFunctionHandler(deps *Dependencies) *FunctionHandler {
	return &FunctionHandler{
		logger:     deps.Logger,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
	}
}

// WorkflowHandler serves the scheduled workflow view and removal
type WorkflowHandler struct {
	logger    *slog.Logger
	workflows Workflows
}

// NewWorkflowHandler creates a new WorkflowHandler instance
func NewWorkflowHandler(deps *Dependencies) *WorkflowHandler {
	return &WorkflowHandler{
		logger:    deps.Logger,
		workflows: deps.Workflows,
	}
}

// StatusHandler serves the service status page
type StatusHandler struct {
	registry  *function.Registry
	workflows Workflows
	host      string
	driver    string
	checks    map[string]HealthCheck
}

// NewStatusHandler creates a new StatusHandler instance
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	return &StatusHandler{
		registry:  deps.Registry,
		workflows: deps.Workflows,
		host:      deps.Host,
		driver:    deps.BrokerDriver,
		checks:    deps.HealthChecks,
	}
}
