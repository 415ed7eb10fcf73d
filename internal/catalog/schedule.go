package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/cog-core/internal/function"
	"github.com/cuongbtq/cog-core/internal/jobid"
	"github.com/cuongbtq/cog-core/internal/queue"
	"github.com/cuongbtq/cog-core/internal/schema"
)

var scheduleWorkflowSchema = schema.Object{Fields: []schema.Field{
	{Name: "workflowName", Node: schema.String{Description: "unique name of the workflow"}},
	{Name: "functionName", Node: schema.String{Description: "scheduleable function to run"}},
	{Name: "cron", Node: schema.String{Description: "5-field cron expression or descriptor"}},
	{Name: "auth", Node: schema.Object{Fields: []schema.Field{
		{Name: "uuid", Node: schema.String{}},
		{Name: "password", Node: schema.Optional{Inner: schema.String{}}},
	}}},
	{Name: "reqBody", Node: schema.Any{Description: "body passed to the function on every run"}},
}}

// ScheduleRequest is the decoded form of a scheduleWorkflow body.
type ScheduleRequest struct {
	WorkflowName string          `json:"workflowName"`
	FunctionName string          `json:"functionName"`
	Cron         string          `json:"cron"`
	Auth         Auth            `json:"auth"`
	ReqBody      json.RawMessage `json:"reqBody"`
}

// ScheduleResult is returned on a successful schedule.
type ScheduleResult struct {
	WorkflowName string `json:"workflowName"`
	FunctionName string `json:"functionName"`
	Cron         string `json:"cron"`
	Next         int64  `json:"next"`
	Key          string `json:"key"`
}

func scheduleWorkflow(ctx context.Context, env *function.Env, body json.RawMessage) function.Response {
	var req ScheduleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return function.RespondError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	if req.WorkflowName == "" {
		return function.RespondError(http.StatusBadRequest, "workflowName must not be empty")
	}

	target, ok := env.Registry.Lookup(req.FunctionName)
	if !ok {
		return function.RespondError(http.StatusNotFound, fmt.Sprintf("function '%s' not found", req.FunctionName))
	}
	if !target.Scheduleable {
		return function.RespondError(http.StatusBadRequest, fmt.Sprintf("function '%s' is not scheduleable", req.FunctionName))
	}

	if err := queue.ValidateCron(req.Cron); err != nil {
		return function.RespondError(http.StatusBadRequest, err.Error())
	}

	validated, err := schema.Validate(target.Schema, req.ReqBody)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			return function.RespondWith(http.StatusBadRequest,
				fmt.Sprintf("reqBody is invalid for '%s': %s", req.FunctionName, verr.Error()),
				map[string]any{"issues": verr.Issues})
		}
		return function.RespondError(http.StatusInternalServerError, err.Error())
	}
	reqBody, err := json.Marshal(validated)
	if err != nil {
		return function.RespondError(http.StatusInternalServerError, fmt.Sprintf("failed to encode reqBody: %v", err))
	}

	name, err := jobid.Encode(req.WorkflowName, req.FunctionName, req.Cron, req.Auth.UUID)
	if err != nil {
		return function.RespondError(http.StatusBadRequest, err.Error())
	}

	if env.Workflows != nil {
		exists, err := env.Workflows.HasWorkflow(ctx, req.WorkflowName)
		if err != nil {
			env.Logger.Error("Failed to check workflow schedule", slog.Any("error", err))
			return function.RespondError(http.StatusServiceUnavailable, "failed to read workflow schedule")
		}
		if exists {
			return function.RespondError(http.StatusConflict, fmt.Sprintf("workflow '%s' is already scheduled", req.WorkflowName))
		}
	}

	q, err := env.Queues.Resolve(ctx, target.QueueName())
	if err != nil {
		env.Logger.Error("Failed to resolve queue", slog.String("queue", target.QueueName()), slog.Any("error", err))
		return function.RespondError(http.StatusServiceUnavailable, fmt.Sprintf("queue '%s' is unavailable", target.QueueName()))
	}

	series, err := q.AddRepeatable(ctx, name, req.Cron, queue.NewPayload(reqBody))
	if err != nil {
		if errors.Is(err, queue.ErrInvalidCron) {
			return function.RespondError(http.StatusBadRequest, err.Error())
		}
		env.Logger.Error("Failed to schedule workflow",
			slog.String("workflow", req.WorkflowName),
			slog.String("queue", q.Name()),
			slog.Any("error", err),
		)
		return function.RespondError(http.StatusServiceUnavailable, fmt.Sprintf("failed to schedule workflow '%s'", req.WorkflowName))
	}

	env.Logger.Info("Workflow scheduled",
		slog.String("workflow", req.WorkflowName),
		slog.String("function", req.FunctionName),
		slog.String("cron", req.Cron),
		slog.Time("next", series.Next),
	)

	return function.RespondWith(http.StatusOK, fmt.Sprintf("scheduled workflow '%s'", req.WorkflowName), ScheduleResult{
		WorkflowName: req.WorkflowName,
		FunctionName: req.FunctionName,
		Cron:         req.Cron,
		Next:         series.Next.UnixMilli(),
		Key:          series.Key,
	})
}
