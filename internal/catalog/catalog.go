// Package catalog declares the integrated functions served by the API.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/cog-core/internal/function"
	"github.com/cuongbtq/cog-core/internal/jobid"
	"github.com/cuongbtq/cog-core/internal/queue"
	"github.com/cuongbtq/cog-core/internal/schema"
)

// Function names.
const (
	ScanEntireChannel = "scanEntireChannel"
	ScanChosenVideos  = "scanChosenVideos"
	ScanCommentList   = "scanCommentList"
	ScanRecentVideos  = "scanRecentVideos"
	Healthcheck       = "healthcheck"
	ScheduleWorkflow  = "scheduleWorkflow"
)

// Functions returns the catalogue in registration order. Workflow
// reconstruction merges queues in this order.
func Functions() []*function.IntegratedFunction {
	return []*function.IntegratedFunction{
		{
			Name:         ScanEntireChannel,
			Description:  "scan entire channel",
			Scheduleable: true,
			Schema:       scanBody(ScanConfig),
			Handler:      submitScan(ScanEntireChannel),
		},
		{
			Name:         ScanChosenVideos,
			Description:  "scan a chosen list of videos",
			Scheduleable: true,
			Schema: scanBody(ScanConfig.Extend(schema.Field{
				Name: "videos",
				Node: schema.Array{Items: schema.String{}, Description: "video ids"},
			})),
			Handler: submitScan(ScanChosenVideos),
		},
		{
			Name:         ScanCommentList,
			Description:  "scan a list of comments",
			Scheduleable: true,
			Schema: scanBody(ScanConfig.Extend(schema.Field{
				Name: "comment_ids",
				Node: schema.Array{Items: schema.String{}, Description: "comment ids"},
			})),
			Handler: submitScan(ScanCommentList),
		},
		{
			Name:         ScanRecentVideos,
			Description:  "scan the most recent videos of a channel",
			Scheduleable: true,
			Schema: scanBody(ScanConfig.Extend(schema.Field{
				Name: "channel_to_scan",
				Node: schema.Default{Inner: schema.String{}, Value: "mine"},
			})),
			Handler: submitScan(ScanRecentVideos),
		},
		{
			Name:         Healthcheck,
			Description:  "ping an endpoint",
			Scheduleable: true,
			Schema: schema.Object{Fields: []schema.Field{
				{Name: "endpoint", Node: schema.String{Description: "URL to GET"}},
				{Name: "owner", Node: schema.Optional{Inner: schema.String{}}},
			}},
			Handler: submitHealthcheck,
		},
		{
			Name:         ScheduleWorkflow,
			Description:  "schedule an integrated function on a cron expression",
			Scheduleable: false,
			Schema:       scheduleWorkflowSchema,
			Handler:      scheduleWorkflow,
		},
	}
}

// NewRegistry builds the registry of every catalogued function.
func NewRegistry() (*function.Registry, error) {
	return function.NewRegistry(Functions()...)
}

func submitScan(name string) function.Handler {
	return func(ctx context.Context, env *function.Env, body json.RawMessage) function.Response {
		var req ScanBody
		if err := json.Unmarshal(body, &req); err != nil {
			return function.RespondError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		}
		return submit(ctx, env, name, jobid.OneShotName(req.Auth.UUID, name), body)
	}
}

func submitHealthcheck(ctx context.Context, env *function.Env, body json.RawMessage) function.Response {
	var req HealthcheckBody
	if err := json.Unmarshal(body, &req); err != nil {
		return function.RespondError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	return submit(ctx, env, Healthcheck, jobid.OneShotName(req.Owner, Healthcheck), body)
}

func submit(ctx context.Context, env *function.Env, queueName, jobName string, body json.RawMessage) function.Response {
	q, err := env.Queues.Resolve(ctx, queueName)
	if err != nil {
		env.Logger.Error("Failed to resolve queue", slog.String("queue", queueName), slog.Any("error", err))
		return function.RespondError(http.StatusServiceUnavailable, fmt.Sprintf("queue '%s' is unavailable", queueName))
	}

	jobID, err := q.Add(ctx, jobName, queue.NewPayload(body))
	if err != nil {
		env.Logger.Error("Failed to add job", slog.String("queue", queueName), slog.Any("error", err))
		return function.RespondError(http.StatusServiceUnavailable, fmt.Sprintf("failed to add job to queue '%s'", queueName))
	}

	return function.RespondWith(http.StatusOK, fmt.Sprintf("added job to queue '%s'", queueName), map[string]any{"jobId": jobID})
}
