package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/cuongbtq/cog-core/internal/catalog"
	"github.com/cuongbtq/cog-core/internal/downstream"
	"github.com/cuongbtq/cog-core/internal/worker/domain"
)

// Executor runs one job and returns the result stored with it.
type Executor func(ctx context.Context, job *domain.Job, reqBody json.RawMessage) (json.RawMessage, error)

// Executors maps queue names to the executor that serves them.
type Executors map[string]Executor

// Queues returns the served queue names, sorted.
func (e Executors) Queues() []string {
	return slices.Sorted(maps.Keys(e))
}

// Scanner is the downstream API used by executors.
type Scanner interface {
	Scan(ctx context.Context, creds downstream.Credentials, payload any) (json.RawMessage, error)
	Ping(ctx context.Context, endpoint string) (json.RawMessage, error)
}

// NewExecutors returns the executor for every scheduleable catalogue function.
func NewExecutors(scanner Scanner) Executors {
	return Executors{
		catalog.ScanEntireChannel: scanExecutor(scanner, ""),
		catalog.ScanChosenVideos:  scanExecutor(scanner, "chosenvideos"),
		catalog.ScanCommentList:   scanExecutor(scanner, "commentlist"),
		catalog.ScanRecentVideos:  scanExecutor(scanner, "recentvideos"),
		catalog.Healthcheck:       healthcheckExecutor(scanner),
	}
}

// scanExecutor posts the scan config. An empty mode sends the config as is;
// otherwise it is wrapped in settings with the scan mode.
func scanExecutor(scanner Scanner, mode string) Executor {
	return func(ctx context.Context, job *domain.Job, reqBody json.RawMessage) (json.RawMessage, error) {
		var body catalog.ScanBody
		if err := json.Unmarshal(reqBody, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		if body.Auth.UUID == "" {
			return nil, fmt.Errorf("%w: auth.uuid is required", domain.ErrInvalidPayload)
		}

		var payload map[string]any
		if mode == "" {
			payload = map[string]any{"data": body.Config}
		} else {
			settings := make(map[string]any, len(body.Config)+1)
			settings["scan_mode"] = mode
			for k, v := range body.Config {
				settings[k] = v
			}
			payload = map[string]any{"data": map[string]any{"settings": settings}}
		}

		return scanner.Scan(ctx, downstream.Credentials{
			Username: body.Auth.UUID,
			Password: body.Auth.Password,
		}, payload)
	}
}

func healthcheckExecutor(scanner Scanner) Executor {
	return func(ctx context.Context, job *domain.Job, reqBody json.RawMessage) (json.RawMessage, error) {
		var body catalog.HealthcheckBody
		if err := json.Unmarshal(reqBody, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		if body.Endpoint == "" {
			return nil, fmt.Errorf("%w: endpoint is required", domain.ErrInvalidPayload)
		}
		return scanner.Ping(ctx, body.Endpoint)
	}
}
