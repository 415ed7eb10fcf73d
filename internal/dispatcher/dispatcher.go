// Package dispatcher runs integrated functions by name.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/cog-core/internal/function"
	"github.com/cuongbtq/cog-core/internal/schema"
)

// Dispatcher looks up a function, validates the body and invokes the handler.
// It never returns an error: every outcome is a function.Response.
type Dispatcher struct {
	env    *function.Env
	logger *slog.Logger
}

// New creates a Dispatcher. env.Registry must be set. A nil env.Logger is
// replaced with slog.Default().
func New(env *function.Env) *Dispatcher {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	return &Dispatcher{env: env, logger: env.Logger}
}

// Dispatch runs the named function against rawBody. Exactly one log entry is
// written per call.
func (d *Dispatcher) Dispatch(ctx context.Context, functionName string, rawBody []byte) (resp function.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp = function.RespondError(http.StatusInternalServerError, fmt.Sprintf("function '%s' failed", functionName))
			d.logger.Error("Dispatch panicked",
				slog.String("function", functionName),
				slog.Any("panic", r),
				slog.Duration("duration", time.Since(start)),
			)
			return
		}
		d.log(functionName, resp, time.Since(start))
	}()

	fn, ok := d.env.Registry.Lookup(functionName)
	if !ok {
		return function.RespondError(http.StatusNotFound, "function not found")
	}

	validated, err := schema.Validate(fn.Schema, rawBody)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			return function.RespondWith(http.StatusBadRequest, verr.Error(), issuesData(verr.Issues))
		}
		return function.RespondError(http.StatusInternalServerError, err.Error())
	}

	body, err := json.Marshal(validated)
	if err != nil {
		return function.RespondError(http.StatusInternalServerError, fmt.Sprintf("failed to encode request body: %v", err))
	}

	return fn.Handler(ctx, d.env, body)
}

func (d *Dispatcher) log(functionName string, resp function.Response, elapsed time.Duration) {
	attrs := []any{
		slog.String("function", functionName),
		slog.Int("status_code", resp.StatusCode),
		slog.String("message", resp.Message),
		slog.Duration("duration", elapsed),
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		d.logger.Warn("Dispatch rejected - function not integrated", attrs...)
	case resp.OK():
		d.logger.Info("Dispatch completed", attrs...)
	case resp.StatusCode >= http.StatusInternalServerError:
		d.logger.Error("Dispatch failed", attrs...)
	default:
		d.logger.Warn("Dispatch rejected", attrs...)
	}
}

func issuesData(issues []schema.Issue) map[string]any {
	return map[string]any{"issues": issues}
}
