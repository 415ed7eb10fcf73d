package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/cog-core/internal/function"
	"github.com/cuongbtq/cog-core/internal/schema"
)

func newTestDispatcher(t *testing.T, fns ...*function.IntegratedFunction) (*Dispatcher, *bytes.Buffer) {
	t.Helper()

	registry, err := function.NewRegistry(fns...)
	require.NoError(t, err)

	output := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: slog.LevelDebug}))

	return New(&function.Env{Registry: registry, Logger: logger}), output
}

func logLines(output *bytes.Buffer) []map[string]any {
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

func uuidFunction(handler function.Handler) *function.IntegratedFunction {
	return &function.IntegratedFunction{
		Name:    "echo",
		Schema:  schema.Object{Fields: []schema.Field{{Name: "uuid", Node: schema.String{}}, {Name: "mode", Node: schema.Default{Inner: schema.String{}, Value: "fast"}}}},
		Handler: handler,
	}
}

func TestDispatch_UnknownFunction(t *testing.T) {
	d, output := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), "doesNotExist", []byte(`{}`))

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "function not found", resp.Message)

	entries := logLines(output)
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "doesNotExist", entries[0]["function"])
}

func TestDispatch_InvalidBody(t *testing.T) {
	called := false
	d, output := newTestDispatcher(t, uuidFunction(func(ctx context.Context, env *function.Env, body json.RawMessage) function.Response {
		called = true
		return function.RespondWith(http.StatusOK, "ok", nil)
	}))

	resp := d.Dispatch(context.Background(), "echo", []byte(`{}`))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Message, "body.uuid")
	assert.False(t, called)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	issues := data["issues"].([]schema.Issue)
	require.Len(t, issues, 1)
	assert.Equal(t, "body.uuid", issues[0].Path)
	assert.Equal(t, "required", issues[0].Message)

	assert.Len(t, logLines(output), 1)
}

func TestDispatch_InvokesHandlerWithValidatedBody(t *testing.T) {
	var got json.RawMessage
	d, output := newTestDispatcher(t, uuidFunction(func(ctx context.Context, env *function.Env, body json.RawMessage) function.Response {
		got = body
		require.NotNil(t, env.Registry)
		return function.RespondWith(http.StatusOK, "added job to queue 'echo'", nil)
	}))

	resp := d.Dispatch(context.Background(), "echo", []byte(`{"uuid":"u-1","ignored":1}`))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "added job to queue 'echo'", resp.Message)
	assert.JSONEq(t, `{"uuid":"u-1","mode":"fast"}`, string(got))

	entries := logLines(output)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, float64(http.StatusOK), entries[0]["status_code"])
}

func TestDispatch_HandlerPanicIsRecovered(t *testing.T) {
	d, output := newTestDispatcher(t, uuidFunction(func(ctx context.Context, env *function.Env, body json.RawMessage) function.Response {
		panic("boom")
	}))

	resp := d.Dispatch(context.Background(), "echo", []byte(`{"uuid":"u-1"}`))

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	entries := logLines(output)
	require.Len(t, entries, 1)
	assert.Equal(t, "ERROR", entries[0]["level"])
}

func TestDispatch_HandlerFailureIsLoggedOnce(t *testing.T) {
	d, output := newTestDispatcher(t, uuidFunction(func(ctx context.Context, env *function.Env, body json.RawMessage) function.Response {
		return function.RespondError(http.StatusServiceUnavailable, "queue unavailable")
	}))

	resp := d.Dispatch(context.Background(), "echo", []byte(`{"uuid":"u-1"}`))

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	entries := logLines(output)
	require.Len(t, entries, 1)
	assert.Equal(t, "ERROR", entries[0]["level"])
}
