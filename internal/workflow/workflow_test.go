package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/cog-core/internal/function"
	"github.com/cuongbtq/cog-core/internal/jobid"
	"github.com/cuongbtq/cog-core/internal/queue"
	"github.com/cuongbtq/cog-core/internal/queue/membroker"
	"github.com/cuongbtq/cog-core/internal/schema"
)

var testNow = time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC)

type fixture struct {
	broker *membroker.Broker
	queues *queue.Manager
	rec    *Reconstructor
}

func newFixture(t *testing.T, concurrency int) *fixture {
	t.Helper()

	noop := func(ctx context.Context, env *function.Env, body json.RawMessage) function.Response {
		return function.RespondWith(http.StatusOK, "ok", nil)
	}
	mk := func(name string, scheduleable bool) *function.IntegratedFunction {
		return &function.IntegratedFunction{Name: name, Scheduleable: scheduleable, Schema: schema.Object{}, Handler: noop}
	}

	registry, err := function.NewRegistry(mk("scanEntireChannel", true), mk("scheduleWorkflow", false), mk("healthcheck", true))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := membroker.New(membroker.WithClock(func() time.Time { return testNow }))
	queues := queue.NewManager(broker, queue.Options{
		OperationTimeout: time.Second,
		RetryAttempts:    2,
		RetryInterval:    time.Millisecond,
		Logger:           logger,
	})

	return &fixture{
		broker: broker,
		queues: queues,
		rec:    NewReconstructor(registry, queues, concurrency, logger),
	}
}

func (f *fixture) schedule(t *testing.T, queueName, workflow, function, cron, owner, body string) queue.RepeatableJob {
	t.Helper()
	name, err := jobid.Encode(workflow, function, cron, owner)
	require.NoError(t, err)
	return f.scheduleRaw(t, queueName, name, cron, body)
}

func (f *fixture) scheduleRaw(t *testing.T, queueName, name, cron, body string) queue.RepeatableJob {
	t.Helper()
	q, err := f.queues.Resolve(context.Background(), queueName)
	require.NoError(t, err)
	series, err := q.AddRepeatable(context.Background(), name, cron, queue.NewPayload(json.RawMessage(body)))
	require.NoError(t, err)
	return series
}

func TestReconstruct_TwoFunctions(t *testing.T) {
	f := newFixture(t, 1)
	f.schedule(t, "scanEntireChannel", "nightly", "scanEntireChannel", "0 3 * * *", "u-1", `{"auth":{"uuid":"u-1"}}`)
	ping := f.schedule(t, "healthcheck", "ping", "healthcheck", "*/5 * * * *", "u-2", `{"endpoint":"http://x"}`)

	schedule := f.rec.Reconstruct(context.Background(), false)
	require.Len(t, schedule, 2)

	nightly := schedule["nightly"]
	assert.Equal(t, "scanEntireChannel", nightly.FunctionName)
	assert.Equal(t, "0 3 * * *", nightly.Cron)
	assert.JSONEq(t, `{"auth":{"uuid":"u-1"}}`, string(nightly.ReqBody))
	assert.Nil(t, nightly.Calls)
	assert.Nil(t, nightly.Details)

	raw, err := json.Marshal(schedule["ping"])
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.ElementsMatch(t, []string{"functionName", "cron", "reqBody", "calls"}, keys(fields))

	extended := f.rec.Reconstruct(context.Background(), true)
	require.Len(t, extended, 2)

	details := extended["ping"].Details
	require.NotNil(t, details)
	assert.Equal(t, "healthcheck", details.QueueName)
	assert.Equal(t, ping.Key, details.Key)
	assert.Equal(t, ping.Name, details.JobName)
	assert.Equal(t, ping.Next.UnixMilli(), details.Next)
	assert.Equal(t, jobid.RepeatInstanceID(ping.Name, ping.Next, ping.Key), details.JobID)

	raw, err = json.Marshal(extended["ping"])
	require.NoError(t, err)
	fields = nil
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.ElementsMatch(t, []string{"functionName", "cron", "reqBody", "calls", "queueName", "jobId", "jobName", "next", "key"}, keys(fields))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestReconstruct_SkipsMalformedAndUnmaterialized(t *testing.T) {
	f := newFixture(t, 2)
	f.schedule(t, "scanEntireChannel", "good", "scanEntireChannel", "0 3 * * *", "u-1", `{}`)
	f.scheduleRaw(t, "scanEntireChannel", "u-1.scanEntireChannel", "0 4 * * *", `{}`)
	f.scheduleRaw(t, "scanEntireChannel", "a|b|c", "0 5 * * *", `{}`)
	pending := f.schedule(t, "healthcheck", "pending", "healthcheck", "0 6 * * *", "u-1", `{}`)

	require.True(t, f.broker.RemoveJob("healthcheck", jobid.RepeatInstanceID(pending.Name, pending.Next, pending.Key)))

	schedule := f.rec.Reconstruct(context.Background(), false)
	require.Len(t, schedule, 1)
	assert.Contains(t, schedule, "good")
}

func TestReconstruct_UnavailableQueueContributesNothing(t *testing.T) {
	f := newFixture(t, 2)
	f.schedule(t, "scanEntireChannel", "nightly", "scanEntireChannel", "0 3 * * *", "u-1", `{}`)
	f.schedule(t, "healthcheck", "ping", "healthcheck", "*/5 * * * *", "u-1", `{}`)

	f.broker.Fail("healthcheck", queue.ErrBrokerUnavailable)

	schedule := f.rec.Reconstruct(context.Background(), false)
	require.Len(t, schedule, 1)
	assert.Contains(t, schedule, "nightly")

	f.broker.Fail("healthcheck", nil)
	assert.Len(t, f.rec.Reconstruct(context.Background(), false), 2)
}

func TestReconstruct_CollisionLaterFunctionWins(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		f := newFixture(t, concurrency)
		f.schedule(t, "scanEntireChannel", "shared", "scanEntireChannel", "0 3 * * *", "u-1", `{"from":"scan"}`)
		f.schedule(t, "healthcheck", "shared", "healthcheck", "0 4 * * *", "u-1", `{"from":"health"}`)

		schedule := f.rec.Reconstruct(context.Background(), false)
		require.Len(t, schedule, 1)
		assert.Equal(t, "healthcheck", schedule["shared"].FunctionName)
	}
}

func TestReconstruct_Empty(t *testing.T) {
	f := newFixture(t, 1)
	schedule := f.rec.Reconstruct(context.Background(), true)
	assert.NotNil(t, schedule)
	assert.Empty(t, schedule)
}

func TestHasWorkflow(t *testing.T) {
	f := newFixture(t, 1)
	f.schedule(t, "healthcheck", "ping", "healthcheck", "*/5 * * * *", "u-1", `{}`)

	ok, err := f.rec.HasWorkflow(context.Background(), "ping")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.rec.HasWorkflow(context.Background(), "pong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasWorkflow_CountsSeriesWithoutInstance(t *testing.T) {
	f := newFixture(t, 1)
	series := f.schedule(t, "healthcheck", "ping", "healthcheck", "*/5 * * * *", "u-1", `{}`)
	require.True(t, f.broker.RemoveJob("healthcheck", jobid.RepeatInstanceID(series.Name, series.Next, series.Key)))

	ok, err := f.rec.HasWorkflow(context.Background(), "ping")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, f.rec.Reconstruct(context.Background(), false))
}

func TestHasWorkflow_QueueUnavailable(t *testing.T) {
	f := newFixture(t, 2)
	f.schedule(t, "scanEntireChannel", "nightly", "scanEntireChannel", "0 3 * * *", "u-1", `{}`)
	f.broker.Fail("scanEntireChannel", queue.ErrBrokerUnavailable)

	ok, err := f.rec.HasWorkflow(context.Background(), "nightly")
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrBrokerUnavailable)
	assert.False(t, ok)
}

func TestRemove_QueueUnavailable(t *testing.T) {
	f := newFixture(t, 2)
	f.schedule(t, "scanEntireChannel", "nightly", "scanEntireChannel", "0 3 * * *", "u-1", `{}`)
	f.broker.Fail("scanEntireChannel", queue.ErrBrokerUnavailable)

	_, err := f.rec.Remove(context.Background(), "nightly")
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrBrokerUnavailable)
	assert.NotErrorIs(t, err, ErrWorkflowNotFound)

	f.broker.Fail("scanEntireChannel", nil)
	removal, err := f.rec.Remove(context.Background(), "nightly")
	require.NoError(t, err)
	assert.Equal(t, "nightly", removal.WorkflowName)
}

func TestRemove_SeriesWithoutInstance(t *testing.T) {
	f := newFixture(t, 1)
	series := f.schedule(t, "healthcheck", "ping", "healthcheck", "*/5 * * * *", "u-1", `{}`)
	require.True(t, f.broker.RemoveJob("healthcheck", jobid.RepeatInstanceID(series.Name, series.Next, series.Key)))

	removal, err := f.rec.Remove(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, series.Key, removal.Key)
	assert.Empty(t, removal.ReqBody)
}

func TestRemove(t *testing.T) {
	f := newFixture(t, 1)
	series := f.schedule(t, "scanEntireChannel", "nightly", "scanEntireChannel", "0 3 * * *", "u-1", `{"auth":{"uuid":"u-1"}}`)

	removal, err := f.rec.Remove(context.Background(), "nightly")
	require.NoError(t, err)
	assert.Equal(t, "nightly", removal.WorkflowName)
	assert.Equal(t, "0 3 * * *", removal.Cron)
	assert.Equal(t, "u-1", removal.User)
	assert.Equal(t, series.Key, removal.Key)
	assert.JSONEq(t, `{"auth":{"uuid":"u-1"}}`, string(removal.ReqBody))

	assert.Empty(t, f.rec.Reconstruct(context.Background(), false))

	_, err = f.rec.Remove(context.Background(), "nightly")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWorkflowNotFound))
}
