package membroker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/cog-core/internal/jobid"
	"github.com/cuongbtq/cog-core/internal/queue"
)

func TestBroker_RepeatableLifecycle(t *testing.T) {
	now := time.Date(2026, 10, 19, 2, 59, 0, 0, time.UTC)
	b := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	payload := queue.NewPayload(json.RawMessage(`{"endpoint":"http://x"}`))

	series, err := b.AddRepeatable(ctx, "healthcheck", "ping|healthcheck|0 3 * * *|u", "0 3 * * *", payload)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC), series.Next)

	again, err := b.AddRepeatable(ctx, "healthcheck", series.Name, series.Cron, payload)
	require.NoError(t, err)
	assert.Equal(t, series, again)

	inst, err := b.Job(ctx, "healthcheck", jobid.RepeatInstanceID(series.Name, series.Next, series.Key))
	require.NoError(t, err)
	assert.Equal(t, StatusDelayed, inst.Status)

	promoted, err := b.Promote(ctx, series.Next, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	inst, err = b.Job(ctx, "healthcheck", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, inst.Status)

	list, err := b.RepeatableJobs(ctx, "healthcheck")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, time.Date(2026, 10, 20, 3, 0, 0, 0, time.UTC), list[0].Next)

	_, err = b.Job(ctx, "healthcheck", jobid.RepeatInstanceID(series.Name, list[0].Next, series.Key))
	require.NoError(t, err, "next instance is materialized")

	require.NoError(t, b.RemoveRepeatableByKey(ctx, "healthcheck", series.Key))
	err = b.RemoveRepeatableByKey(ctx, "healthcheck", series.Key)
	assert.ErrorIs(t, err, queue.ErrScheduleNotFound)
}

func TestBroker_PromoteSkipsFutureAndHonoursBatch(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	b := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for _, name := range []string{"a|f|* * * * *|u", "b|f|* * * * *|u"} {
		_, err := b.AddRepeatable(ctx, "q", name, "* * * * *", queue.NewPayload(json.RawMessage(`{}`)))
		require.NoError(t, err)
	}

	promoted, err := b.Promote(ctx, now, 10)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	promoted, err = b.Promote(ctx, now.Add(time.Minute), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
}

func TestBroker_Fail(t *testing.T) {
	b := New()
	ctx := context.Background()
	boom := errors.New("boom")

	b.Fail("q", boom)
	_, err := b.Add(ctx, "q", "n", queue.Payload{})
	assert.ErrorIs(t, err, boom)

	b.Fail("q", nil)
	id, err := b.Add(ctx, "q", "n", queue.Payload{})
	require.NoError(t, err)

	job, err := b.Job(ctx, "q", id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.True(t, b.RemoveJob("q", id))
	assert.False(t, b.RemoveJob("q", id))

	_, err = b.Job(ctx, "q", id)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}
