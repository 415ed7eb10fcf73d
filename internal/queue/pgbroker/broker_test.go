package pgbroker

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/cog-core/internal/queue"
)

var testNow = time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC)

type fakePublisher struct {
	declared  []string
	published []Message
	err       error
}

func (p *fakePublisher) DeclareQueue(name string) error {
	if p.err != nil {
		return p.err
	}
	p.declared = append(p.declared, name)
	return nil
}

func (p *fakePublisher) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	if p.err != nil {
		return p.err
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return err
	}
	p.published = append(p.published, m)
	return nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantUnavailable bool
	}{
		{name: "bad connection", err: driver.ErrBadConn, wantUnavailable: true},
		{name: "connection done", err: sql.ErrConnDone, wantUnavailable: true},
		{name: "network error", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, wantUnavailable: true},
		{name: "connection exception class", err: &pq.Error{Code: "08006"}, wantUnavailable: true},
		{name: "admin shutdown", err: &pq.Error{Code: "57P01"}, wantUnavailable: true},
		{name: "unique violation", err: &pq.Error{Code: "23505"}, wantUnavailable: false},
		{name: "syntax error", err: &pq.Error{Code: "42601"}, wantUnavailable: false},
		{name: "wrapped network error", err: fmt.Errorf("query: %w", &net.OpError{Op: "read", Err: errors.New("reset")}), wantUnavailable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.wantUnavailable, errors.Is(err, queue.ErrBrokerUnavailable))
			assert.Contains(t, err.Error(), "op")
		})
	}

	assert.NoError(t, classify("op", nil))
}

func TestIsDomainError(t *testing.T) {
	assert.True(t, isDomainError(fmt.Errorf("%w: k", queue.ErrScheduleNotFound)))
	assert.True(t, isDomainError(queue.ErrInvalidCron))
	assert.False(t, isDomainError(driver.ErrBadConn))
}

func TestDeclare(t *testing.T) {
	pub := &fakePublisher{}
	b := New(nil, pub, Options{})

	require.NoError(t, b.Declare(context.Background(), "healthcheck"))
	assert.Equal(t, []string{"healthcheck"}, pub.declared)

	pub.err = errors.New("channel closed")
	err := b.Declare(context.Background(), "scanEntireChannel")
	assert.ErrorIs(t, err, queue.ErrBrokerUnavailable)
}

func TestPublish(t *testing.T) {
	pub := &fakePublisher{}
	b := New(nil, pub, Options{})

	require.NoError(t, b.publish(context.Background(), "healthcheck", "job-1"))
	assert.Equal(t, []Message{{JobID: "job-1", Queue: "healthcheck"}}, pub.published)
}

func TestNew_Defaults(t *testing.T) {
	b := New(nil, &fakePublisher{}, Options{MaxRetries: -1})
	assert.Equal(t, 0, b.opts.MaxRetries)
	assert.Equal(t, 300, b.opts.TimeoutSeconds)
	assert.NotNil(t, b.logger)
}

func newMockBroker(t *testing.T) (*Broker, sqlmock.Sqlmock, *fakePublisher) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pub := &fakePublisher{}
	b := New(sqlx.NewDb(db, "postgres"), pub, Options{
		MaxRetries:     3,
		TimeoutSeconds: 60,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	b.now = func() time.Time { return testNow }
	return b, mock, pub
}

func TestMigrations(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	provider, err := newMigrationProvider(sqlx.NewDb(db, "postgres"))
	require.NoError(t, err)

	sources := provider.ListSources()
	require.Len(t, sources, 1)
	assert.Equal(t, int64(1), sources[0].Version)
	assert.Equal(t, goose.TypeSQL, sources[0].Type)

	data, err := fs.ReadFile(migrationsFS, "migrations/001_init.sql")
	require.NoError(t, err)

	sqlText := string(data)
	assert.True(t, strings.HasPrefix(sqlText, "-- +goose Up"))
	assert.Contains(t, sqlText, "-- +goose Down")
	for _, table := range []string{"repeatable_jobs", "queue_jobs"} {
		assert.Contains(t, sqlText, "CREATE TABLE IF NOT EXISTS "+table, table)
	}
}
