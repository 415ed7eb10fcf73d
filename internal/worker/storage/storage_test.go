package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/cog-core/internal/worker/domain"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStorage(sqlx.NewDb(db, "postgres"), slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func TestStorage_ClaimJob(t *testing.T) {
	columns := []string{"job_id", "queue_name", "job_name", "payload", "status", "worker_id", "retry_count", "max_retries", "timeout_seconds"}

	tests := []struct {
		name    string
		expect  func(q *sqlmock.ExpectedQuery)
		wantErr error
	}{
		{
			name: "claims pending job",
			expect: func(q *sqlmock.ExpectedQuery) {
				q.WillReturnRows(sqlmock.NewRows(columns).
					AddRow("job-1", "healthcheck", "healthcheck", []byte(`{"reqBody":{}}`), domain.JobStatusRunning, "worker-1", 1, 3, 60))
			},
		},
		{
			name:    "already claimed",
			expect:  func(q *sqlmock.ExpectedQuery) { q.WillReturnError(sql.ErrNoRows) },
			wantErr: domain.ErrJobAlreadyClaimed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			tt.expect(mock.ExpectQuery(`UPDATE queue_jobs\s+SET status = \$1,\s+worker_id = \$2`).
				WithArgs(domain.JobStatusRunning, "worker-1", "job-1", domain.JobStatusPending))

			job, err := s.ClaimJob(context.Background(), "job-1", "worker-1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, job)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "healthcheck", job.QueueName)
			assert.Equal(t, 1, job.RetryCount)
			assert.Equal(t, 3, job.MaxRetries)
			assert.JSONEq(t, `{"reqBody":{}}`, string(job.Payload))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_ClaimJob_DatabaseError(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(`UPDATE queue_jobs`).WillReturnError(errors.New("connection reset"))

	_, err := s.ClaimJob(context.Background(), "job-1", "worker-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrJobAlreadyClaimed)
	assert.Contains(t, err.Error(), "failed to claim job")
}

func TestStorage_UpdateJobStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		result     json.RawMessage
		errorMsg   string
		wantResult any
	}{
		{
			name:       "completed with result",
			status:     domain.JobStatusCompleted,
			result:     json.RawMessage(`{"ok":true}`),
			wantResult: []byte(`{"ok":true}`),
		},
		{
			name:       "failed without result",
			status:     domain.JobStatusFailed,
			errorMsg:   "downstream returned 400",
			wantResult: []byte(nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			mock.ExpectExec(regexp.QuoteMeta("SET status = $1::text")).
				WithArgs(tt.status, tt.wantResult, tt.errorMsg, domain.JobStatusCompleted, domain.JobStatusFailed, "job-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, s.UpdateJobStatus(context.Background(), "job-1", tt.status, tt.result, tt.errorMsg))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_ScheduleRetry(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(`SET status = \$1,\s+retry_count = retry_count \+ 1`).
		WithArgs(domain.JobStatusPending, "timeout", "job-1", domain.JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ScheduleRetry(context.Background(), "job-1", "timeout"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_UpdateJobHeartbeat(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
	}{
		{name: "running job", affected: 1},
		{name: "job no longer running", affected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			mock.ExpectExec(regexp.QuoteMeta("SET last_heartbeat_at = NOW()")).
				WithArgs("job-1", domain.JobStatusRunning).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			require.NoError(t, s.UpdateJobHeartbeat(context.Background(), "job-1"))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
