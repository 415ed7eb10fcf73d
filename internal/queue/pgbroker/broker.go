// Package pgbroker is the durable queue.Broker. Jobs and repeatable series
// live in PostgreSQL; deliveries to workers go through RabbitMQ, one AMQP
// queue per function queue.
package pgbroker

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"path"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/cuongbtq/cog-core/internal/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Job statuses stored in queue_jobs.
const (
	StatusDelayed   = "DELAYED"
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

var _ queue.Broker = (*Broker)(nil)
var _ queue.Promotable = (*Broker)(nil)
var _ queue.Republisher = (*Broker)(nil)

// Publisher delivers job notifications to workers.
type Publisher interface {
	DeclareQueue(name string) error
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Message is published for every job that becomes runnable.
type Message struct {
	JobID string `json:"job_id"`
	Queue string `json:"queue"`
}

// Options configures job defaults.
type Options struct {
	MaxRetries     int
	TimeoutSeconds int
	Logger         *slog.Logger
}

// Broker implements queue.Broker on PostgreSQL and RabbitMQ.
type Broker struct {
	db        *sqlx.DB
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Broker.
func New(db *sqlx.DB, publisher Publisher, opts Options) *Broker {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 300
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		db:        db,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Migrate brings the schema up to the latest embedded migration. Applied
// versions are tracked by goose in goose_db_version.
func Migrate(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	provider, err := newMigrationProvider(db)
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("pgbroker: apply migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("Applied migration",
			slog.Int64("version", r.Source.Version),
			slog.String("file", path.Base(r.Source.Path)),
			slog.Duration("duration", r.Duration),
		)
	}
	if len(results) == 0 {
		logger.Debug("Database schema is up to date")
	}

	return nil
}

func newMigrationProvider(db *sqlx.DB) (*goose.Provider, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("pgbroker: open migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db.DB, fsys)
	if err != nil {
		return nil, fmt.Errorf("pgbroker: load migrations: %w", err)
	}
	return provider, nil
}

// Declare implements queue.Broker.
func (b *Broker) Declare(ctx context.Context, queueName string) error {
	if err := b.publisher.DeclareQueue(queueName); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *Broker) publish(ctx context.Context, queueName, jobID string) error {
	body, err := marshalMessage(Message{JobID: jobID, Queue: queueName})
	if err != nil {
		return err
	}
	return b.publisher.PublishWithRetry(ctx, queueName, body, "application/json")
}

// classify marks connection-level failures as queue.ErrBrokerUnavailable so
// the queue layer retries them.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%w: pgbroker: %s: %v", queue.ErrBrokerUnavailable, op, err)
	}
	return fmt.Errorf("pgbroker: %s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isDomainError(err error) bool {
	return errors.Is(err, queue.ErrScheduleNotFound) ||
		errors.Is(err, queue.ErrJobNotFound) ||
		errors.Is(err, queue.ErrInvalidCron)
}
