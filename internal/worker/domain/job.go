package domain

import (
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Job is a claimed row of queue_jobs
type Job struct {
	JobID          string          `db:"job_id"`
	QueueName      string          `db:"queue_name"`
	JobName        string          `db:"job_name"`
	Payload        json.RawMessage `db:"payload"`
	Status         string          `db:"status"`
	WorkerID       string          `db:"worker_id"`
	RetryCount     int             `db:"retry_count"`
	MaxRetries     int             `db:"max_retries"`
	TimeoutSeconds int             `db:"timeout_seconds"`
}

// Envelope is the payload stored with every job
type Envelope struct {
	ReqBody json.RawMessage `json:"reqBody"`
	Calls   *int            `json:"calls"`
}

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	JobID       string            `json:"job_id"`
	Queue       string            `json:"queue"`
	DeliveryTag uint64            `json:"-"`
	Acker       amqp.Acknowledger `json:"-"`
}
