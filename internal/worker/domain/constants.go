package domain

// Job status constants, shared with the broker's queue_jobs table
const (
	JobStatusDelayed   = "DELAYED"
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)
