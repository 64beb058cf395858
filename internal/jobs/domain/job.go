package domain

import (
	"time"

	"github.com/quizhub/delivery-be/internal/delivery"
)

// Job lifecycle statuses. Transitions are monotonic:
// QUEUED -> IN_PROGRESS -> {COMPLETED | COMPLETED_WITH_ERRORS | FAILED}.
const (
	JobStatusQueued              = "QUEUED"
	JobStatusInProgress          = "IN_PROGRESS"
	JobStatusCompleted           = "COMPLETED"
	JobStatusCompletedWithErrors = "COMPLETED_WITH_ERRORS"
	JobStatusFailed              = "FAILED"
)

// IsTerminal reports whether status permits no further transition.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed:
		return true
	}
	return false
}

// IsActive reports whether status counts against the one-active-job guard.
func IsActive(status string) bool {
	return status == JobStatusQueued || status == JobStatusInProgress
}

// Job is one tracked campaign to deliver all items of a finished attempt to
// the external store.
type Job struct {
	ID             string     `db:"job_id"`
	AttemptID      string     `db:"attempt_id"`
	UserID         string     `db:"user_id"`
	Status         string     `db:"status"`
	TotalItems     int        `db:"total_items"`
	ProcessedItems int        `db:"processed_items"`
	SucceededItems int        `db:"succeeded_items"`
	FailedItems    int        `db:"failed_items"`
	LastError      string     `db:"last_error"`
	FailedDetails  []delivery.FailureRecord
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	StartedAt      *time.Time `db:"started_at"`
	FinishedAt     *time.Time `db:"finished_at"`
}

// JobMessage is the dispatch payload published to RabbitMQ when a job is
// enqueued.
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
