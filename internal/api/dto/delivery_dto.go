package dto

import (
	"fmt"
	"time"

	"github.com/quizhub/delivery-be/internal/delivery"
	"github.com/quizhub/delivery-be/internal/jobs/domain"
)

// External status values surfaced to pollers. COMPLETED_WITH_ERRORS has
// exactly one projection - StatusPartialFailure with a count-of-failures
// message - so boundary implementations cannot diverge.
const (
	StatusIdle           = "idle"
	StatusQueued         = "queued"
	StatusInProgress     = "in_progress"
	StatusCompleted      = "completed"
	StatusPartialFailure = "partial_failure"
	StatusFailed         = "failed"
)

// FailedItem is one item that exhausted its retries, as shown to clients.
type FailedItem struct {
	Category     string `json:"category"`
	Level        int    `json:"level"`
	QuestionText string `json:"question_text"`
	ErrorMessage string `json:"error_message"`
}

// JobSnapshot is the client-facing view of one delivery job.
type JobSnapshot struct {
	JobID          string       `json:"job_id,omitempty"`
	AttemptID      string       `json:"attempt_id"`
	Status         string       `json:"status"`
	Message        string       `json:"message,omitempty"`
	TotalItems     int          `json:"total_items"`
	ProcessedItems int          `json:"processed_items"`
	SucceededItems int          `json:"succeeded_items"`
	FailedItems    int          `json:"failed_items"`
	LastError      string       `json:"last_error,omitempty"`
	FailedDetails  []FailedItem `json:"failed_item_details,omitempty"`
	CreatedAt      string       `json:"created_at,omitempty"`
	StartedAt      string       `json:"started_at,omitempty"`
	FinishedAt     string       `json:"finished_at,omitempty"`
}

// ProjectStatus maps a persisted job status to its external status and an
// optional human-readable message.
func ProjectStatus(job *domain.Job) (status, message string) {
	switch job.Status {
	case domain.JobStatusQueued:
		return StatusQueued, ""
	case domain.JobStatusInProgress:
		return StatusInProgress, ""
	case domain.JobStatusCompleted:
		return StatusCompleted, ""
	case domain.JobStatusCompletedWithErrors:
		return StatusPartialFailure, fmt.Sprintf("%d of %d items failed to deliver", job.FailedItems, job.TotalItems)
	default:
		return StatusFailed, job.LastError
	}
}

// FromJob builds the client snapshot for a persisted job.
func FromJob(job *domain.Job) JobSnapshot {
	status, message := ProjectStatus(job)

	snapshot := JobSnapshot{
		JobID:          job.ID,
		AttemptID:      job.AttemptID,
		Status:         status,
		Message:        message,
		TotalItems:     job.TotalItems,
		ProcessedItems: job.ProcessedItems,
		SucceededItems: job.SucceededItems,
		FailedItems:    job.FailedItems,
		LastError:      job.LastError,
		FailedDetails:  fromFailures(job.FailedDetails),
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
	}

	if job.StartedAt != nil {
		snapshot.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		snapshot.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}

	return snapshot
}

// FromOutcome synthesizes a one-shot snapshot for the degraded synchronous
// path, where no job row exists.
func FromOutcome(attemptID string, outcome delivery.Outcome) JobSnapshot {
	snapshot := JobSnapshot{
		AttemptID:      attemptID,
		TotalItems:     outcome.Progress.Total,
		ProcessedItems: outcome.Progress.Processed,
		SucceededItems: outcome.Progress.Succeeded,
		FailedItems:    outcome.Progress.Failed,
		LastError:      outcome.ErrorMessage,
		FailedDetails:  fromFailures(outcome.Failures),
	}

	switch outcome.Status {
	case delivery.OutcomeCompleted:
		snapshot.Status = StatusCompleted
	case delivery.OutcomeCompletedWithErrors:
		snapshot.Status = StatusPartialFailure
		snapshot.Message = fmt.Sprintf("%d of %d items failed to deliver", outcome.Progress.Failed, outcome.Progress.Total)
	case delivery.OutcomeSkipped:
		snapshot.Status = StatusFailed
		snapshot.Message = "delivery is not configured"
		snapshot.LastError = "missing notion config"
	default:
		snapshot.Status = StatusFailed
	}

	return snapshot
}

// IdleSnapshot is returned when no delivery job has ever run for an attempt.
func IdleSnapshot(attemptID string) JobSnapshot {
	return JobSnapshot{
		AttemptID: attemptID,
		Status:    StatusIdle,
	}
}

func fromFailures(failures []delivery.FailureRecord) []FailedItem {
	if len(failures) == 0 {
		return nil
	}

	items := make([]FailedItem, len(failures))
	for i, f := range failures {
		items[i] = FailedItem{
			Category:     f.Category,
			Level:        f.Level,
			QuestionText: f.QuestionText,
			ErrorMessage: f.ErrorMessage,
		}
	}
	return items
}
