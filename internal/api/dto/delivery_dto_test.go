package dto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizhub/delivery-be/internal/delivery"
	"github.com/quizhub/delivery-be/internal/jobs/domain"
)

func TestProjectStatus(t *testing.T) {
	tests := []struct {
		name        string
		job         *domain.Job
		wantStatus  string
		wantMessage string
	}{
		{
			name:       "queued",
			job:        &domain.Job{Status: domain.JobStatusQueued},
			wantStatus: StatusQueued,
		},
		{
			name:       "in progress",
			job:        &domain.Job{Status: domain.JobStatusInProgress},
			wantStatus: StatusInProgress,
		},
		{
			name:       "completed",
			job:        &domain.Job{Status: domain.JobStatusCompleted},
			wantStatus: StatusCompleted,
		},
		{
			name: "completed with errors projects as partial failure",
			job: &domain.Job{
				Status:      domain.JobStatusCompletedWithErrors,
				TotalItems:  10,
				FailedItems: 3,
			},
			wantStatus:  StatusPartialFailure,
			wantMessage: "3 of 10 items failed to deliver",
		},
		{
			name: "failed carries last error",
			job: &domain.Job{
				Status:    domain.JobStatusFailed,
				LastError: "missing notion config",
			},
			wantStatus:  StatusFailed,
			wantMessage: "missing notion config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := ProjectStatus(tt.job)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantMessage, message)
		})
	}
}

func TestFromJob(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	finished := created.Add(time.Minute)

	job := &domain.Job{
		ID:             "job-1",
		AttemptID:      "attempt-1",
		Status:         domain.JobStatusCompletedWithErrors,
		TotalItems:     5,
		ProcessedItems: 5,
		SucceededItems: 3,
		FailedItems:    2,
		LastError:      "boom",
		FailedDetails: []delivery.FailureRecord{
			{Category: "history", Level: 2, QuestionText: "q", ErrorMessage: "boom"},
		},
		CreatedAt:  created,
		StartedAt:  &started,
		FinishedAt: &finished,
	}

	snapshot := FromJob(job)

	assert.Equal(t, "job-1", snapshot.JobID)
	assert.Equal(t, StatusPartialFailure, snapshot.Status)
	assert.Equal(t, "2 of 5 items failed to deliver", snapshot.Message)
	assert.Equal(t, 5, snapshot.TotalItems)
	assert.Equal(t, 3, snapshot.SucceededItems)
	assert.Equal(t, "2025-03-01T12:00:00Z", snapshot.CreatedAt)
	assert.Equal(t, "2025-03-01T12:00:01Z", snapshot.StartedAt)
	assert.Equal(t, "2025-03-01T12:01:00Z", snapshot.FinishedAt)

	require.Len(t, snapshot.FailedDetails, 1)
	assert.Equal(t, "history", snapshot.FailedDetails[0].Category)
}

func TestFromJob_TimestampsOmittedWhenUnset(t *testing.T) {
	snapshot := FromJob(&domain.Job{
		ID:        "job-1",
		AttemptID: "attempt-1",
		Status:    domain.JobStatusQueued,
		CreatedAt: time.Now(),
	})

	assert.Empty(t, snapshot.StartedAt)
	assert.Empty(t, snapshot.FinishedAt)
	assert.Empty(t, snapshot.FailedDetails)
}

func TestFromOutcome(t *testing.T) {
	tests := []struct {
		name        string
		outcome     delivery.Outcome
		wantStatus  string
		wantMessage string
	}{
		{
			name: "completed",
			outcome: delivery.Outcome{
				Status:   delivery.OutcomeCompleted,
				Progress: delivery.Progress{Total: 3, Processed: 3, Succeeded: 3},
			},
			wantStatus: StatusCompleted,
		},
		{
			name: "partial failure",
			outcome: delivery.Outcome{
				Status:   delivery.OutcomeCompletedWithErrors,
				Progress: delivery.Progress{Total: 4, Processed: 4, Succeeded: 3, Failed: 1},
			},
			wantStatus:  StatusPartialFailure,
			wantMessage: "1 of 4 items failed to deliver",
		},
		{
			name: "failed",
			outcome: delivery.Outcome{
				Status:       delivery.OutcomeFailed,
				ErrorMessage: "boom",
				Progress:     delivery.Progress{Total: 2, Processed: 2, Failed: 2},
			},
			wantStatus: StatusFailed,
		},
		{
			name:        "skipped",
			outcome:     delivery.Outcome{Status: delivery.OutcomeSkipped},
			wantStatus:  StatusFailed,
			wantMessage: "delivery is not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := FromOutcome("attempt-1", tt.outcome)

			assert.Empty(t, snapshot.JobID, "synchronous snapshots have no job row")
			assert.Equal(t, "attempt-1", snapshot.AttemptID)
			assert.Equal(t, tt.wantStatus, snapshot.Status)
			assert.Equal(t, tt.wantMessage, snapshot.Message)
		})
	}
}

func TestIdleSnapshot(t *testing.T) {
	snapshot := IdleSnapshot("attempt-1")

	assert.Equal(t, "attempt-1", snapshot.AttemptID)
	assert.Equal(t, StatusIdle, snapshot.Status)
	assert.Empty(t, snapshot.JobID)
}
