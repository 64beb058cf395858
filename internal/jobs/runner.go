package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quizhub/delivery-be/internal/delivery"
	"github.com/quizhub/delivery-be/internal/jobs/domain"
	"github.com/quizhub/delivery-be/internal/metrics"
)

// ProgressStore is the slice of job storage the runner needs.
type ProgressStore interface {
	MarkStarted(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress delivery.Progress) error
	MarkTerminal(ctx context.Context, jobID, status, lastError string, progress delivery.Progress, failures []delivery.FailureRecord) error
}

// Runner orchestrates one delivery job end-to-end: claims it, runs the
// engine with write-through progress, and records the terminal status. Once
// a job is claimed the runner owns its fate - engine failures and panics are
// contained and recorded, never propagated.
type Runner struct {
	store  ProgressStore
	engine *delivery.Engine
	logger *slog.Logger
}

// NewRunner creates a job runner.
func NewRunner(store ProgressStore, engine *delivery.Engine, logger *slog.Logger) *Runner {
	return &Runner{
		store:  store,
		engine: engine,
		logger: logger,
	}
}

// Run executes the job identified by jobID over input. It returns an error
// only when the job could not be claimed - the job is then untouched and the
// caller decides whether to requeue. After a successful claim, Run always
// returns nil.
func (r *Runner) Run(ctx context.Context, jobID string, input delivery.Input) error {
	if err := r.store.MarkStarted(ctx, jobID); err != nil {
		return fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}

	r.logger.Info("Delivery job started",
		slog.String("event", "delivery_job_started"),
		slog.String("job_id", jobID),
		slog.String("attempt_id", input.AttemptID),
		slog.Int("total_items", len(input.Items)),
	)

	defer func() {
		if rec := recover(); rec != nil {
			r.finish(ctx, jobID, input.AttemptID, domain.JobStatusFailed,
				fmt.Sprintf("delivery job panic: %v", rec), delivery.Progress{Total: len(input.Items)}, nil)
		}
	}()

	outcome := r.engine.Run(ctx, input, func(progress delivery.Progress) {
		if err := r.store.UpdateProgress(ctx, jobID, progress); err != nil {
			r.logger.Warn("Failed to persist job progress",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	})

	status, lastError := mapOutcome(outcome)
	r.finish(ctx, jobID, input.AttemptID, status, lastError, outcome.Progress, outcome.Failures)
	return nil
}

// finish records the terminal status and emits the matching log event.
func (r *Runner) finish(ctx context.Context, jobID, attemptID, status, lastError string, progress delivery.Progress, failures []delivery.FailureRecord) {
	if err := r.store.MarkTerminal(ctx, jobID, status, lastError, progress, failures); err != nil {
		r.logger.Error("Failed to record terminal job status",
			slog.String("job_id", jobID),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}

	metrics.JobOutcomes.WithLabelValues(status).Inc()

	attrs := []any{
		slog.String("job_id", jobID),
		slog.String("attempt_id", attemptID),
		slog.Int("succeeded_items", progress.Succeeded),
		slog.Int("failed_items", progress.Failed),
	}

	switch status {
	case domain.JobStatusCompleted:
		r.logger.Info("Delivery job completed",
			append([]any{slog.String("event", "delivery_job_completed")}, attrs...)...)
	case domain.JobStatusCompletedWithErrors:
		r.logger.Warn("Delivery job completed with errors",
			append([]any{slog.String("event", "delivery_job_completed_with_errors"), slog.String("last_error", lastError)}, attrs...)...)
	default:
		r.logger.Error("Delivery job failed",
			append([]any{slog.String("event", "delivery_job_failed"), slog.String("last_error", lastError)}, attrs...)...)
	}
}

// mapOutcome projects an engine outcome onto the persisted job status. A
// skipped run (missing delivery configuration) is recorded as FAILED so
// pollers see a terminal state with an explanatory message.
func mapOutcome(outcome delivery.Outcome) (status, lastError string) {
	switch outcome.Status {
	case delivery.OutcomeCompleted:
		return domain.JobStatusCompleted, ""
	case delivery.OutcomeCompletedWithErrors:
		return domain.JobStatusCompletedWithErrors, outcome.ErrorMessage
	case delivery.OutcomeSkipped:
		return domain.JobStatusFailed, "missing notion config"
	default:
		return domain.JobStatusFailed, outcome.ErrorMessage
	}
}
