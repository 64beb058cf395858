package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quizhub/delivery-be/internal/attempts"
	"github.com/quizhub/delivery-be/internal/delivery"
	"github.com/quizhub/delivery-be/internal/jobs/domain"
)

// processJob processes one dispatch message: fetches the job row, loads the
// attempt input, and hands both to the runner. Errors returned from here
// drive the ACK/NACK decision in the pool loop.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing delivery job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	job, err := w.jobStore.GetJobByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			w.logger.Warn("Dispatch message references unknown job",
				slog.String("job_id", msg.JobID),
			)
			return err
		}
		// Store errors before the claim are transient; let the message retry.
		return domain.NewRetryableError(fmt.Errorf("failed to fetch job: %w", err))
	}

	if domain.IsTerminal(job.Status) {
		w.logger.Warn("Job already terminal, skipping",
			slog.String("job_id", job.ID),
			slog.String("status", job.Status),
		)
		return nil
	}

	_, input, err := w.attemptStore.LoadForDelivery(ctx, job.AttemptID)
	if err != nil {
		if errors.Is(err, attempts.ErrAttemptNotFound) {
			// The attempt vanished between enqueue and execution; close the
			// job out so the guard releases.
			w.logger.Error("Attempt missing for delivery job",
				slog.String("job_id", job.ID),
				slog.String("attempt_id", job.AttemptID),
			)
			if termErr := w.jobStore.MarkTerminal(ctx, job.ID, domain.JobStatusFailed, "attempt not found",
				delivery.Progress{Total: job.TotalItems}, nil); termErr != nil {
				w.logger.Error("Failed to fail job with missing attempt",
					slog.String("job_id", job.ID),
					slog.String("error", termErr.Error()),
				)
			}
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load attempt: %w", err))
	}

	if err := w.runner.Run(ctx, job.ID, *input); err != nil {
		if errors.Is(err, domain.ErrJobNotClaimable) {
			w.logger.Warn("Job claimed elsewhere, skipping",
				slog.String("job_id", job.ID),
			)
			return err
		}
		return domain.NewRetryableError(err)
	}

	return nil
}
