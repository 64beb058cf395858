package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quizhub/delivery-be/internal/api/dto"
	"github.com/quizhub/delivery-be/internal/attempts"
	"github.com/quizhub/delivery-be/internal/delivery"
	"github.com/quizhub/delivery-be/internal/jobs/domain"
	"github.com/quizhub/delivery-be/internal/metrics"
)

// EnqueueDelivery handles POST /api/v1/attempts/:attempt_id/delivery.
// Creates a delivery job for a completed attempt and dispatches it to the
// worker service. At most one active job per (attempt, user) exists at any
// time; a duplicate request gets the active job's snapshot back.
func (h *DeliveryHandler) EnqueueDelivery(c *gin.Context) {
	userID := c.GetString(ContextUserIDKey)
	attemptID := c.Param("attempt_id")

	if _, err := uuid.Parse(attemptID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attempt_id must be a valid UUID"})
		return
	}

	attempt, input, err := h.attemptStore.LoadForDelivery(c.Request.Context(), attemptID)
	if err != nil {
		if errors.Is(err, attempts.ErrAttemptNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
			return
		}
		h.logger.Error("Failed to load attempt for delivery",
			slog.String("attempt_id", attemptID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attempt"})
		return
	}

	if attempt.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	if !attempt.Eligible() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attempt must be completed before delivery"})
		return
	}

	job, err := h.jobStore.CreateIfNoneActive(c.Request.Context(), attemptID, userID, len(input.Items))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrActiveJobExists):
			if job == nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve active job"})
				return
			}
			h.logger.Info("Delivery already active, returning existing job",
				slog.String("attempt_id", attemptID),
				slog.String("job_id", job.ID),
			)
			c.JSON(http.StatusAccepted, dto.FromJob(job))
			return

		case errors.Is(err, domain.ErrStoreUnavailable):
			h.runSynchronousFallback(c, attemptID, input)
			return

		default:
			h.logger.Error("Failed to create delivery job",
				slog.String("attempt_id", attemptID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create delivery job"})
			return
		}
	}

	metrics.JobsEnqueued.Inc()

	body, err := json.Marshal(domain.JobMessage{JobID: job.ID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode job message"})
		return
	}

	if err := h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to dispatch delivery job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)

		// The job row exists but no worker will ever pick it up; close it
		// out so the active-job guard does not wedge the attempt.
		lastError := "failed to dispatch delivery job"
		if termErr := h.jobStore.MarkTerminal(c.Request.Context(), job.ID, domain.JobStatusFailed, lastError,
			delivery.Progress{Total: job.TotalItems}, nil); termErr != nil {
			h.logger.Error("Failed to fail undispatched job",
				slog.String("job_id", job.ID),
				slog.String("error", termErr.Error()),
			)
		}

		job.Status = domain.JobStatusFailed
		job.LastError = lastError
		c.JSON(http.StatusBadGateway, dto.FromJob(job))
		return
	}

	h.logger.Info("Delivery job enqueued",
		slog.String("job_id", job.ID),
		slog.String("attempt_id", attemptID),
		slog.Int("total_items", job.TotalItems),
	)

	c.JSON(http.StatusAccepted, dto.FromJob(job))
}

// runSynchronousFallback trades asynchrony for availability: when the job
// table is missing (migration not applied yet) the engine runs inline and a
// one-shot snapshot is synthesized. 502 only when the run is an outright
// failure.
func (h *DeliveryHandler) runSynchronousFallback(c *gin.Context, attemptID string, input *delivery.Input) {
	h.logger.Warn("Job store unavailable, running delivery synchronously",
		slog.String("attempt_id", attemptID),
	)

	outcome := h.engine.Run(c.Request.Context(), *input, nil)
	snapshot := dto.FromOutcome(attemptID, outcome)

	if outcome.Status == delivery.OutcomeFailed {
		c.JSON(http.StatusBadGateway, snapshot)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// GetDeliveryStatus handles GET /api/v1/attempts/:attempt_id/delivery.
// Read-only: returns the latest job snapshot, or an idle snapshot when no
// job has ever run for this attempt.
func (h *DeliveryHandler) GetDeliveryStatus(c *gin.Context) {
	userID := c.GetString(ContextUserIDKey)
	attemptID := c.Param("attempt_id")

	if _, err := uuid.Parse(attemptID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attempt_id must be a valid UUID"})
		return
	}

	job, err := h.jobStore.FindLatest(c.Request.Context(), attemptID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			c.JSON(http.StatusOK, dto.IdleSnapshot(attemptID))
			return
		}
		h.logger.Error("Failed to query delivery status",
			slog.String("attempt_id", attemptID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query delivery status"})
		return
	}

	if job == nil {
		c.JSON(http.StatusOK, dto.IdleSnapshot(attemptID))
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}
