package delivery

import (
	"context"
	"log/slog"

	"github.com/quizhub/delivery-be/internal/metrics"
)

// ItemDeliverer delivers a single item with whatever retry behavior it owns.
type ItemDeliverer interface {
	DeliverItem(ctx context.Context, attemptID string, item Item) (createdNew bool, err error)
}

// ProgressFunc receives the counter snapshot after every processed item. It
// is invoked synchronously so callers can persist incremental state before
// the next item starts.
type ProgressFunc func(Progress)

// Engine iterates the items of one delivery job in input order, accumulates
// success/failure counts, and classifies the terminal outcome. Items are
// processed strictly sequentially; per-item failures never abort the run.
type Engine struct {
	deliverer ItemDeliverer
	cache     *DedupCache
	logger    *slog.Logger
}

// NewEngine creates an engine. deliverer may be nil when delivery is not
// configured; every run is then skipped before touching any item. cache is
// optional.
func NewEngine(deliverer ItemDeliverer, cache *DedupCache, logger *slog.Logger) *Engine {
	return &Engine{
		deliverer: deliverer,
		cache:     cache,
		logger:    logger,
	}
}

// Enabled reports whether the engine has a configured delivery client.
func (e *Engine) Enabled() bool {
	return e.deliverer != nil
}

// Run processes every item of input and returns the terminal outcome.
func (e *Engine) Run(ctx context.Context, input Input, onProgress ProgressFunc) Outcome {
	if e.deliverer == nil {
		return Outcome{
			Status:       OutcomeSkipped,
			ErrorMessage: "missing notion config",
		}
	}

	progress := Progress{Total: len(input.Items)}
	var failures []FailureRecord
	createdAny := false

	for _, item := range input.Items {
		createdNew, err := e.deliverItem(ctx, input.AttemptID, item)

		progress.Processed++
		if err != nil {
			progress.Failed++
			progress.LastError = err.Error()
			failures = append(failures, FailureRecord{
				Category:     item.Category,
				Level:        item.Level,
				QuestionText: item.QuestionText,
				ErrorMessage: err.Error(),
			})
			metrics.ItemResults.WithLabelValues("failed").Inc()
		} else {
			progress.Succeeded++
			if createdNew {
				createdAny = true
				metrics.ItemResults.WithLabelValues("created").Inc()
			} else {
				metrics.ItemResults.WithLabelValues("skipped").Inc()
			}
		}

		if onProgress != nil {
			onProgress(progress)
		}
	}

	if progress.Total == 0 && onProgress != nil {
		onProgress(progress)
	}

	return e.classify(progress, failures, createdAny)
}

// deliverItem consults the dedup cache before going remote and records
// confirmed deliveries back into it.
func (e *Engine) deliverItem(ctx context.Context, attemptID string, item Item) (bool, error) {
	if e.cache.Seen(ctx, attemptID, item) {
		metrics.CacheHits.Inc()
		e.logger.Debug("Item found in dedup cache",
			slog.String("attempt_id", attemptID),
			slog.String("category", item.Category),
		)
		return false, nil
	}

	createdNew, err := e.deliverer.DeliverItem(ctx, attemptID, item)
	if err != nil {
		return false, err
	}

	e.cache.MarkDelivered(ctx, attemptID, item)
	return createdNew, nil
}

func (e *Engine) classify(progress Progress, failures []FailureRecord, createdAny bool) Outcome {
	outcome := Outcome{
		Progress: progress,
		Failures: failures,
	}

	switch {
	case progress.Total == 0:
		outcome.Status = OutcomeCompleted
		outcome.Duplicate = true

	case progress.Failed == 0:
		outcome.Status = OutcomeCompleted
		outcome.Duplicate = !createdAny

	case progress.Succeeded == 0:
		outcome.Status = OutcomeFailed
		outcome.ErrorMessage = progress.LastError

	default:
		outcome.Status = OutcomeCompletedWithErrors
		outcome.ErrorMessage = progress.LastError
	}

	return outcome
}
