package delivery

import (
	"context"
	"log/slog"
	"time"
)

// PageClient is the external record-keeping API surface the engine needs:
// one existence query and one create per item.
type PageClient interface {
	Exists(ctx context.Context, attemptID string, item Item) (bool, error)
	CreatePage(ctx context.Context, attemptID string, item Item) error
}

// RetryClassifier decides whether an item failure is worth another attempt.
type RetryClassifier func(error) bool

// RetryPolicy wraps a PageClient with bounded exponential backoff for a
// single item. Each attempt re-runs the existence check before creating, so
// a retry after a create that actually landed remotely is caught as a
// duplicate instead of producing a second page.
type RetryPolicy struct {
	client      PageClient
	isRetryable RetryClassifier
	maxRetries  int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// NewRetryPolicy creates a retry policy around client. maxRetries is the
// total attempt budget per item (default 3), baseDelay the first backoff
// interval; attempt n waits baseDelay * 2^(n-1) before retrying.
func NewRetryPolicy(client PageClient, isRetryable RetryClassifier, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	return &RetryPolicy{
		client:      client,
		isRetryable: isRetryable,
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		logger:      logger,
	}
}

// DeliverItem delivers one item. createdNew is false when the item was
// already present remotely (idempotent skip). A non-retryable failure or an
// exhausted attempt budget returns the last error.
func (p *RetryPolicy) DeliverItem(ctx context.Context, attemptID string, item Item) (createdNew bool, err error) {
	var lastErr error

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		exists, existsErr := p.client.Exists(ctx, attemptID, item)
		if existsErr == nil {
			if exists {
				return false, nil
			}

			createErr := p.client.CreatePage(ctx, attemptID, item)
			if createErr == nil {
				return true, nil
			}
			lastErr = createErr
		} else {
			lastErr = existsErr
		}

		if attempt >= p.maxRetries || !p.isRetryable(lastErr) {
			break
		}

		backoff := p.baseDelay * (1 << uint(attempt-1))
		p.logger.Warn("Item delivery failed, retrying",
			slog.String("attempt_id", attemptID),
			slog.String("category", item.Category),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", p.maxRetries),
			slog.Duration("backoff", backoff),
			slog.String("error", lastErr.Error()),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return false, lastErr
}
