package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id has no row.
	ErrJobNotFound = errors.New("job not found")

	// ErrActiveJobExists is returned by the conditional create when another
	// job for the same (attempt, user) is QUEUED or IN_PROGRESS. The caller
	// receives the winner's job alongside this error.
	ErrActiveJobExists = errors.New("an active delivery job already exists for this attempt")

	// ErrJobNotClaimable is returned when a start transition finds the job
	// no longer in QUEUED status - another runner owns it or it is terminal.
	ErrJobNotClaimable = errors.New("job is not in QUEUED status")

	// ErrStoreUnavailable is returned when the job table itself is missing,
	// signalling the enqueuer's degraded synchronous mode.
	ErrStoreUnavailable = errors.New("job store unavailable")
)

// RetryableError wraps transient failures that should trigger a requeue of
// the dispatch message.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
