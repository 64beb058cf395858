package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quizhub/delivery-be/internal/delivery"
	"github.com/quizhub/delivery-be/internal/jobs/domain"
)

// Postgres error codes used for classification.
const (
	pgUniqueViolation = "23505"
	pgUndefinedTable  = "42P01"
)

// Storage persists delivery job records. The one-active-job-per-attempt
// invariant is enforced by a partial unique index on (attempt_id, user_id)
// over non-terminal statuses, not in application logic.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a job storage over an established database handle.
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `
	job_id, attempt_id, user_id, status,
	total_items, processed_items, succeeded_items, failed_items,
	last_error, failed_items_json, created_at, updated_at, started_at, finished_at
`

// CreateIfNoneActive inserts a new QUEUED job unless another job for the
// same (attempt, user) is still active. When the unique guard fires -
// including the race where two creations land simultaneously - the loser
// re-queries and returns the winner's job with ErrActiveJobExists.
func (s *Storage) CreateIfNoneActive(ctx context.Context, attemptID, userID string, totalItems int) (*domain.Job, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:         uuid.New().String(),
		AttemptID:  attemptID,
		UserID:     userID,
		Status:     domain.JobStatusQueued,
		TotalItems: totalItems,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	query := `
		INSERT INTO delivery_jobs (
			job_id, attempt_id, user_id, status,
			total_items, processed_items, succeeded_items, failed_items,
			last_error, failed_items_json, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 0, 0, 0, '', '[]', $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.AttemptID, job.UserID, job.Status,
		job.TotalItems, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			winner, findErr := s.FindActive(ctx, attemptID, userID)
			if findErr != nil {
				return nil, fmt.Errorf("failed to read active job after conflict: %w", findErr)
			}
			if winner == nil {
				// The winner finished between our insert and the re-query.
				winner, findErr = s.FindLatest(ctx, attemptID, userID)
				if findErr != nil {
					return nil, fmt.Errorf("failed to read latest job after conflict: %w", findErr)
				}
			}
			return winner, domain.ErrActiveJobExists
		}
		if isPgError(err, pgUndefinedTable) {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Delivery job created",
		slog.String("job_id", job.ID),
		slog.String("attempt_id", attemptID),
		slog.Int("total_items", totalItems),
	)

	return job, nil
}

// FindActive returns the QUEUED or IN_PROGRESS job for (attempt, user), or
// nil when none is active.
func (s *Storage) FindActive(ctx context.Context, attemptID, userID string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM delivery_jobs
		WHERE attempt_id = $1 AND user_id = $2 AND status IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.queryJob(ctx, query, attemptID, userID, domain.JobStatusQueued, domain.JobStatusInProgress)
}

// FindLatest returns the most recent job for (attempt, user) regardless of
// status, or nil when no job has ever run.
func (s *Storage) FindLatest(ctx context.Context, attemptID, userID string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM delivery_jobs
		WHERE attempt_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.queryJob(ctx, query, attemptID, userID)
}

// GetJobByID returns the job with the given id.
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM delivery_jobs
		WHERE job_id = $1
	`
	job, err := s.queryJob(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// MarkStarted transitions QUEUED -> IN_PROGRESS and stamps started_at. A job
// no longer in QUEUED status returns ErrJobNotClaimable; the runner that
// owns it keeps ownership.
func (s *Storage) MarkStarted(ctx context.Context, jobID string) error {
	query := `
		UPDATE delivery_jobs
		SET status = $1, started_at = NOW(), updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusInProgress, jobID, domain.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to mark job started: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotClaimable
	}

	return nil
}

// UpdateProgress writes the live counters for an in-flight job. Writes are
// last-write-wins; only the single runner owning the job id is expected to
// call this.
func (s *Storage) UpdateProgress(ctx context.Context, jobID string, progress delivery.Progress) error {
	query := `
		UPDATE delivery_jobs
		SET processed_items = $1,
		    succeeded_items = $2,
		    failed_items = $3,
		    last_error = $4,
		    updated_at = NOW()
		WHERE job_id = $5
	`

	_, err := s.db.ExecContext(ctx, query,
		progress.Processed, progress.Succeeded, progress.Failed, progress.LastError, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	return nil
}

// MarkTerminal moves an active job to a terminal status, stamping
// finished_at and recording the final counters and failure details. The
// status guard keeps terminal statuses monotonic.
func (s *Storage) MarkTerminal(ctx context.Context, jobID, status, lastError string, progress delivery.Progress, failures []delivery.FailureRecord) error {
	failedJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("failed to marshal failure details: %w", err)
	}
	if failures == nil {
		failedJSON = []byte("[]")
	}

	query := `
		UPDATE delivery_jobs
		SET status = $1,
		    processed_items = $2,
		    succeeded_items = $3,
		    failed_items = $4,
		    last_error = $5,
		    failed_items_json = $6,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $7 AND status IN ($8, $9)
	`

	result, err := s.db.ExecContext(ctx, query,
		status, progress.Processed, progress.Succeeded, progress.Failed,
		lastError, failedJSON, jobID,
		domain.JobStatusQueued, domain.JobStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job terminal: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		s.logger.Warn("Terminal update touched no rows - job already terminal",
			slog.String("job_id", jobID),
			slog.String("status", status),
		)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// queryJob runs a single-row job query, returning nil without error when no
// row matches.
func (s *Storage) queryJob(ctx context.Context, query string, args ...interface{}) (*domain.Job, error) {
	var (
		job        domain.Job
		lastError  sql.NullString
		failedJSON []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&job.ID, &job.AttemptID, &job.UserID, &job.Status,
		&job.TotalItems, &job.ProcessedItems, &job.SucceededItems, &job.FailedItems,
		&lastError, &failedJSON, &job.CreatedAt, &job.UpdatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if isPgError(err, pgUndefinedTable) {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	if lastError.Valid {
		job.LastError = lastError.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	if len(failedJSON) > 0 {
		if err := json.Unmarshal(failedJSON, &job.FailedDetails); err != nil {
			return nil, fmt.Errorf("failed to decode failure details: %w", err)
		}
	}

	return &job, nil
}

func isPgError(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
