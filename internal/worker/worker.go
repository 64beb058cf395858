package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/quizhub/delivery-be/internal/attempts"
	"github.com/quizhub/delivery-be/internal/delivery"
	"github.com/quizhub/delivery-be/internal/jobs/domain"
	"github.com/quizhub/delivery-be/shared/rabbitmq"
)

// JobStore is the job persistence surface the worker needs before handing a
// job to the runner.
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	MarkTerminal(ctx context.Context, jobID, status, lastError string, progress delivery.Progress, failures []delivery.FailureRecord) error
}

// AttemptStore loads the delivery input for a job's attempt.
type AttemptStore interface {
	LoadForDelivery(ctx context.Context, attemptID string) (*attempts.Attempt, *delivery.Input, error)
}

// JobRunner executes one claimed delivery job end-to-end.
type JobRunner interface {
	Run(ctx context.Context, jobID string, input delivery.Input) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	JobStore      JobStore
	AttemptStore  AttemptStore
	Runner        JobRunner
	Concurrency   int
	PrefetchCount int
	MaxJobs       int
}

// Worker consumes delivery job dispatch messages and executes them with a
// goroutine pool. Jobs for different attempts run concurrently; items within
// one job stay sequential inside the runner.
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	jobStore      JobStore
	attemptStore  AttemptStore
	runner        JobRunner
	concurrency   int
	prefetchCount int
	workerID      string
	jobsChan      chan *domain.JobMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	maxJobs := cfg.MaxJobs
	if maxJobs <= 0 {
		maxJobs = cfg.Concurrency
	}

	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		jobStore:      cfg.JobStore,
		attemptStore:  cfg.AttemptStore,
		runner:        cfg.Runner,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		workerID:      fmt.Sprintf("delivery-worker-%s", uuid.New().String()[:8]),
		jobsChan:      make(chan *domain.JobMessage, maxJobs),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing delivery jobs. It blocks until ctx
// is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	go w.startMessageDispatcher(ctx, deliveries)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
