package handler

import (
	"context"
	"log/slog"

	"github.com/quizhub/delivery-be/internal/attempts"
	"github.com/quizhub/delivery-be/internal/delivery"
	"github.com/quizhub/delivery-be/internal/jobs/domain"
)

// ContextUserIDKey is the gin context key under which the auth middleware
// stores the authenticated user id.
const ContextUserIDKey = "user_id"

// JobStore is the job persistence surface the handlers need.
type JobStore interface {
	CreateIfNoneActive(ctx context.Context, attemptID, userID string, totalItems int) (*domain.Job, error)
	FindLatest(ctx context.Context, attemptID, userID string) (*domain.Job, error)
	MarkTerminal(ctx context.Context, jobID, status, lastError string, progress delivery.Progress, failures []delivery.FailureRecord) error
}

// AttemptStore loads a finished attempt and its items for delivery.
type AttemptStore interface {
	LoadForDelivery(ctx context.Context, attemptID string) (*attempts.Attempt, *delivery.Input, error)
}

// Publisher dispatches job ids to the worker service.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers.
type Dependencies struct {
	Logger       *slog.Logger
	JobStore     JobStore
	AttemptStore AttemptStore
	Publisher    Publisher
	Engine       *delivery.Engine
}

// DeliveryHandler handles delivery enqueue and status polling requests.
type DeliveryHandler struct {
	logger       *slog.Logger
	jobStore     JobStore
	attemptStore AttemptStore
	publisher    Publisher
	engine       *delivery.Engine
}

// NewDeliveryHandler creates a new DeliveryHandler instance.
func NewDeliveryHandler(deps *Dependencies) *DeliveryHandler {
	return &DeliveryHandler{
		logger:       deps.Logger,
		jobStore:     deps.JobStore,
		attemptStore: deps.AttemptStore,
		publisher:    deps.Publisher,
		engine:       deps.Engine,
	}
}
