package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizhub/delivery-be/internal/api/dto"
	"github.com/quizhub/delivery-be/internal/attempts"
	"github.com/quizhub/delivery-be/internal/delivery"
	"github.com/quizhub/delivery-be/internal/jobs/domain"
)

const (
	testAttemptID = "f4b80d2e-7c3a-4f34-9a2e-3f6d1e5b8a01"
	testUserID    = "9e107d9d-3720-41ff-8f65-52e6b1a0f7c2"
)

type fakeJobStore struct {
	createJob  *domain.Job
	createErr  error
	latestJob  *domain.Job
	latestErr  error
	terminated []string
}

func (s *fakeJobStore) CreateIfNoneActive(context.Context, string, string, int) (*domain.Job, error) {
	return s.createJob, s.createErr
}

func (s *fakeJobStore) FindLatest(context.Context, string, string) (*domain.Job, error) {
	return s.latestJob, s.latestErr
}

func (s *fakeJobStore) MarkTerminal(_ context.Context, jobID, status, _ string, _ delivery.Progress, _ []delivery.FailureRecord) error {
	s.terminated = append(s.terminated, jobID+":"+status)
	return nil
}

type fakeAttemptStore struct {
	attempt *attempts.Attempt
	input   *delivery.Input
	err     error
}

func (s *fakeAttemptStore) LoadForDelivery(context.Context, string) (*attempts.Attempt, *delivery.Input, error) {
	return s.attempt, s.input, s.err
}

type fakePublisher struct {
	err    error
	bodies [][]byte
}

func (p *fakePublisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

type stubDeliverer struct {
	err error
}

func (d *stubDeliverer) DeliverItem(context.Context, string, delivery.Item) (bool, error) {
	return d.err == nil, d.err
}

func eligibleAttempt() (*attempts.Attempt, *delivery.Input) {
	completed := time.Now()
	attempt := &attempts.Attempt{
		ID:          testAttemptID,
		UserID:      testUserID,
		Status:      "COMPLETED",
		CompletedAt: &completed,
		HasResult:   true,
	}
	input := &delivery.Input{
		AttemptID: testAttemptID,
		UserID:    testUserID,
		Items:     []delivery.Item{{QuestionText: "q1"}, {QuestionText: "q2"}},
	}
	return attempt, input
}

func queuedJob() *domain.Job {
	return &domain.Job{
		ID:         "1c8f1e58-54ec-4a42-b2a7-0db3c2f6e9aa",
		AttemptID:  testAttemptID,
		UserID:     testUserID,
		Status:     domain.JobStatusQueued,
		TotalItems: 2,
		CreatedAt:  time.Now(),
	}
}

func setupTest(jobStore *fakeJobStore, attemptStore *fakeAttemptStore, publisher *fakePublisher, deliverer delivery.ItemDeliverer) *gin.Engine {
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewDeliveryHandler(&Dependencies{
		Logger:       logger,
		JobStore:     jobStore,
		AttemptStore: attemptStore,
		Publisher:    publisher,
		Engine:       delivery.NewEngine(deliverer, nil, logger),
	})

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ContextUserIDKey, testUserID)
	})
	router.POST("/api/v1/attempts/:attempt_id/delivery", handler.EnqueueDelivery)
	router.GET("/api/v1/attempts/:attempt_id/delivery", handler.GetDeliveryStatus)
	return router
}

func doRequest(router *gin.Engine, method, attemptID string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/api/v1/attempts/"+attemptID+"/delivery", nil)
	router.ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) dto.JobSnapshot {
	t.Helper()
	var snapshot dto.JobSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	return snapshot
}

func TestEnqueueDelivery_Accepted(t *testing.T) {
	attempt, input := eligibleAttempt()
	jobStore := &fakeJobStore{createJob: queuedJob()}
	publisher := &fakePublisher{}
	router := setupTest(jobStore, &fakeAttemptStore{attempt: attempt, input: input}, publisher, &stubDeliverer{})

	w := doRequest(router, http.MethodPost, testAttemptID)

	assert.Equal(t, http.StatusAccepted, w.Code)

	snapshot := decodeSnapshot(t, w)
	assert.Equal(t, dto.StatusQueued, snapshot.Status)
	assert.Equal(t, 2, snapshot.TotalItems)

	// The dispatch message carries only the job id.
	require.Len(t, publisher.bodies, 1)
	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &msg))
	assert.Equal(t, jobStore.createJob.ID, msg.JobID)
}

func TestEnqueueDelivery_InvalidAttemptID(t *testing.T) {
	router := setupTest(&fakeJobStore{}, &fakeAttemptStore{}, &fakePublisher{}, &stubDeliverer{})

	w := doRequest(router, http.MethodPost, "not-a-uuid")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueDelivery_AttemptNotFound(t *testing.T) {
	router := setupTest(&fakeJobStore{}, &fakeAttemptStore{err: attempts.ErrAttemptNotFound}, &fakePublisher{}, &stubDeliverer{})

	w := doRequest(router, http.MethodPost, testAttemptID)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnqueueDelivery_ForbiddenForOtherUser(t *testing.T) {
	attempt, input := eligibleAttempt()
	attempt.UserID = "someone-else"
	router := setupTest(&fakeJobStore{}, &fakeAttemptStore{attempt: attempt, input: input}, &fakePublisher{}, &stubDeliverer{})

	w := doRequest(router, http.MethodPost, testAttemptID)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEnqueueDelivery_IncompleteAttempt(t *testing.T) {
	attempt, input := eligibleAttempt()
	attempt.Status = "IN_PROGRESS"
	attempt.HasResult = false
	router := setupTest(&fakeJobStore{}, &fakeAttemptStore{attempt: attempt, input: input}, &fakePublisher{}, &stubDeliverer{})

	w := doRequest(router, http.MethodPost, testAttemptID)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueDelivery_DuplicateReturnsActiveJob(t *testing.T) {
	attempt, input := eligibleAttempt()
	winner := queuedJob()
	winner.Status = domain.JobStatusInProgress
	jobStore := &fakeJobStore{createJob: winner, createErr: domain.ErrActiveJobExists}
	publisher := &fakePublisher{}
	router := setupTest(jobStore, &fakeAttemptStore{attempt: attempt, input: input}, publisher, &stubDeliverer{})

	w := doRequest(router, http.MethodPost, testAttemptID)

	assert.Equal(t, http.StatusAccepted, w.Code)

	snapshot := decodeSnapshot(t, w)
	assert.Equal(t, dto.StatusInProgress, snapshot.Status)
	assert.Equal(t, winner.ID, snapshot.JobID)

	// No second dispatch for the duplicate.
	assert.Empty(t, publisher.bodies)
}

func TestEnqueueDelivery_PublishFailureFailsJob(t *testing.T) {
	attempt, input := eligibleAttempt()
	job := queuedJob()
	jobStore := &fakeJobStore{createJob: job}
	publisher := &fakePublisher{err: errors.New("broker down")}
	router := setupTest(jobStore, &fakeAttemptStore{attempt: attempt, input: input}, publisher, &stubDeliverer{})

	w := doRequest(router, http.MethodPost, testAttemptID)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	// The orphaned row is closed out so the active-job guard releases.
	require.Len(t, jobStore.terminated, 1)
	assert.Equal(t, job.ID+":"+domain.JobStatusFailed, jobStore.terminated[0])

	snapshot := decodeSnapshot(t, w)
	assert.Equal(t, dto.StatusFailed, snapshot.Status)
}

func TestEnqueueDelivery_SynchronousFallback(t *testing.T) {
	t.Run("successful run returns 200", func(t *testing.T) {
		attempt, input := eligibleAttempt()
		jobStore := &fakeJobStore{createErr: domain.ErrStoreUnavailable}
		router := setupTest(jobStore, &fakeAttemptStore{attempt: attempt, input: input}, &fakePublisher{}, &stubDeliverer{})

		w := doRequest(router, http.MethodPost, testAttemptID)

		assert.Equal(t, http.StatusOK, w.Code)

		snapshot := decodeSnapshot(t, w)
		assert.Equal(t, dto.StatusCompleted, snapshot.Status)
		assert.Empty(t, snapshot.JobID)
		assert.Equal(t, 2, snapshot.SucceededItems)
	})

	t.Run("failed run returns 502", func(t *testing.T) {
		attempt, input := eligibleAttempt()
		jobStore := &fakeJobStore{createErr: domain.ErrStoreUnavailable}
		router := setupTest(jobStore, &fakeAttemptStore{attempt: attempt, input: input}, &fakePublisher{}, &stubDeliverer{err: errors.New("boom")})

		w := doRequest(router, http.MethodPost, testAttemptID)

		assert.Equal(t, http.StatusBadGateway, w.Code)

		snapshot := decodeSnapshot(t, w)
		assert.Equal(t, dto.StatusFailed, snapshot.Status)
	})
}

func TestGetDeliveryStatus(t *testing.T) {
	t.Run("no job ever returns idle", func(t *testing.T) {
		router := setupTest(&fakeJobStore{}, &fakeAttemptStore{}, &fakePublisher{}, &stubDeliverer{})

		w := doRequest(router, http.MethodGet, testAttemptID)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, dto.StatusIdle, decodeSnapshot(t, w).Status)
	})

	t.Run("store unavailable returns idle", func(t *testing.T) {
		router := setupTest(&fakeJobStore{latestErr: domain.ErrStoreUnavailable}, &fakeAttemptStore{}, &fakePublisher{}, &stubDeliverer{})

		w := doRequest(router, http.MethodGet, testAttemptID)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, dto.StatusIdle, decodeSnapshot(t, w).Status)
	})

	t.Run("latest job is projected", func(t *testing.T) {
		job := queuedJob()
		job.Status = domain.JobStatusCompletedWithErrors
		job.ProcessedItems = 2
		job.SucceededItems = 1
		job.FailedItems = 1
		router := setupTest(&fakeJobStore{latestJob: job}, &fakeAttemptStore{}, &fakePublisher{}, &stubDeliverer{})

		w := doRequest(router, http.MethodGet, testAttemptID)

		assert.Equal(t, http.StatusOK, w.Code)

		snapshot := decodeSnapshot(t, w)
		assert.Equal(t, dto.StatusPartialFailure, snapshot.Status)
		assert.Equal(t, "1 of 2 items failed to deliver", snapshot.Message)
	})

	t.Run("invalid attempt id", func(t *testing.T) {
		router := setupTest(&fakeJobStore{}, &fakeAttemptStore{}, &fakePublisher{}, &stubDeliverer{})

		w := doRequest(router, http.MethodGet, "nope")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
