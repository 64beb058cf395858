package attempts

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return NewStorage(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func attemptRow(status string, hasResult bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"attempt_id", "user_id", "status", "started_at", "completed_at", "has_result"}).
		AddRow("attempt-1", "user-1", status, now, now, hasResult)
}

func TestStorage_Find(t *testing.T) {
	storage, mock := newTestStorage(t)

	mock.ExpectQuery("SELECT (.+) FROM attempts").
		WithArgs("attempt-1").
		WillReturnRows(attemptRow("COMPLETED", true))

	attempt, err := storage.Find(context.Background(), "attempt-1")

	require.NoError(t, err)
	assert.Equal(t, "attempt-1", attempt.ID)
	assert.Equal(t, "user-1", attempt.UserID)
	assert.True(t, attempt.Eligible())
}

func TestStorage_Find_NotFound(t *testing.T) {
	storage, mock := newTestStorage(t)

	mock.ExpectQuery("SELECT (.+) FROM attempts").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"attempt_id", "user_id", "status", "started_at", "completed_at", "has_result"}))

	attempt, err := storage.Find(context.Background(), "missing")

	require.ErrorIs(t, err, ErrAttemptNotFound)
	assert.Nil(t, attempt)
}

func TestAttempt_Eligible(t *testing.T) {
	tests := []struct {
		name   string
		status string
		result bool
		want   bool
	}{
		{"completed and graded", "COMPLETED", true, true},
		{"completed but ungraded", "COMPLETED", false, false},
		{"in progress", "IN_PROGRESS", true, false},
		{"abandoned", "ABANDONED", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempt := &Attempt{Status: tt.status, HasResult: tt.result}
			assert.Equal(t, tt.want, attempt.Eligible())
		})
	}
}

func TestStorage_LoadItems(t *testing.T) {
	storage, mock := newTestStorage(t)

	rows := sqlmock.NewRows([]string{
		"question_order", "category", "level", "question_text",
		"choices", "answer_index", "selected_index", "is_correct", "explanation",
	}).
		AddRow(0, "history", 2, "first?", []byte(`["a","b"]`), 0, 1, false, "because").
		AddRow(1, "math", 3, "second?", []byte(`["x","y","z"]`), 2, nil, nil, "")

	mock.ExpectQuery("SELECT (.+) FROM attempt_questions").
		WithArgs("attempt-1").
		WillReturnRows(rows)

	items, err := storage.LoadItems(context.Background(), "attempt-1")

	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, 0, items[0].Order)
	assert.Equal(t, "history", items[0].Category)
	assert.Equal(t, []string{"a", "b"}, items[0].Choices)
	require.NotNil(t, items[0].SelectedIndex)
	assert.Equal(t, 1, *items[0].SelectedIndex)
	require.NotNil(t, items[0].IsCorrect)
	assert.False(t, *items[0].IsCorrect)

	// Unanswered question keeps nil selection and correctness.
	assert.Nil(t, items[1].SelectedIndex)
	assert.Nil(t, items[1].IsCorrect)
}

func TestStorage_LoadForDelivery(t *testing.T) {
	storage, mock := newTestStorage(t)

	mock.ExpectQuery("SELECT (.+) FROM attempts").
		WillReturnRows(attemptRow("COMPLETED", true))
	mock.ExpectQuery("SELECT (.+) FROM attempt_questions").
		WillReturnRows(sqlmock.NewRows([]string{
			"question_order", "category", "level", "question_text",
			"choices", "answer_index", "selected_index", "is_correct", "explanation",
		}).AddRow(0, "history", 2, "q?", []byte(`["a","b"]`), 0, 0, true, ""))

	attempt, input, err := storage.LoadForDelivery(context.Background(), "attempt-1")

	require.NoError(t, err)
	assert.Equal(t, "attempt-1", attempt.ID)
	assert.Equal(t, "attempt-1", input.AttemptID)
	assert.Equal(t, "user-1", input.UserID)
	assert.Len(t, input.Items, 1)
}
