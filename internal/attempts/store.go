// Package attempts is the read-only boundary to the quiz-taking side of the
// system: it loads a finished attempt and its graded questions as delivery
// items. No quiz-flow logic lives here.
package attempts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quizhub/delivery-be/internal/delivery"
)

const attemptStatusCompleted = "COMPLETED"

var (
	// ErrAttemptNotFound is returned when the attempt id has no row.
	ErrAttemptNotFound = errors.New("attempt not found")
)

// Attempt is the metadata needed to authorize and gate a delivery request.
type Attempt struct {
	ID          string     `db:"attempt_id"`
	UserID      string     `db:"user_id"`
	Status      string     `db:"status"`
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	HasResult   bool       `db:"has_result"`
}

// Eligible reports whether the attempt may be delivered: it must be
// finished and graded.
func (a *Attempt) Eligible() bool {
	return a.Status == attemptStatusCompleted && a.HasResult
}

// Storage reads attempts and their graded questions.
type Storage struct {
	db *sqlx.DB
}

// NewStorage creates an attempt storage over an established database handle.
func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// Find returns the attempt metadata, or ErrAttemptNotFound.
func (s *Storage) Find(ctx context.Context, attemptID string) (*Attempt, error) {
	query := `
		SELECT a.attempt_id, a.user_id, a.status, a.started_at, a.completed_at,
		       EXISTS (
		           SELECT 1 FROM attempt_results r WHERE r.attempt_id = a.attempt_id
		       ) AS has_result
		FROM attempts a
		WHERE a.attempt_id = $1
	`

	var attempt Attempt
	if err := s.db.GetContext(ctx, &attempt, query, attemptID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	return &attempt, nil
}

// LoadItems returns the attempt's graded questions in quiz order, shaped as
// delivery items.
func (s *Storage) LoadItems(ctx context.Context, attemptID string) ([]delivery.Item, error) {
	query := `
		SELECT aq.question_order, q.category, q.level, q.question_text,
		       q.choices, q.answer_index, aq.selected_index, aq.is_correct,
		       q.explanation
		FROM attempt_questions aq
		JOIN questions q ON q.question_id = aq.question_id
		WHERE aq.attempt_id = $1
		ORDER BY aq.question_order ASC
	`

	rows, err := s.db.QueryContext(ctx, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt questions: %w", err)
	}
	defer rows.Close()

	var items []delivery.Item
	for rows.Next() {
		var (
			item          delivery.Item
			choicesJSON   []byte
			selectedIndex sql.NullInt64
			isCorrect     sql.NullBool
		)

		if err := rows.Scan(
			&item.Order, &item.Category, &item.Level, &item.QuestionText,
			&choicesJSON, &item.AnswerIndex, &selectedIndex, &isCorrect,
			&item.Explanation,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt question: %w", err)
		}

		if err := json.Unmarshal(choicesJSON, &item.Choices); err != nil {
			return nil, fmt.Errorf("failed to decode question choices: %w", err)
		}

		if selectedIndex.Valid {
			v := int(selectedIndex.Int64)
			item.SelectedIndex = &v
		}
		if isCorrect.Valid {
			v := isCorrect.Bool
			item.IsCorrect = &v
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempt questions: %w", err)
	}

	return items, nil
}

// LoadForDelivery fetches the attempt and its items in one call, shaped as
// engine input.
func (s *Storage) LoadForDelivery(ctx context.Context, attemptID string) (*Attempt, *delivery.Input, error) {
	attempt, err := s.Find(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.LoadItems(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}

	return attempt, &delivery.Input{
		AttemptID: attempt.ID,
		UserID:    attempt.UserID,
		Items:     items,
	}, nil
}
