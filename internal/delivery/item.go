package delivery

// Item is one graded question of a finished attempt, the unit of delivery
// and retry. Items are derived from attempt storage and never persisted by
// this subsystem.
type Item struct {
	Order         int
	Category      string
	Level         int
	QuestionText  string
	Choices       []string
	AnswerIndex   int
	SelectedIndex *int
	IsCorrect     *bool
	Explanation   string
}

// Input is the full payload handed to the engine for one delivery job.
type Input struct {
	AttemptID string
	UserID    string
	Items     []Item
}

// FailureRecord captures one item that exhausted its retries.
type FailureRecord struct {
	Category     string `json:"category"`
	Level        int    `json:"level"`
	QuestionText string `json:"question_text"`
	ErrorMessage string `json:"error_message"`
}

// Progress is the counter snapshot reported after every processed item.
// Invariant: Processed == Succeeded + Failed <= Total.
type Progress struct {
	Total     int
	Processed int
	Succeeded int
	Failed    int
	LastError string
}

// OutcomeStatus classifies how an engine run ended.
type OutcomeStatus string

const (
	// OutcomeCompleted means every item succeeded (or there were none).
	OutcomeCompleted OutcomeStatus = "completed"
	// OutcomeCompletedWithErrors means some items failed and some succeeded.
	OutcomeCompletedWithErrors OutcomeStatus = "completed_with_errors"
	// OutcomeFailed means no item succeeded and at least one was attempted.
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeSkipped means delivery credentials were not configured and no
	// network call was made.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the terminal result of one engine run.
type Outcome struct {
	Status       OutcomeStatus
	Progress     Progress
	Failures     []FailureRecord
	ErrorMessage string
	// Duplicate is true when nothing new was created remotely: either the
	// input was empty or every item was already present from a prior run.
	Duplicate bool
}
