package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quizhub/delivery-be/internal/delivery"
)

const (
	notionVersion = "2022-06-28"

	// maxRichTextLength is the Notion API limit for a single rich text value.
	maxRichTextLength = 2000
)

// StatusError is a non-2xx response from the Notion API, kept structured so
// callers can classify it for retry decisions.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("notion %s failed: status=%d", e.Op, e.Code)
}

// IsRetryable reports whether an error from the client is worth retrying:
// rate limiting (429), server errors (>=500), and timeouts. Everything else
// (auth failures, bad requests, malformed responses) is permanent.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= http.StatusInternalServerError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// Client is a stateless adapter over the Notion pages API. It performs the
// per-item existence query and page creation; it holds no local state beyond
// its configuration.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Notion API client.
func NewClient(config *Config, logger *slog.Logger) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}
}

type queryResponse struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

// Exists reports whether a page for the item's natural key
// (attempt id, category, level, question text) is already present in the
// configured database.
func (c *Client) Exists(ctx context.Context, attemptID string, item delivery.Item) (bool, error) {
	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"and": []map[string]interface{}{
				{
					"property": "Attempt ID",
					"title":    map[string]string{"equals": attemptID},
				},
				{
					"property":  "Category",
					"rich_text": map[string]string{"equals": item.Category},
				},
				{
					"property": "Level",
					"number":   map[string]int{"equals": item.Level},
				},
				{
					"property":  "Question",
					"rich_text": map[string]string{"equals": truncate(item.QuestionText)},
				},
			},
		},
		"page_size": 1,
	}

	var resp queryResponse
	path := fmt.Sprintf("/databases/%s/query", c.config.DatabaseID)
	if err := c.post(ctx, "query", path, body, &resp); err != nil {
		return false, err
	}

	return len(resp.Results) > 0, nil
}

// CreatePage creates one page for the item in the configured database. All
// text values are truncated to the Notion rich text limit.
func (c *Client) CreatePage(ctx context.Context, attemptID string, item delivery.Item) error {
	properties := map[string]interface{}{
		"Attempt ID": map[string]interface{}{
			"title": richText(attemptID),
		},
		"Category": map[string]interface{}{
			"rich_text": richText(item.Category),
		},
		"Level": map[string]interface{}{
			"number": item.Level,
		},
		"Question": map[string]interface{}{
			"rich_text": richText(item.QuestionText),
		},
		"Choices JSON": map[string]interface{}{
			"rich_text": richText(mustJSON(item.Choices)),
		},
		"Answer Index": map[string]interface{}{
			"number": item.AnswerIndex,
		},
		"Explanation": map[string]interface{}{
			"rich_text": richText(item.Explanation),
		},
	}

	if item.SelectedIndex != nil {
		properties["Selected Index"] = map[string]interface{}{
			"number": *item.SelectedIndex,
		}
	}

	if item.IsCorrect != nil {
		properties["Correct"] = map[string]interface{}{
			"checkbox": *item.IsCorrect,
		}
	}

	body := map[string]interface{}{
		"parent":     map[string]string{"database_id": c.config.DatabaseID},
		"properties": properties,
	}

	return c.post(ctx, "create page", "/pages", body, nil)
}

// post sends a JSON POST to the Notion API and decodes the response into out
// when out is non-nil. Non-2xx statuses become StatusError.
func (c *Client) post(ctx context.Context, op, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal notion %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notion %s request: %w", op, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notion %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Notion API call",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Code: resp.StatusCode}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode notion %s response: %w", op, err)
	}

	return nil
}

// richText builds the single-element rich text array Notion expects.
func richText(value string) []map[string]interface{} {
	return []map[string]interface{}{
		{
			"type": "text",
			"text": map[string]string{"content": truncate(value)},
		},
	}
}

func truncate(value string) string {
	runes := []rune(value)
	if len(runes) <= maxRichTextLength {
		return value
	}
	return string(runes[:maxRichTextLength])
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}
