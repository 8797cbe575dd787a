package audit

import (
	"time"

	"github.com/google/uuid"
)

// RequestLog matches the request_logs table schema. One row per charged
// provider request.
type RequestLog struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	Kind             string    `json:"kind"`
	Model            string    `json:"model"`
	SessionID        string    `json:"session_id,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	DurationMs       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for request log queries.
type ListParams struct {
	Kind     string
	Model    string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// DefaultListParams returns sensible defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}
