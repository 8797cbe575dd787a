package events

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamEvents is the JetStream stream holding usage events.
const StreamEvents = "HANJAEMI_EVENTS"

// SubjectRequestCompleted carries one event per charged provider request.
const SubjectRequestCompleted = "hanjaemi.events.request"

// Request kinds.
const (
	KindChat       = "chat"
	KindChatStream = "chat_stream"
	KindTranscribe = "transcribe"
	KindSpeech     = "speech"
)

// RequestEvent is published after a request has been successfully relayed and
// charged. It feeds the request audit log; losing one is acceptable, blocking
// the response path is not.
type RequestEvent struct {
	UserID           uuid.UUID `json:"user_id"`
	Kind             string    `json:"kind"`
	Model            string    `json:"model"`
	SessionID        string    `json:"session_id,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	DurationMs       int64     `json:"duration_ms"`
	OccurredAt       time.Time `json:"occurred_at"`
}
