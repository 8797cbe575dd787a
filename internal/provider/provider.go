// Package provider defines the port to the upstream completion provider and
// the tagged error kinds all call sites branch on.
package provider

import "context"

// Message is one turn of a conversation. Order is significant: the meaning of
// a conversation is its ordered sequence, so message lists are always passed
// through unmodified.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is a completion request against a model.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
}

// Usage is the provider-reported token accounting for one completion.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Completion is a full, non-streamed completion.
type Completion struct {
	ID           string  `json:"id"`
	Model        string  `json:"model"`
	Content      string  `json:"content"`
	FinishReason string  `json:"finish_reason"`
	Usage        Usage   `json:"usage"`
}

// Chunk is one incremental fragment of assistant output. Chunks are ordered
// and concatenation-only; a chunk never revises an earlier one.
type Chunk struct {
	Content string
	Usage   *Usage
}

// Stream is a pull-based token stream. Next returns io.EOF at the normal end
// of the stream.
type Stream interface {
	Next() (Chunk, error)
	Close() error
}

// Transcription is the text recognized from an audio sample.
type Transcription struct {
	Text string `json:"text"`
}

// SpeechRequest asks for synthesized audio of Input.
type SpeechRequest struct {
	Model string
	Voice string
	Input string
}

// Client is the completion provider port. Implementations decide error kinds
// once at this boundary; callers use errors.Is, never status sniffing.
type Client interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (Completion, error)
	ChatCompletionStream(ctx context.Context, req ChatRequest) (Stream, error)
	Transcribe(ctx context.Context, model, filename string, audio []byte) (Transcription, error)
	Speech(ctx context.Context, req SpeechRequest) ([]byte, error)
}
