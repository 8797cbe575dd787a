package chat

import "github.com/hanjaemi/hanjaemi/internal/provider"

// Message is one conversation turn as sent by the client. Field names are part
// of the wire contract.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// Request is the POST /api/chat body.
type Request struct {
	Messages  []Message `json:"messages" validate:"required,min=1,dive"`
	Stream    bool      `json:"stream"`
	SessionID string    `json:"sessionId"`
}

// Delta is one streamed fragment of assistant output, encoded as the data
// payload of an SSE frame.
type Delta struct {
	Content string `json:"content"`
}

// Reply is the non-streaming response body.
type Reply struct {
	Content string         `json:"content"`
	Model   string         `json:"model"`
	Usage   provider.Usage `json:"usage"`
}

// SpeechRequest is the POST /api/speaking/speech body.
type SpeechRequest struct {
	Text  string `json:"text" validate:"required"`
	Voice string `json:"voice"`
}

// providerMessages converts the wire messages into provider turns, preserving
// order.
func providerMessages(msgs []Message) []provider.Message {
	out := make([]provider.Message, len(msgs))
	for i, m := range msgs {
		out[i] = provider.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// lastUserMessage returns the content of the final user turn, or "" when the
// conversation has none.
func lastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == provider.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
