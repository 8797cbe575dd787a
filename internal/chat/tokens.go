package chat

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hanjaemi/hanjaemi/internal/provider"
)

const (
	encodingBase = "cl100k_base"

	// Per-message framing overhead in the chat format.
	tokensPerMessage = 4
	// Tokens priming the assistant reply.
	replyPrimer = 3
)

// Estimator approximates prompt token counts for usage events when the
// provider does not report them. Estimates feed the audit log only; quota
// counts requests, not tokens.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the shared chat encoding.
func NewEstimator() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(encodingBase)
	if err != nil {
		return nil, fmt.Errorf("loading %s encoding: %w", encodingBase, err)
	}
	return &Estimator{enc: enc}, nil
}

// EstimateMessages approximates the prompt token count for a conversation.
// A nil Estimator estimates zero.
func (e *Estimator) EstimateMessages(msgs []provider.Message) int {
	if e == nil || e.enc == nil {
		return 0
	}
	total := replyPrimer
	for _, m := range msgs {
		total += tokensPerMessage
		total += len(e.enc.Encode(m.Role, nil, nil))
		total += len(e.enc.Encode(m.Content, nil, nil))
	}
	return total
}

// CountText returns the token count of plain text. A nil Estimator counts zero.
func (e *Estimator) CountText(text string) int {
	if e == nil || e.enc == nil {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}
