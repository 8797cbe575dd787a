// Package client is the Go SDK for the HanJaemi completion service. It wraps
// the streaming chat endpoint, the speaking practice endpoints and the usage
// endpoint behind a small typed surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hanjaemi/hanjaemi/internal/sse"
)

// limitExceededMessage is the server's sentinel quota error string. Declared
// locally so SDK consumers do not pull the server packages into their build;
// equality with the server constant is asserted in tests.
const limitExceededMessage = "Usage limit exceeded"

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a conversation to complete. SessionID is optional; when set
// the server records the exchange in the session's history.
type ChatRequest struct {
	Messages  []Message
	SessionID string
}

// TokenUsage is the provider-reported token accounting for one completion.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Reply is a full, non-streamed completion.
type Reply struct {
	Content string     `json:"content"`
	Model   string     `json:"model"`
	Usage   TokenUsage `json:"usage"`
}

// Usage is the caller's current standing against their tier limits.
type Usage struct {
	CanMakeRequest   bool `json:"canMakeRequest"`
	DailyUsage       int  `json:"dailyUsage"`
	MonthlyUsage     int  `json:"monthlyUsage"`
	DailyLimit       int  `json:"dailyLimit"`
	MonthlyLimit     int  `json:"monthlyLimit"`
	RemainingDaily   int  `json:"remainingDaily"`
	RemainingMonthly int  `json:"remainingMonthly"`
}

// ErrQuotaExceeded marks a request rejected by the quota gate. Match with
// errors.Is; use errors.As with *QuotaExceededError for the usage detail.
var ErrQuotaExceeded = errors.New("usage limit exceeded")

// QuotaExceededError carries the server-reported usage detail of a rejected
// request, so callers can render exact used and remaining counts.
type QuotaExceededError struct {
	Usage Usage
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("usage limit exceeded: %d/%d today, %d/%d this month",
		e.Usage.DailyUsage, e.Usage.DailyLimit, e.Usage.MonthlyUsage, e.Usage.MonthlyLimit)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Client talks to one HanJaemi deployment on behalf of one user.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The default carries no
// timeout because completion streams stay open for their full duration; put
// deadlines in the request context instead.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// New creates a Client for the service at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatPayload struct {
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
}

type delta struct {
	Content string `json:"content"`
}

// StreamChat sends a streaming completion request and invokes onDelta for
// each fragment in arrival order. It returns the full concatenated message
// only after the terminal marker; on any mid-stream failure it returns an
// error and no partial text, so callers can discard their placeholder.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onDelta func(delta string)) (string, error) {
	resp, err := c.post(ctx, "/api/chat", chatPayload{
		Messages:  req.Messages,
		Stream:    true,
		SessionID: req.SessionID,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.responseError(resp)
	}

	sc := sse.NewScanner(resp.Body)
	var full strings.Builder

	for {
		ev, err := sc.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("stream ended before terminal marker: %w", io.ErrUnexpectedEOF)
			}
			return "", fmt.Errorf("reading stream: %w", err)
		}
		if ev.Done {
			return full.String(), nil
		}

		var d delta
		if err := json.Unmarshal([]byte(ev.Data), &d); err != nil {
			slog.Debug("skipping malformed stream frame", "error", err)
			continue
		}
		if d.Content == "" {
			continue
		}

		if onDelta != nil {
			onDelta(d.Content)
		}
		full.WriteString(d.Content)
	}
}

// Chat sends a non-streaming completion request.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (Reply, error) {
	resp, err := c.post(ctx, "/api/chat", chatPayload{
		Messages:  req.Messages,
		SessionID: req.SessionID,
	})
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reply{}, c.responseError(resp)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("decoding reply: %w", err)
	}
	return reply, nil
}

// Usage returns the caller's current usage against their limits.
func (c *Client) Usage(ctx context.Context) (Usage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/usage", nil)
	if err != nil {
		return Usage{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Usage{}, fmt.Errorf("requesting usage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Usage{}, c.responseError(resp)
	}

	var u Usage
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return Usage{}, fmt.Errorf("decoding usage: %w", err)
	}
	return u, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

// responseError turns a non-2xx response into an error. A 429 carrying the
// sentinel limit message becomes a QuotaExceededError; everything else stays
// generic so callers do not branch on quota state they were never in.
func (c *Client) responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode == http.StatusTooManyRequests {
		var limit struct {
			Error string `json:"error"`
			Usage Usage  `json:"usage"`
		}
		if err := json.Unmarshal(body, &limit); err == nil && limit.Error == limitExceededMessage {
			return &QuotaExceededError{Usage: limit.Usage}
		}
	}

	return fmt.Errorf("request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
