// Package openai is an adapter for OpenAI-compatible completion APIs.
// The base URL is configurable, so it also fronts Azure-style and self-hosted
// compatible deployments.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hanjaemi/hanjaemi/internal/provider"
	"github.com/hanjaemi/hanjaemi/internal/sse"
)

// Client talks to an OpenAI-compatible API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

var _ provider.Client = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout bounds non-streaming calls (completion, transcription, speech).
// Streams are exempt: they legitimately run longer than any fixed window and
// are bounded by the request context instead.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// New creates a client for the given base URL and API key.
func New(apiKey, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiRequest is the chat completion request format.
type apiRequest struct {
	Model         string             `json:"model"`
	Messages      []provider.Message `json:"messages"`
	Temperature   *float64           `json:"temperature,omitempty"`
	MaxTokens     *int               `json:"max_tokens,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	StreamOptions *streamOptions     `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type apiUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      provider.Message `json:"message"`
		FinishReason string           `json:"finish_reason"`
	} `json:"choices"`
	Usage apiUsage `json:"usage"`
}

type apiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *apiUsage `json:"usage,omitempty"`
}

func (c *Client) ChatCompletion(ctx context.Context, req provider.ChatRequest) (provider.Completion, error) {
	ctx, cancel := c.boundCtx(ctx)
	defer cancel()

	httpResp, err := c.postJSON(ctx, "/chat/completions", c.buildRequest(req, false))
	if err != nil {
		return provider.Completion{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return provider.Completion{}, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return provider.Completion{}, fmt.Errorf("decoding response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return provider.Completion{}, fmt.Errorf("empty choices in response")
	}

	return provider.Completion{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) ChatCompletionStream(ctx context.Context, req provider.ChatRequest) (provider.Stream, error) {
	httpResp, err := c.postJSON(ctx, "/chat/completions", c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	if err := mapHTTPError(httpResp); err != nil {
		httpResp.Body.Close()
		return nil, err
	}

	return &tokenStream{
		scanner: sse.NewScanner(httpResp.Body),
		body:    httpResp.Body,
	}, nil
}

func (c *Client) Transcribe(ctx context.Context, model, filename string, audio []byte) (provider.Transcription, error) {
	ctx, cancel := c.boundCtx(ctx)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return provider.Transcription{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return provider.Transcription{}, fmt.Errorf("writing audio: %w", err)
	}
	if err := mw.WriteField("model", model); err != nil {
		return provider.Transcription{}, fmt.Errorf("writing model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return provider.Transcription{}, fmt.Errorf("closing multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return provider.Transcription{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.Transcription{}, provider.ErrUnavailable
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return provider.Transcription{}, err
	}

	var out provider.Transcription
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return provider.Transcription{}, fmt.Errorf("decoding transcription: %w", err)
	}
	return out, nil
}

func (c *Client) Speech(ctx context.Context, req provider.SpeechRequest) ([]byte, error) {
	ctx, cancel := c.boundCtx(ctx)
	defer cancel()

	body := map[string]string{
		"model": req.Model,
		"voice": req.Voice,
		"input": req.Input,
	}
	httpResp, err := c.postJSON(ctx, "/audio/speech", body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return nil, err
	}

	audio, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	return audio, nil
}

// boundCtx applies the configured timeout. A zero timeout leaves the caller's
// context untouched.
func (c *Client) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) buildRequest(req provider.ChatRequest, stream bool) apiRequest {
	out := apiRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return out
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.ErrUnavailable
	}

	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return provider.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return provider.ErrInvalidCredentials
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", provider.ErrInvalidRequest, string(body))
	default:
		return provider.ErrUnavailable
	}
}

// tokenStream adapts the upstream event stream to provider.Stream.
type tokenStream struct {
	scanner *sse.Scanner
	body    io.ReadCloser
}

// Next returns the next content delta. io.EOF marks the clean end of the
// stream (terminal sentinel seen); io.ErrUnexpectedEOF marks a truncated
// stream, which callers must not treat as a completed response.
func (s *tokenStream) Next() (provider.Chunk, error) {
	for {
		ev, err := s.scanner.Next()
		if err != nil {
			if err == io.EOF {
				return provider.Chunk{}, io.ErrUnexpectedEOF
			}
			return provider.Chunk{}, err
		}
		if ev.Done {
			return provider.Chunk{}, io.EOF
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			continue // skip malformed chunks
		}

		out := provider.Chunk{}
		if len(chunk.Choices) > 0 {
			out.Content = chunk.Choices[0].Delta.Content
		}
		if chunk.Usage != nil {
			out.Usage = &provider.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		return out, nil
	}
}

func (s *tokenStream) Close() error {
	return s.body.Close()
}
