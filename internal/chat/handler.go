package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hanjaemi/hanjaemi/internal/api"
	"github.com/hanjaemi/hanjaemi/internal/auth"
	"github.com/hanjaemi/hanjaemi/internal/config"
	"github.com/hanjaemi/hanjaemi/internal/events"
	"github.com/hanjaemi/hanjaemi/internal/history"
	"github.com/hanjaemi/hanjaemi/internal/metrics"
	"github.com/hanjaemi/hanjaemi/internal/provider"
	"github.com/hanjaemi/hanjaemi/internal/sse"
	"github.com/hanjaemi/hanjaemi/internal/usage"
)

// maxAudioBytes caps uploaded audio samples for transcription.
const maxAudioBytes = 25 << 20

// QuotaGate is the slice of the usage service the proxy needs: a repeatable
// read and a fire-once charge.
type QuotaGate interface {
	Check(ctx context.Context, userID uuid.UUID) (usage.Status, error)
	Record(ctx context.Context, userID uuid.UUID) error
}

// EventPublisher emits one event per charged request.
type EventPublisher interface {
	PublishRequestCompleted(ctx context.Context, event events.RequestEvent) error
}

// Handler proxies completion requests to the upstream provider behind the
// quota gate.
type Handler struct {
	client    provider.Client // nil until an API key is configured
	gate      QuotaGate
	history   history.Store
	recent    *history.RecentCache // may be nil
	publisher EventPublisher       // may be nil, events are then dropped
	estimator *Estimator
	cfg       config.ProviderConfig
	validate  *validator.Validate
}

// NewHandler creates a new chat Handler.
func NewHandler(client provider.Client, gate QuotaGate, hist history.Store, recent *history.RecentCache, publisher EventPublisher, estimator *Estimator, cfg config.ProviderConfig) *Handler {
	return &Handler{
		client:    client,
		gate:      gate,
		history:   hist,
		recent:    recent,
		publisher: publisher,
		estimator: estimator,
		cfg:       cfg,
		validate:  validator.New(),
	}
}

// Chat handles POST /api/chat: gate, dispatch, relay.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		api.HandleError(w, api.ErrProviderNotReady)
		return
	}

	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	kind := events.KindChat
	if req.Stream {
		kind = events.KindChatStream
	}

	if !h.pass(r.Context(), w, userID, kind) {
		return
	}

	preq := provider.ChatRequest{
		Model:    h.cfg.ChatModel,
		Messages: providerMessages(req.Messages),
	}

	if req.Stream {
		h.streamChat(w, r, userID, req, preq)
		return
	}
	h.completeChat(w, r, userID, req, preq)
}

// pass runs the quota check and writes the 429 response when the caller is
// blocked. The provider is never reached for a blocked caller.
func (h *Handler) pass(ctx context.Context, w http.ResponseWriter, userID uuid.UUID, kind string) bool {
	st, err := h.gate.Check(ctx, userID)
	if err != nil {
		slog.Error("checking quota", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return false
	}
	if !st.CanMakeRequest {
		metrics.QuotaDenialsTotal.Inc()
		metrics.CompletionRequestsTotal.WithLabelValues(kind, "denied").Inc()
		usage.WriteLimitExceeded(w, st)
		return false
	}
	return true
}

func (h *Handler) completeChat(w http.ResponseWriter, r *http.Request, userID uuid.UUID, req Request, preq provider.ChatRequest) {
	started := time.Now()

	completion, err := h.client.ChatCompletion(r.Context(), preq)
	if err != nil {
		h.providerFailed(w, events.KindChat, err)
		return
	}

	api.JSONRaw(w, http.StatusOK, Reply{
		Content: completion.Content,
		Model:   completion.Model,
		Usage:   completion.Usage,
	})

	h.finish(r.Context(), userID, events.KindChat, req, completion.Usage, started)
}

func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request, userID uuid.UUID, req Request, preq provider.ChatRequest) {
	started := time.Now()
	ctx := r.Context()

	stream, err := h.client.ChatCompletionStream(ctx, preq)
	if err != nil {
		h.providerFailed(w, events.KindChatStream, err)
		return
	}
	defer stream.Close()

	sw, err := sse.NewWriter(w)
	if err != nil {
		slog.Error("preparing event stream", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	var reported provider.Usage
	var assistant []byte

	for {
		chunk, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Truncated or failed mid-stream. No terminal marker is
			// written, so the client discards the partial message and
			// the request is not charged.
			metrics.ProviderFailuresTotal.WithLabelValues(provider.Kind(err)).Inc()
			metrics.CompletionRequestsTotal.WithLabelValues(events.KindChatStream, "truncated").Inc()
			slog.Warn("stream ended abnormally", "error", err, "user_id", userID)
			return
		}

		if chunk.Usage != nil {
			reported = *chunk.Usage
		}
		if chunk.Content == "" {
			continue
		}

		assistant = append(assistant, chunk.Content...)
		if err := sw.WriteJSON(Delta{Content: chunk.Content}); err != nil {
			// Client is gone. Context cancellation stops the upstream
			// read via Close; no charge without the terminal marker.
			metrics.CompletionRequestsTotal.WithLabelValues(events.KindChatStream, "client_gone").Inc()
			slog.Debug("client disconnected mid-stream", "user_id", userID)
			return
		}
		metrics.StreamChunksRelayedTotal.Inc()
	}

	if err := sw.WriteDone(); err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(events.KindChatStream, "client_gone").Inc()
		return
	}

	if reported.CompletionTokens == 0 {
		reported.CompletionTokens = int64(h.estimator.CountText(string(assistant)))
	}
	h.finish(ctx, userID, events.KindChatStream, req, reported, started)
}

// Transcribe handles POST /api/speaking/transcribe: multipart audio in,
// recognized text out. Gated and charged like a chat request.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		api.HandleError(w, api.ErrProviderNotReady)
		return
	}

	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	if !h.pass(r.Context(), w, userID, events.KindTranscribe) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, header, err := r.FormFile("audio")
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("audio file is required"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	started := time.Now()
	result, err := h.client.Transcribe(r.Context(), h.cfg.TranscribeModel, header.Filename, audio)
	if err != nil {
		h.providerFailed(w, events.KindTranscribe, err)
		return
	}

	api.JSONRaw(w, http.StatusOK, result)

	h.finish(r.Context(), userID, events.KindTranscribe, Request{}, provider.Usage{}, started)
}

// Speech handles POST /api/speaking/speech: text in, synthesized audio out.
func (h *Handler) Speech(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		api.HandleError(w, api.ErrProviderNotReady)
		return
	}

	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}
	if req.Voice == "" {
		req.Voice = h.cfg.SpeechVoice
	}

	if !h.pass(r.Context(), w, userID, events.KindSpeech) {
		return
	}

	started := time.Now()
	audio, err := h.client.Speech(r.Context(), provider.SpeechRequest{
		Model: h.cfg.SpeechModel,
		Voice: req.Voice,
		Input: req.Text,
	})
	if err != nil {
		h.providerFailed(w, events.KindSpeech, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		slog.Debug("writing audio response", "error", err)
		return
	}

	h.finish(r.Context(), userID, events.KindSpeech, Request{}, provider.Usage{}, started)
}

// providerFailed maps an upstream failure that occurred before anything was
// relayed. Nothing is charged.
func (h *Handler) providerFailed(w http.ResponseWriter, kind string, err error) {
	metrics.ProviderFailuresTotal.WithLabelValues(provider.Kind(err)).Inc()
	metrics.CompletionRequestsTotal.WithLabelValues(kind, "provider_error").Inc()
	slog.Error("provider request failed", "error", err, "kind", kind)
	api.HandleError(w, api.ErrInternalServer)
}

// finish runs the post-completion side effects: exactly one quota increment,
// the history append, and the usage event. The response is already committed,
// so failures here are logged and never surfaced. The context is detached
// because a client disconnecting right after the terminal marker must not
// void the charge.
func (h *Handler) finish(ctx context.Context, userID uuid.UUID, kind string, req Request, reported provider.Usage, started time.Time) {
	ctx = context.WithoutCancel(ctx)

	metrics.CompletionRequestsTotal.WithLabelValues(kind, "ok").Inc()

	if err := h.gate.Record(ctx, userID); err != nil {
		slog.Error("recording usage", "error", err, "user_id", userID)
	}

	if req.SessionID != "" {
		if msg := lastUserMessage(req.Messages); msg != "" {
			if err := h.history.Append(ctx, userID, req.SessionID, provider.RoleUser, msg); err != nil {
				slog.Error("appending chat history", "error", err, "session_id", req.SessionID)
			}
			if h.recent != nil {
				if err := h.recent.Push(ctx, userID, req.SessionID, provider.RoleUser, msg); err != nil {
					slog.Debug("caching recent message", "error", err)
				}
			}
		}
	}

	if h.publisher == nil {
		return
	}

	promptTokens := int(reported.PromptTokens)
	if promptTokens == 0 && len(req.Messages) > 0 {
		promptTokens = h.estimator.EstimateMessages(providerMessages(req.Messages))
	}

	event := events.RequestEvent{
		UserID:           userID,
		Kind:             kind,
		Model:            h.modelFor(kind),
		SessionID:        req.SessionID,
		PromptTokens:     promptTokens,
		CompletionTokens: int(reported.CompletionTokens),
		DurationMs:       time.Since(started).Milliseconds(),
		OccurredAt:       time.Now().UTC(),
	}
	if err := h.publisher.PublishRequestCompleted(ctx, event); err != nil {
		slog.Warn("publishing request event", "error", err, "kind", kind)
	}
}

func (h *Handler) modelFor(kind string) string {
	switch kind {
	case events.KindTranscribe:
		return h.cfg.TranscribeModel
	case events.KindSpeech:
		return h.cfg.SpeechModel
	default:
		return h.cfg.ChatModel
	}
}

func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}
