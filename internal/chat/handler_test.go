package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hanjaemi/hanjaemi/internal/auth"
	"github.com/hanjaemi/hanjaemi/internal/config"
	"github.com/hanjaemi/hanjaemi/internal/history"
	"github.com/hanjaemi/hanjaemi/internal/provider"
	"github.com/hanjaemi/hanjaemi/internal/provider/providertest"
	"github.com/hanjaemi/hanjaemi/internal/usage"
)

type fakeGate struct {
	status      usage.Status
	checkErr    error
	checkCalls  int
	recordCalls int
}

func (g *fakeGate) Check(ctx context.Context, userID uuid.UUID) (usage.Status, error) {
	g.checkCalls++
	return g.status, g.checkErr
}

func (g *fakeGate) Record(ctx context.Context, userID uuid.UUID) error {
	g.recordCalls++
	return nil
}

func openGate() *fakeGate {
	return &fakeGate{status: usage.Status{
		CanMakeRequest:   true,
		DailyUsage:       3,
		MonthlyUsage:     40,
		DailyLimit:       10,
		MonthlyLimit:     100,
		RemainingDaily:   7,
		RemainingMonthly: 60,
	}}
}

func closedGate() *fakeGate {
	return &fakeGate{status: usage.Status{
		DailyUsage:   10,
		MonthlyUsage: 40,
		DailyLimit:   10,
		MonthlyLimit: 100,
	}}
}

type appended struct {
	sessionID, role, content string
}

type fakeStore struct {
	appends []appended
}

func (s *fakeStore) Append(ctx context.Context, userID uuid.UUID, sessionID, role, content string) error {
	s.appends = append(s.appends, appended{sessionID, role, content})
	return nil
}

func (s *fakeStore) ListBySession(ctx context.Context, userID uuid.UUID, sessionID string, limit int) ([]history.Entry, error) {
	return nil, nil
}

var _ history.Store = (*fakeStore)(nil)

func testHandler(client provider.Client, gate QuotaGate, store *fakeStore) *Handler {
	return NewHandler(client, gate, store, nil, nil, nil, config.ProviderConfig{
		ChatModel:       "gpt-4o-mini",
		TranscribeModel: "whisper-1",
		SpeechModel:     "tts-1",
		SpeechVoice:     "nova",
	})
}

func chatRequest(t *testing.T, userID uuid.UUID, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	claims := &auth.Claims{UserID: userID.String()}
	return req.WithContext(context.WithValue(req.Context(), auth.UserClaimsKey, claims))
}

func TestChat_BlockedUserNeverReachesProvider(t *testing.T) {
	client := providertest.NewMockClient()
	gate := closedGate()
	store := &fakeStore{}
	h := testHandler(client, gate, store)

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, uuid.New(), `{"messages":[{"role":"user","content":"안녕"}],"stream":true}`))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp usage.LimitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, usage.LimitExceededMessage, resp.Error)
	assert.Equal(t, 10, resp.Usage.DailyUsage)
	assert.Equal(t, 10, resp.Usage.DailyLimit)
	assert.False(t, resp.Usage.CanMakeRequest)

	client.AssertNotCalled(t, "ChatCompletionStream", mock.Anything, mock.Anything)
	client.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
	assert.Zero(t, gate.recordCalls)
	assert.Empty(t, store.appends)
}

func TestChat_StreamRelaysChunksInOrder(t *testing.T) {
	stream := providertest.StreamOf("안", "녕", "하세요")
	client := providertest.NewMockClient()
	client.On("ChatCompletionStream", mock.Anything, mock.Anything).Return(stream, nil)

	gate := openGate()
	store := &fakeStore{}
	h := testHandler(client, gate, store)

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, uuid.New(),
		`{"messages":[{"role":"user","content":"인사해줘"}],"stream":true,"sessionId":"lesson-1"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	want := "data: {\"content\":\"안\"}\n\n" +
		"data: {\"content\":\"녕\"}\n\n" +
		"data: {\"content\":\"하세요\"}\n\n" +
		"data: [DONE]\n\n"
	assert.Equal(t, want, rec.Body.String())

	assert.Equal(t, 1, gate.recordCalls)
	require.Len(t, store.appends, 1)
	assert.Equal(t, appended{"lesson-1", provider.RoleUser, "인사해줘"}, store.appends[0])
	assert.True(t, stream.Closed)
}

func TestChat_StreamConcatenationMatchesClientView(t *testing.T) {
	stream := providertest.StreamOf("안", "녕", "하세요")
	client := providertest.NewMockClient()
	client.On("ChatCompletionStream", mock.Anything, mock.Anything).Return(stream, nil)

	h := testHandler(client, openGate(), &fakeStore{})

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, uuid.New(), `{"messages":[{"role":"user","content":"hi"}],"stream":true}`))

	var full strings.Builder
	for _, line := range strings.Split(rec.Body.String(), "\n\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[DONE]" {
			continue
		}
		var d Delta
		require.NoError(t, json.Unmarshal([]byte(data), &d))
		full.WriteString(d.Content)
	}
	assert.Equal(t, "안녕하세요", full.String())
}

func TestChat_MidStreamFailureNotCharged(t *testing.T) {
	stream := &providertest.CannedStream{
		Chunks:   []provider.Chunk{{Content: "안"}, {Content: "녕"}},
		FinalErr: io.ErrUnexpectedEOF,
	}
	client := providertest.NewMockClient()
	client.On("ChatCompletionStream", mock.Anything, mock.Anything).Return(stream, nil)

	gate := openGate()
	store := &fakeStore{}
	h := testHandler(client, gate, store)

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, uuid.New(),
		`{"messages":[{"role":"user","content":"hi"}],"stream":true,"sessionId":"s1"}`))

	body := rec.Body.String()
	assert.Contains(t, body, "data: {\"content\":\"안\"}\n\n")
	assert.NotContains(t, body, "[DONE]")

	assert.Zero(t, gate.recordCalls)
	assert.Empty(t, store.appends)
	assert.True(t, stream.Closed)
}

func TestChat_ProviderFailureBeforeFirstChunk(t *testing.T) {
	client := providertest.NewMockClient()
	client.On("ChatCompletionStream", mock.Anything, mock.Anything).Return(nil, provider.ErrUnavailable)

	gate := openGate()
	h := testHandler(client, gate, &fakeStore{})

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, uuid.New(), `{"messages":[{"role":"user","content":"hi"}],"stream":true}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, gate.recordCalls)
}

func TestChat_EmptyDeltasNotRelayed(t *testing.T) {
	// The final provider chunk carries only usage data and no content.
	stream := &providertest.CannedStream{
		Chunks: []provider.Chunk{
			{Content: ""},
			{Content: "안녕"},
			{Usage: &provider.Usage{PromptTokens: 5, CompletionTokens: 2}},
		},
		FinalErr: io.EOF,
	}
	client := providertest.NewMockClient()
	client.On("ChatCompletionStream", mock.Anything, mock.Anything).Return(stream, nil)

	gate := openGate()
	h := testHandler(client, gate, &fakeStore{})

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, uuid.New(), `{"messages":[{"role":"user","content":"hi"}],"stream":true}`))

	want := "data: {\"content\":\"안녕\"}\n\ndata: [DONE]\n\n"
	assert.Equal(t, want, rec.Body.String())
	assert.Equal(t, 1, gate.recordCalls)
}

func TestChat_NonStreaming(t *testing.T) {
	client := providertest.NewMockClient()
	client.On("ChatCompletion", mock.Anything, mock.Anything).Return(provider.Completion{
		Content: "안녕하세요",
		Model:   "gpt-4o-mini",
		Usage:   provider.Usage{PromptTokens: 8, CompletionTokens: 4, TotalTokens: 12},
	}, nil)

	gate := openGate()
	store := &fakeStore{}
	h := testHandler(client, gate, store)

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, uuid.New(),
		`{"messages":[{"role":"user","content":"인사해줘"}],"sessionId":"lesson-2"}`))

	require.Equal(t, http.StatusOK, rec.Code)

	var reply Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "안녕하세요", reply.Content)
	assert.Equal(t, int64(4), reply.Usage.CompletionTokens)

	assert.Equal(t, 1, gate.recordCalls)
	require.Len(t, store.appends, 1)
	assert.Equal(t, "인사해줘", store.appends[0].content)
}

func TestChat_MissingAPIKeySkipsQuotaRead(t *testing.T) {
	gate := openGate()
	h := testHandler(nil, gate, &fakeStore{})

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, uuid.New(), `{"messages":[{"role":"user","content":"hi"}]}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, gate.checkCalls)
	assert.Zero(t, gate.recordCalls)
}

func TestChat_InvalidBody(t *testing.T) {
	client := providertest.NewMockClient()
	h := testHandler(client, openGate(), &fakeStore{})

	for name, body := range map[string]string{
		"malformed json": `{"messages":`,
		"no messages":    `{"messages":[]}`,
		"bad role":       `{"messages":[{"role":"robot","content":"hi"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Chat(rec, chatRequest(t, uuid.New(), body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	client.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
}

func TestSpeech_GatedAndCharged(t *testing.T) {
	client := providertest.NewMockClient()
	client.On("Speech", mock.Anything, provider.SpeechRequest{
		Model: "tts-1",
		Voice: "nova",
		Input: "안녕하세요",
	}).Return([]byte("mp3-bytes"), nil)

	gate := openGate()
	h := testHandler(client, gate, &fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/speaking/speech",
		strings.NewReader(`{"text":"안녕하세요"}`))
	claims := &auth.Claims{UserID: uuid.New().String()}
	req = req.WithContext(context.WithValue(req.Context(), auth.UserClaimsKey, claims))

	rec := httptest.NewRecorder()
	h.Speech(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "mp3-bytes", rec.Body.String())
	assert.Equal(t, 1, gate.recordCalls)
}

func TestSpeech_BlockedUser(t *testing.T) {
	client := providertest.NewMockClient()
	gate := closedGate()
	h := testHandler(client, gate, &fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/speaking/speech",
		strings.NewReader(`{"text":"hi"}`))
	claims := &auth.Claims{UserID: uuid.New().String()}
	req = req.WithContext(context.WithValue(req.Context(), auth.UserClaimsKey, claims))

	rec := httptest.NewRecorder()
	h.Speech(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	client.AssertNotCalled(t, "Speech", mock.Anything, mock.Anything)
	assert.Zero(t, gate.recordCalls)
}

func TestLastUserMessage(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "넌 한국어 선생님이야"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	assert.Equal(t, "second", lastUserMessage(msgs))
	assert.Empty(t, lastUserMessage([]Message{{Role: "system", Content: "x"}}))
}
