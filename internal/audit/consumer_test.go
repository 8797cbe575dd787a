package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanjaemi/hanjaemi/internal/events"
)

func TestRequestEventRoundTrip(t *testing.T) {
	userID := uuid.New()

	event := events.RequestEvent{
		UserID:           userID,
		Kind:             events.KindChatStream,
		Model:            "gpt-4o-mini",
		SessionID:        "lesson-12",
		PromptTokens:     42,
		CompletionTokens: 180,
		DurationMs:       913,
		OccurredAt:       time.Now().UTC().Truncate(time.Millisecond),
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded events.RequestEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, userID, decoded.UserID)
	assert.Equal(t, events.KindChatStream, decoded.Kind)
	assert.Equal(t, "gpt-4o-mini", decoded.Model)
	assert.Equal(t, "lesson-12", decoded.SessionID)
	assert.Equal(t, 42, decoded.PromptTokens)
	assert.Equal(t, 180, decoded.CompletionTokens)
}

func TestLogFromEvent(t *testing.T) {
	occurred := time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC)
	event := events.RequestEvent{
		UserID:           uuid.New(),
		Kind:             events.KindChat,
		Model:            "gpt-4o-mini",
		SessionID:        "lesson-7",
		PromptTokens:     10,
		CompletionTokens: 55,
		DurationMs:       420,
		OccurredAt:       occurred,
	}

	log := logFromEvent(event)

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, event.UserID, log.UserID)
	assert.Equal(t, events.KindChat, log.Kind)
	assert.Equal(t, "gpt-4o-mini", log.Model)
	assert.Equal(t, "lesson-7", log.SessionID)
	assert.Equal(t, 10, log.PromptTokens)
	assert.Equal(t, 55, log.CompletionTokens)
	assert.Equal(t, int64(420), log.DurationMs)
	assert.Equal(t, occurred, log.CreatedAt)
}

func TestLogFromEvent_EmptySession(t *testing.T) {
	event := events.RequestEvent{
		UserID:     uuid.New(),
		Kind:       events.KindSpeech,
		Model:      "tts-1",
		OccurredAt: time.Now().UTC(),
	}

	log := logFromEvent(event)
	assert.Empty(t, log.SessionID)
	assert.Equal(t, events.KindSpeech, log.Kind)
}
