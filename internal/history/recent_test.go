package history

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T, limit int) (*RecentCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRecentCache(client, limit, time.Hour), mr
}

func TestRecentCache_PushAndRecent(t *testing.T) {
	cache, _ := setupCache(t, 10)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, cache.Push(ctx, userID, "sess-1", "user", "안녕하세요"))
	require.NoError(t, cache.Push(ctx, userID, "sess-1", "assistant", "안녕하세요! 무엇을 도와드릴까요?"))

	entries, err := cache.Recent(ctx, userID, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "안녕하세요", entries[0].Content)
	assert.Equal(t, "assistant", entries[1].Role)
}

func TestRecentCache_TrimsToLimit(t *testing.T) {
	cache, _ := setupCache(t, 3)
	ctx := context.Background()
	userID := uuid.New()

	for _, content := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, cache.Push(ctx, userID, "sess-1", "user", content))
	}

	entries, err := cache.Recent(ctx, userID, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "3", entries[0].Content)
	assert.Equal(t, "5", entries[2].Content)
}

func TestRecentCache_SessionsIsolated(t *testing.T) {
	cache, _ := setupCache(t, 10)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, cache.Push(ctx, userID, "sess-1", "user", "first"))
	require.NoError(t, cache.Push(ctx, userID, "sess-2", "user", "second"))

	entries, err := cache.Recent(ctx, userID, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].Content)
}

func TestRecentCache_SkipsMalformedEntries(t *testing.T) {
	cache, mr := setupCache(t, 10)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, cache.Push(ctx, userID, "sess-1", "user", "ok"))
	_, err := mr.RPush(sessionKey(userID, "sess-1"), "{corrupt")
	require.NoError(t, err)
	require.NoError(t, cache.Push(ctx, userID, "sess-1", "assistant", "also ok"))

	entries, err := cache.Recent(ctx, userID, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ok", entries[0].Content)
	assert.Equal(t, "also ok", entries[1].Content)
}

func TestNoopStore(t *testing.T) {
	store := NewNoopStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, uuid.New(), "sess", "user", "dropped"))

	entries, err := store.ListBySession(ctx, uuid.New(), "sess", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
