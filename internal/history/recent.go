package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RecentCache keeps the tail of each session's conversation in a Redis list,
// so the chat page can show recent context without a postgres round trip.
type RecentCache struct {
	client redis.Cmdable
	limit  int
	ttl    time.Duration
}

func NewRecentCache(client redis.Cmdable, limit int, ttl time.Duration) *RecentCache {
	return &RecentCache{client: client, limit: limit, ttl: ttl}
}

func sessionKey(userID uuid.UUID, sessionID string) string {
	return fmt.Sprintf("recent:%s:%s", userID, sessionID)
}

type cachedTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Push appends a turn and trims the list to the configured tail length.
func (c *RecentCache) Push(ctx context.Context, userID uuid.UUID, sessionID, role, content string) error {
	key := sessionKey(userID, sessionID)

	data, err := json.Marshal(cachedTurn{Role: role, Content: content})
	if err != nil {
		return fmt.Errorf("marshaling turn: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.RPush(ctx, key, string(data))
	pipe.LTrim(ctx, key, int64(-c.limit), -1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// Recent returns the cached tail of the session, oldest first.
func (c *RecentCache) Recent(ctx context.Context, userID uuid.UUID, sessionID string) ([]Entry, error) {
	key := sessionKey(userID, sessionID)

	vals, err := c.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	entries := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var turn cachedTurn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, Entry{
			UserID:    userID,
			SessionID: sessionID,
			Role:      turn.Role,
			Content:   turn.Content,
		})
	}
	return entries, nil
}
