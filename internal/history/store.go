package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists chat history. Append-only; there is no update or delete of
// individual turns.
type Store interface {
	Append(ctx context.Context, userID uuid.UUID, sessionID, role, content string) error
	ListBySession(ctx context.Context, userID uuid.UUID, sessionID string, limit int) ([]Entry, error)
}

type postgresStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

// uniqueViolation is the postgres error code for a primary key conflict.
const uniqueViolation = "23505"

// maxAppendRetries bounds the retry loop under sequence contention.
const maxAppendRetries = 5

// Append inserts the next turn for the session. Concurrent appends to the
// same session can read the same MAX(sequence) under READ COMMITTED and race
// to the same slot; the primary key rejects the loser, which retries with a
// fresh snapshot.
func (s *postgresStore) Append(ctx context.Context, userID uuid.UUID, sessionID, role, content string) error {
	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO chat_messages (user_id, session_id, sequence, role, content)
			 SELECT $1, $2, COALESCE(MAX(sequence), 0) + 1, $3, $4
			 FROM chat_messages
			 WHERE user_id = $1 AND session_id = $2`,
			userID, sessionID, role, content)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			lastErr = err
			continue
		}
		return fmt.Errorf("appending chat message: %w", err)
	}
	return fmt.Errorf("appending chat message: sequence contention persisted after %d attempts: %w", maxAppendRetries, lastErr)
}

func (s *postgresStore) ListBySession(ctx context.Context, userID uuid.UUID, sessionID string, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, session_id, sequence, role, content, created_at
		 FROM chat_messages
		 WHERE user_id = $1 AND session_id = $2
		 ORDER BY sequence
		 LIMIT $3`,
		userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chat messages: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UserID, &e.SessionID, &e.Sequence, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chat messages: %w", err)
	}
	return entries, nil
}

// noopStore is the degraded fallback when history persistence is disabled:
// appends succeed silently and reads return empty, never an error.
type noopStore struct{}

func NewNoopStore() Store {
	return noopStore{}
}

func (noopStore) Append(context.Context, uuid.UUID, string, string, string) error {
	return nil
}

func (noopStore) ListBySession(context.Context, uuid.UUID, string, int) ([]Entry, error) {
	return nil, nil
}
