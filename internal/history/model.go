package history

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one persisted conversation turn. Sequence is assigned server-side
// per (user, session) and defines chronological order; rows are append-only.
type Entry struct {
	UserID    uuid.UUID `json:"user_id"`
	SessionID string    `json:"session_id"`
	Sequence  int       `json:"sequence"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
