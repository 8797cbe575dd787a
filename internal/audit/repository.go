package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles request_logs PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a single request log entry.
func (r *Repository) Insert(ctx context.Context, log *RequestLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO request_logs (id, user_id, kind, model, session_id, prompt_tokens, completion_tokens, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ID, log.UserID, log.Kind, log.Model, log.SessionID,
		log.PromptTokens, log.CompletionTokens, log.DurationMs, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}
	return nil
}

// ListByUser returns paginated request logs for a user with optional filters.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]RequestLog, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, userID)
	argIdx++

	if params.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, params.Kind)
		argIdx++
	}

	if params.Model != "" {
		conditions = append(conditions, fmt.Sprintf("model = $%d", argIdx))
		args = append(args, params.Model)
		argIdx++
	}

	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}

	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM request_logs WHERE %s", where)
	var totalCount int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting request logs: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT id, user_id, kind, model, session_id, prompt_tokens, completion_tokens, duration_ms, created_at
		 FROM request_logs WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying request logs: %w", err)
	}
	defer rows.Close()

	var logs []RequestLog
	for rows.Next() {
		var l RequestLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Kind, &l.Model, &l.SessionID,
			&l.PromptTokens, &l.CompletionTokens, &l.DurationMs, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning request log: %w", err)
		}
		logs = append(logs, l)
	}

	return logs, totalCount, nil
}
