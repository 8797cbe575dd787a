package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	// Counts returns the request counts for the two period buckets, with 0
	// for buckets that have no row yet.
	Counts(ctx context.Context, userID uuid.UUID, dayKey, monthKey string) (daily, monthly int, err error)

	// Increment adds 1 to both period buckets in a single atomic statement.
	Increment(ctx context.Context, userID uuid.UUID, dayKey, monthKey string) error

	// ActiveSubscription returns the user's active subscription, or nil.
	ActiveSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Counts(ctx context.Context, userID uuid.UUID, dayKey, monthKey string) (int, int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT period_key, request_count
		 FROM usage_counters
		 WHERE user_id = $1 AND period_key IN ($2, $3)`,
		userID, dayKey, monthKey)
	if err != nil {
		return 0, 0, fmt.Errorf("querying usage counters: %w", err)
	}
	defer rows.Close()

	var daily, monthly int
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return 0, 0, fmt.Errorf("scanning usage counter: %w", err)
		}
		switch key {
		case dayKey:
			daily = count
		case monthKey:
			monthly = count
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("reading usage counters: %w", err)
	}
	return daily, monthly, nil
}

// Increment delegates the whole read-modify-write to a single atomic upsert,
// so concurrent requests for the same user never lose an increment and
// requests for different users can never touch each other's rows.
func (r *postgresRepository) Increment(ctx context.Context, userID uuid.UUID, dayKey, monthKey string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO usage_counters (user_id, period_key, request_count)
		 VALUES ($1, $2, 1), ($1, $3, 1)
		 ON CONFLICT (user_id, period_key)
		 DO UPDATE SET request_count = usage_counters.request_count + 1,
		               updated_at = NOW()`,
		userID, dayKey, monthKey)
	if err != nil {
		return fmt.Errorf("incrementing usage counters: %w", err)
	}
	return nil
}

func (r *postgresRepository) ActiveSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub := &Subscription{}
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, tier, status, current_period_end
		 FROM subscriptions
		 WHERE user_id = $1 AND status = 'active'`,
		userID,
	).Scan(&sub.UserID, &sub.Tier, &sub.Status, &sub.CurrentPeriodEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}
