package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hanjaemi/hanjaemi/internal/config"
)

// Service is the quota gate: a side-effect-free Check and a fire-once Record.
type Service struct {
	repo   Repository
	limits config.LimitsConfig
	now    func() time.Time
}

func NewService(repo Repository, limits config.LimitsConfig) *Service {
	return &Service{
		repo:   repo,
		limits: limits,
		now:    time.Now,
	}
}

// Check reads the user's current period counters against their tier limits.
// It never mutates counters, so it is safe to call any number of times: a
// page rendering remaining quota and the proxy enforcing it share this path.
//
// Absence of an active subscription, or an unknown tier, blocks the user:
// missing entitlement data is never interpreted as unlimited access.
func (s *Service) Check(ctx context.Context, userID uuid.UUID) (Status, error) {
	sub, err := s.repo.ActiveSubscription(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("checking subscription: %w", err)
	}
	if sub == nil {
		return Status{}, nil
	}

	limits, ok := s.limits.ForTier(sub.Tier)
	if !ok {
		slog.Warn("unknown subscription tier, blocking", "user_id", userID, "tier", sub.Tier)
		return Status{}, nil
	}

	now := s.now()
	daily, monthly, err := s.repo.Counts(ctx, userID, DayKey(now), MonthKey(now))
	if err != nil {
		return Status{}, fmt.Errorf("reading usage counters: %w", err)
	}

	st := Status{
		DailyUsage:       daily,
		MonthlyUsage:     monthly,
		DailyLimit:       limits.Daily,
		MonthlyLimit:     limits.Monthly,
		RemainingDaily:   max(0, limits.Daily-daily),
		RemainingMonthly: max(0, limits.Monthly-monthly),
	}
	st.CanMakeRequest = daily < limits.Daily && monthly < limits.Monthly
	return st, nil
}

// Record adds one request to the user's current day and month buckets.
// It is called exactly once per successfully completed request and is never
// retried: a lost increment undercounts, which is the accepted direction.
func (s *Service) Record(ctx context.Context, userID uuid.UUID) error {
	now := s.now()
	if err := s.repo.Increment(ctx, userID, DayKey(now), MonthKey(now)); err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	return nil
}
