package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanjaemi/hanjaemi/internal/config"
)

// memoryRepo is an in-memory Repository honoring the same keying contract as
// the postgres implementation: one counter per (user, period key).
type memoryRepo struct {
	mu       sync.Mutex
	counts   map[uuid.UUID]map[string]int
	subs     map[uuid.UUID]*Subscription
	incCalls int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		counts: make(map[uuid.UUID]map[string]int),
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

func (r *memoryRepo) Counts(_ context.Context, userID uuid.UUID, dayKey, monthKey string) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[userID][dayKey], r.counts[userID][monthKey], nil
}

func (r *memoryRepo) Increment(_ context.Context, userID uuid.UUID, dayKey, monthKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[userID] == nil {
		r.counts[userID] = make(map[string]int)
	}
	r.counts[userID][dayKey]++
	r.counts[userID][monthKey]++
	r.incCalls++
	return nil
}

func (r *memoryRepo) ActiveSubscription(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[userID], nil
}

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		Free: config.TierLimits{Daily: 3, Monthly: 10},
		Pro:  config.TierLimits{Daily: 100, Monthly: 1000},
	}
}

func subscribe(repo *memoryRepo, userID uuid.UUID, tier string) {
	repo.subs[userID] = &Subscription{UserID: userID, Tier: tier, Status: "active"}
}

func TestCheck_NoSubscriptionFailsClosed(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testLimits())

	st, err := svc.Check(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, st.CanMakeRequest)
	assert.Zero(t, st.DailyLimit)
	assert.Zero(t, st.MonthlyLimit)
}

func TestCheck_UnknownTierFailsClosed(t *testing.T) {
	repo := newMemoryRepo()
	userID := uuid.New()
	subscribe(repo, userID, "enterprise")
	svc := NewService(repo, testLimits())

	st, err := svc.Check(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, st.CanMakeRequest)
}

func TestCheck_UnderBothLimits(t *testing.T) {
	repo := newMemoryRepo()
	userID := uuid.New()
	subscribe(repo, userID, "free")
	svc := NewService(repo, testLimits())

	require.NoError(t, svc.Record(context.Background(), userID))

	st, err := svc.Check(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, st.CanMakeRequest)
	assert.Equal(t, 1, st.DailyUsage)
	assert.Equal(t, 1, st.MonthlyUsage)
	assert.Equal(t, 2, st.RemainingDaily)
	assert.Equal(t, 9, st.RemainingMonthly)
}

func TestCheck_BlockedOnEitherAxis(t *testing.T) {
	ctx := context.Background()

	t.Run("daily exhausted", func(t *testing.T) {
		repo := newMemoryRepo()
		userID := uuid.New()
		subscribe(repo, userID, "free")
		svc := NewService(repo, testLimits())

		for i := 0; i < 3; i++ {
			require.NoError(t, svc.Record(ctx, userID))
		}

		st, err := svc.Check(ctx, userID)
		require.NoError(t, err)
		assert.False(t, st.CanMakeRequest)
		assert.Zero(t, st.RemainingDaily)
		assert.Equal(t, 7, st.RemainingMonthly)
	})

	t.Run("monthly exhausted", func(t *testing.T) {
		repo := newMemoryRepo()
		userID := uuid.New()
		subscribe(repo, userID, "free")
		svc := NewService(repo, testLimits())

		// Spread increments across days so only the month bucket fills.
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 10; i++ {
			svc.now = func() time.Time { return base.AddDate(0, 0, i) }
			require.NoError(t, svc.Record(ctx, userID))
		}

		svc.now = func() time.Time { return base.AddDate(0, 0, 10) }
		st, err := svc.Check(ctx, userID)
		require.NoError(t, err)
		assert.False(t, st.CanMakeRequest)
		assert.Zero(t, st.DailyUsage)
		assert.Zero(t, st.RemainingMonthly)
	})
}

func TestCheck_IsSideEffectFree(t *testing.T) {
	repo := newMemoryRepo()
	userID := uuid.New()
	subscribe(repo, userID, "free")
	svc := NewService(repo, testLimits())

	require.NoError(t, svc.Record(context.Background(), userID))

	for i := 0; i < 5; i++ {
		st, err := svc.Check(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, 1, st.DailyUsage)
		assert.Equal(t, 1, st.MonthlyUsage)
	}
	assert.Equal(t, 1, repo.incCalls)
}

func TestRecord_PeriodRollover(t *testing.T) {
	repo := newMemoryRepo()
	userID := uuid.New()
	subscribe(repo, userID, "free")
	svc := NewService(repo, testLimits())

	day1 := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day1 }
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(context.Background(), userID))
	}

	st, err := svc.Check(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, st.CanMakeRequest, "daily limit reached on day 1")

	// Next day, next month: both buckets start empty. No reset mutation,
	// the new period keys simply have no rows yet.
	svc.now = func() time.Time { return day1.Add(2 * time.Hour) }
	st, err = svc.Check(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, st.CanMakeRequest)
	assert.Zero(t, st.DailyUsage)
	assert.Zero(t, st.MonthlyUsage)
}

func TestRecord_IsolatedPerUser(t *testing.T) {
	repo := newMemoryRepo()
	user1 := uuid.New()
	user2 := uuid.New()
	subscribe(repo, user1, "free")
	subscribe(repo, user2, "free")
	svc := NewService(repo, testLimits())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Record(context.Background(), user1)
		}()
	}
	wg.Wait()

	st1, err := svc.Check(context.Background(), user1)
	require.NoError(t, err)
	st2, err := svc.Check(context.Background(), user2)
	require.NoError(t, err)

	assert.Equal(t, 3, st1.DailyUsage)
	assert.Zero(t, st2.DailyUsage, "user2 must not absorb user1's increments")
}

func TestPeriodKeys(t *testing.T) {
	at := time.Date(2026, 8, 29, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-29", DayKey(at))
	assert.Equal(t, "2026-08", MonthKey(at))

	// Keys are UTC regardless of the wall clock's zone.
	kst := at.In(time.FixedZone("KST", 9*3600))
	assert.Equal(t, "2026-08-29", DayKey(kst))
}
