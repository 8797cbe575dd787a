package usage

import (
	"time"

	"github.com/google/uuid"
)

// LimitExceededMessage is the sentinel error string clients match on to enter
// their quota-exceeded state. It is part of the wire contract; do not reword.
const LimitExceededMessage = "Usage limit exceeded"

// Counter matches one usage_counters row: requests made by one user within
// one period bucket. The count only ever grows; rollover is a new period key
// with no row yet, never a mutation of an existing one.
type Counter struct {
	UserID       uuid.UUID `json:"user_id"`
	PeriodKey    string    `json:"period_key"`
	RequestCount int       `json:"request_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Status is the gate's verdict: current usage against tier limits.
// Field names are part of the wire contract with existing clients.
type Status struct {
	CanMakeRequest   bool `json:"canMakeRequest"`
	DailyUsage       int  `json:"dailyUsage"`
	MonthlyUsage     int  `json:"monthlyUsage"`
	DailyLimit       int  `json:"dailyLimit"`
	MonthlyLimit     int  `json:"monthlyLimit"`
	RemainingDaily   int  `json:"remainingDaily"`
	RemainingMonthly int  `json:"remainingMonthly"`
}

// LimitResponse is the 429 body: the sentinel message plus full usage detail
// so clients can render exact remaining/used counts.
type LimitResponse struct {
	Error string `json:"error"`
	Usage Status `json:"usage"`
}

// Subscription is the billing record that determines a user's tier.
type Subscription struct {
	UserID           uuid.UUID `json:"user_id"`
	Tier             string    `json:"tier"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
}

// DayKey returns the day bucket key for t, in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthKey returns the month bucket key for t, in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
