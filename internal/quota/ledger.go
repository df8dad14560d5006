// Package quota enforces the per-user daily limit on AI generations.
package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/ubuygold/studygen/internal/metrics"
	"github.com/ubuygold/studygen/internal/model"
)

// UnlimitedRemaining is reported as the remaining count for users holding an unlimited grant.
const UnlimitedRemaining = 999999

// Decision is the outcome of one check-and-increment.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	Unlimited bool      `json:"unlimited,omitempty"`
}

// Usage is a read-only view of one user's counter for a day.
type Usage struct {
	UserID    string    `json:"user_id"`
	Day       string    `json:"day"`
	Count     int       `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Unlimited bool      `json:"unlimited"`
	ResetAt   time.Time `json:"reset_at"`
}

// Report aggregates one day of usage.
type Report struct {
	Day         string `json:"day"`
	Users       int64  `json:"users"`
	Generations int64  `json:"generations"`
}

// CounterStore owns the UsageCounter rows. CheckAndIncrement must be atomic: the
// comparison against limit and the increment happen in one backend operation.
type CounterStore interface {
	CheckAndIncrement(ctx context.Context, userID, day string, limit int) (allowed bool, count int, err error)
	Usage(ctx context.Context, userID, day string) (int, error)
	Report(ctx context.Context, day string) (*Report, error)
}

// GrantChecker answers whether a user is exempt from the limit.
type GrantChecker interface {
	HasUnlimitedGrant(ctx context.Context, userID string) (bool, error)
}

// Ledger combines the grant allow-list with the atomic counter store.
type Ledger struct {
	counters CounterStore
	grants   GrantChecker
	limit    int
	logger   *slog.Logger
	now      func() time.Time
}

// NewLedger creates a Ledger enforcing limit generations per user per UTC day.
func NewLedger(counters CounterStore, grants GrantChecker, limit int, logger *slog.Logger) *Ledger {
	return &Ledger{
		counters: counters,
		grants:   grants,
		limit:    limit,
		logger:   logger.With("component", "quota"),
		now:      time.Now,
	}
}

// Limit returns the daily limit.
func (l *Ledger) Limit() int {
	return l.limit
}

// CheckAndIncrement charges one generation to userID if the user has quota left.
// Backend failures deny the request (fail closed) instead of returning an error.
func (l *Ledger) CheckAndIncrement(ctx context.Context, userID string) Decision {
	now := l.now()
	resetAt := NextReset(now)

	if userID == "" {
		metrics.QuotaDecisionsTotal.WithLabelValues("denied").Inc()
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	unlimited, err := l.grants.HasUnlimitedGrant(ctx, userID)
	if err != nil {
		l.logger.Error("Unlimited grant lookup failed, denying request", "user_id", userID, "error", err)
		metrics.QuotaDecisionsTotal.WithLabelValues("error").Inc()
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	if unlimited {
		metrics.QuotaDecisionsTotal.WithLabelValues("unlimited").Inc()
		return Decision{Allowed: true, Remaining: UnlimitedRemaining, ResetAt: resetAt, Unlimited: true}
	}

	allowed, count, err := l.counters.CheckAndIncrement(ctx, userID, model.DayOf(now), l.limit)
	if err != nil {
		l.logger.Error("Usage check-and-increment failed, denying request", "user_id", userID, "error", err)
		metrics.QuotaDecisionsTotal.WithLabelValues("error").Inc()
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	if allowed {
		metrics.QuotaDecisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.QuotaDecisionsTotal.WithLabelValues("denied").Inc()
		l.logger.Info("Daily generation limit reached", "user_id", userID, "count", count, "limit", l.limit)
	}
	return Decision{Allowed: allowed, Remaining: max(0, l.limit-count), ResetAt: resetAt}
}

// Usage reports the counter for userID on day without charging anything. An
// empty day means today.
func (l *Ledger) Usage(ctx context.Context, userID, day string) (*Usage, error) {
	now := l.now()
	if day == "" {
		day = model.DayOf(now)
	}
	usage := &Usage{UserID: userID, Day: day, Limit: l.limit, ResetAt: NextReset(now)}

	unlimited, err := l.grants.HasUnlimitedGrant(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, err := l.counters.Usage(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	usage.Count = count
	usage.Unlimited = unlimited
	if unlimited {
		usage.Remaining = UnlimitedRemaining
	} else {
		usage.Remaining = max(0, l.limit-count)
	}
	return usage, nil
}

// Report aggregates usage for day.
func (l *Ledger) Report(ctx context.Context, day string) (*Report, error) {
	return l.counters.Report(ctx, day)
}

// NextReset returns the UTC midnight following now.
func NextReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
