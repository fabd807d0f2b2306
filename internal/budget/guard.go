// Package budget enforces a per-user daily spend cap for generation work.
// Admission is pre-flight only: once a batch is running it is never blocked
// retroactively, and RecordSpend is plain bookkeeping.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"scenebatch/internal/money"
)

// CodeDailyLimitExceeded is the denial reason for requests that would push a
// user past the daily cap.
const CodeDailyLimitExceeded = "DAILY_LIMIT_EXCEEDED"

// alertFraction of the daily limit at which cumulative spend raises a
// warn-level alert.
const alertFraction = 80 // percent

// Decision is the outcome of a pre-flight budget check.
type Decision struct {
	Allowed    bool
	Code       string
	Remaining  *apd.Decimal
	DailyLimit *apd.Decimal
}

// Guard tracks cumulative spend per (user, UTC calendar day). Buckets reset
// implicitly when the day rolls over; stale buckets are pruned on write.
type Guard struct {
	mu         sync.Mutex
	dailyLimit *apd.Decimal
	spent      map[string]*apd.Decimal // userID|yyyy-mm-dd
	logger     zerolog.Logger

	now func() time.Time
}

// New builds a guard with the given daily cap, e.g. "5.00".
func New(dailyLimitUSD string, logger zerolog.Logger) (*Guard, error) {
	limit, err := money.Parse(dailyLimitUSD)
	if err != nil {
		return nil, fmt.Errorf("budget: daily limit: %w", err)
	}
	if limit.Sign() < 0 {
		return nil, fmt.Errorf("budget: daily limit %s is negative", dailyLimitUSD)
	}
	return &Guard{
		dailyLimit: limit,
		spent:      make(map[string]*apd.Decimal),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Check reports whether spending estimatedCost now would stay within the
// user's daily cap. It is advisory; it reserves nothing.
func (g *Guard) Check(userID string, estimatedCost *apd.Decimal) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	spent := g.spentToday(userID)
	remaining := money.ClampZero(money.Sub(g.dailyLimit, spent))
	if money.Add(spent, estimatedCost).Cmp(g.dailyLimit) > 0 {
		return Decision{
			Allowed:    false,
			Code:       CodeDailyLimitExceeded,
			Remaining:  remaining,
			DailyLimit: g.dailyLimit,
		}
	}
	return Decision{Allowed: true, Remaining: remaining, DailyLimit: g.dailyLimit}
}

// RecordSpend adds the actual completed-item cost to today's bucket. Called
// once per completed batch. Actual cost normally stays at or below the
// checked estimate (failed items are not billed); an overage is still
// recorded and only raises the alert, the guard never throws here.
func (g *Guard) RecordSpend(userID string, actualCost *apd.Decimal) {
	if actualCost == nil || actualCost.IsZero() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	day := g.dateBucket()
	total := money.Add(g.spentToday(userID), actualCost)
	g.pruneLocked(day)
	g.spent[userID+"|"+day] = total

	if money.MulInt(total, 100).Cmp(money.MulInt(g.dailyLimit, alertFraction)) >= 0 {
		g.logger.Warn().
			Str("user_id", userID).
			Str("date", day).
			Str("spent_usd", total.String()).
			Str("daily_limit_usd", g.dailyLimit.String()).
			Msg("budget: daily spend crossed alert threshold")
	}
}

// SpentToday returns the user's cumulative spend for the current UTC day.
func (g *Guard) SpentToday(userID string) *apd.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spentToday(userID)
}

func (g *Guard) spentToday(userID string) *apd.Decimal {
	if total, ok := g.spent[userID+"|"+g.dateBucket()]; ok {
		return total
	}
	return money.Zero()
}

func (g *Guard) dateBucket() string {
	return g.now().UTC().Format("2006-01-02")
}

// pruneLocked drops buckets from previous days so the map does not grow
// without bound.
func (g *Guard) pruneLocked(today string) {
	suffix := "|" + today
	for key := range g.spent {
		if len(key) < len(suffix) || key[len(key)-len(suffix):] != suffix {
			delete(g.spent, key)
		}
	}
}
