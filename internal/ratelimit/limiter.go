// Package ratelimit enforces a per-user cooldown window between accepted
// batch submissions. It is advisory capacity control against accidental cost
// storms (double-clicks, retry loops), not a security boundary.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a cooldown check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Reservation captures the state needed to undo a successful check when a
// later admission step rejects the submission.
type Reservation struct {
	userID  string
	at      time.Time
	prev    time.Time
	hadPrev bool
}

// Limiter tracks the last accepted submission per user. Check-and-reserve is
// atomic per user: two concurrent submissions from the same user cannot both
// pass the cooldown check.
type Limiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time

	now func() time.Time
}

func New(cooldown time.Duration) *Limiter {
	return &Limiter{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// CheckAndReserve admits the user and records the acceptance time, or denies
// with the remaining cooldown. The returned reservation is non-nil only when
// allowed.
func (l *Limiter) CheckAndReserve(userID string) (Decision, *Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if d := l.decide(userID, now); !d.Allowed {
		return d, nil
	}

	prev, hadPrev := l.last[userID]
	l.last[userID] = now
	return Decision{Allowed: true}, &Reservation{userID: userID, at: now, prev: prev, hadPrev: hadPrev}
}

// Peek reports what CheckAndReserve would decide without mutating state.
// Dry-run submissions use it so that estimating cost does not burn the
// user's cooldown.
func (l *Limiter) Peek(userID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decide(userID, l.now())
}

// Rollback releases a reservation. It is a no-op if another submission has
// been accepted for the user since the reservation was taken.
func (l *Limiter) Rollback(res *Reservation) {
	if res == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.last[res.userID]; !ok || !current.Equal(res.at) {
		return
	}
	if res.hadPrev {
		l.last[res.userID] = res.prev
		return
	}
	delete(l.last, res.userID)
}

func (l *Limiter) decide(userID string, now time.Time) Decision {
	accepted, ok := l.last[userID]
	if !ok || l.cooldown <= 0 {
		return Decision{Allowed: true}
	}
	elapsed := now.Sub(accepted)
	if elapsed >= l.cooldown {
		return Decision{Allowed: true}
	}
	retry := l.cooldown - elapsed
	if retry < 0 {
		retry = 0
	}
	return Decision{Allowed: false, RetryAfter: retry}
}
