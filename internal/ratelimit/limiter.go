// Package ratelimit bounds the outbound call rate to the brokerage API: a
// continuously-refilled token bucket smooths per-second bursts, and an
// independent daily counter enforces the brokerage's hard compliance ceiling.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kyuwon-dev/dart-exec/internal/market"
	"github.com/kyuwon-dev/dart-exec/internal/observ"
)

// ErrDailyLimit is returned once the daily cap is exhausted. Not retryable
// until the exchange-local daily boundary.
var ErrDailyLimit = errors.New("daily call limit exhausted")

// Limiter owns the RateBudget. All mutation happens under one mutex so
// concurrent callers never observe a partially-updated bucket.
type Limiter struct {
	mu         sync.Mutex
	bucket     *rate.Limiter
	burst      int
	dailyLimit int
	usedToday  int
	resetAt    time.Time

	cal   market.Calendar
	clock market.Clock
}

// New builds a limiter refilling perSecond tokens up to burst, with a hard
// dailyLimit. The calendar supplies the exchange-local daily boundary.
func New(perSecond float64, burst, dailyLimit int, cal market.Calendar, clock market.Clock) *Limiter {
	l := &Limiter{
		bucket:     rate.NewLimiter(rate.Limit(perSecond), burst),
		burst:      burst,
		dailyLimit: dailyLimit,
		cal:        cal,
		clock:      clock,
	}
	l.resetAt = cal.NextReset(clock.Now())
	return l
}

// Acquire requests cost tokens. A zero wait with nil error is a grant. A
// positive wait means the caller should sleep that long and re-acquire; no
// tokens are consumed. ErrDailyLimit means the daily budget is gone until the
// next boundary. Cost above the bucket capacity is a contract violation.
func (l *Limiter) Acquire(cost int) (time.Duration, error) {
	if cost <= 0 {
		return 0, fmt.Errorf("ratelimit: cost must be positive, got %d", cost)
	}
	if cost > l.burst {
		return 0, fmt.Errorf("ratelimit: cost %d exceeds bucket capacity %d", cost, l.burst)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rollDayLocked(now)

	if l.usedToday+cost > l.dailyLimit {
		observ.IncCounter("ratelimit_daily_exhausted_total", nil)
		return 0, ErrDailyLimit
	}

	res := l.bucket.ReserveN(now, cost)
	if !res.OK() {
		return 0, fmt.Errorf("ratelimit: reservation for cost %d not possible", cost)
	}
	if wait := res.DelayFrom(now); wait > 0 {
		// Give the tokens back; the caller re-acquires after waiting so a
		// cancelled attempt never holds budget.
		res.CancelAt(now)
		observ.IncCounter("ratelimit_deferrals_total", nil)
		return wait, nil
	}

	l.usedToday += cost
	observ.SetGauge("ratelimit_daily_used", float64(l.usedToday), nil)
	return 0, nil
}

// Remaining reports the unused daily budget.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked(l.clock.Now())
	return l.dailyLimit - l.usedToday
}

func (l *Limiter) rollDayLocked(now time.Time) {
	if now.Before(l.resetAt) {
		return
	}
	l.usedToday = 0
	l.resetAt = l.cal.NextReset(now)
	observ.Log("ratelimit_daily_reset", map[string]any{
		"next_reset": l.resetAt.UTC().Format(time.RFC3339),
	})
}
