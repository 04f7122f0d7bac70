// Package risk gates every order attempt against process-wide loss and rate
// limits, and tracks realized outcomes. Denials are values, not errors; only
// a malformed intent is an error.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/kyuwon-dev/dart-exec/internal/market"
	"github.com/kyuwon-dev/dart-exec/internal/observ"
)

// DenyReason is a machine-readable authorization denial.
type DenyReason string

const (
	DenyDailyLossLimit    DenyReason = "daily_loss_limit"
	DenyPositionLossLimit DenyReason = "position_loss_limit"
	DenyLossStreak        DenyReason = "loss_streak"
	DenyDailyOrderCap     DenyReason = "daily_order_cap"
	DenyRunMode           DenyReason = "run_mode_not_live"
	DenySevereLossTrip    DenyReason = "severe_loss_trip"
	DenyBreakerOpen       DenyReason = "breaker_open"
)

// Decision is the result of Authorize.
type Decision struct {
	Allowed bool
	Reason  DenyReason // set when !Allowed
}

var allow = Decision{Allowed: true}

func deny(r DenyReason) Decision { return Decision{Reason: r} }

// Intent is the subset of an order intent the guard evaluates.
type Intent struct {
	Instrument    string
	Quantity      int64
	LiveExecution bool // intent targets a real brokerage call
}

// Limits holds the configured risk ceilings. Loss values are positive
// magnitudes in KRW.
type Limits struct {
	DailyLossLimit    int64
	PositionLossLimit int64
	LossStreakCutoff  int
	DailyOrderCap     int
	SevereLossLimit   int64 // single-loss magnitude that self-trips the guard
}

// Outcome is reported back to the guard for every terminal order result.
type Outcome struct {
	Instrument  string
	RealizedPnL int64 // negative on a losing close
	Closed      bool  // outcome closed a position (PnL is meaningful)
}

// Guard owns RiskState. One mutex serializes Authorize and RecordOutcome so
// no caller sees a partially-updated counter.
type Guard struct {
	mu sync.Mutex

	limits      Limits
	liveEnabled bool
	breakerOpen func() bool // network breaker, AND-gated with the self-trip
	cal         market.Calendar
	clock       market.Clock
	store       *Store // nil when persistence is disabled

	dailyLoss    int64
	positionLoss map[string]int64
	lossStreak   int
	ordersToday  int
	tripped      bool
	trippedAt    time.Time
	resetAt      time.Time
}

// New creates a guard. breakerOpen reports the network breaker; pass nil when
// no network breaker applies (gate then depends only on the self-trip).
func New(limits Limits, liveEnabled bool, breakerOpen func() bool, cal market.Calendar, clock market.Clock) *Guard {
	if breakerOpen == nil {
		breakerOpen = func() bool { return false }
	}
	return &Guard{
		limits:       limits,
		liveEnabled:  liveEnabled,
		breakerOpen:  breakerOpen,
		cal:          cal,
		clock:        clock,
		positionLoss: make(map[string]int64),
		resetAt:      cal.NextReset(clock.Now()),
	}
}

// Authorize evaluates intent against the current state. Deny reasons are
// checked in a fixed order so tests and alerts see stable output. It returns
// an error only for a malformed intent.
func (g *Guard) Authorize(intent Intent) (Decision, error) {
	if intent.Instrument == "" {
		return Decision{}, fmt.Errorf("risk: intent missing instrument")
	}
	if intent.Quantity <= 0 {
		return Decision{}, fmt.Errorf("risk: intent quantity %d must be positive", intent.Quantity)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()

	d := g.evaluateLocked(intent)
	if !d.Allowed {
		observ.IncCounter("risk_denials_total", map[string]string{"reason": string(d.Reason)})
		observ.Log("risk_deny", map[string]any{
			"instrument": intent.Instrument,
			"reason":     string(d.Reason),
		})
	}
	return d, nil
}

func (g *Guard) evaluateLocked(intent Intent) Decision {
	if g.limits.DailyLossLimit > 0 && g.dailyLoss >= g.limits.DailyLossLimit {
		return deny(DenyDailyLossLimit)
	}
	if g.limits.PositionLossLimit > 0 && g.positionLoss[intent.Instrument] >= g.limits.PositionLossLimit {
		return deny(DenyPositionLossLimit)
	}
	if g.limits.LossStreakCutoff > 0 && g.lossStreak >= g.limits.LossStreakCutoff {
		return deny(DenyLossStreak)
	}
	if g.limits.DailyOrderCap > 0 && g.ordersToday >= g.limits.DailyOrderCap {
		return deny(DenyDailyOrderCap)
	}
	if intent.LiveExecution && !g.liveEnabled {
		return deny(DenyRunMode)
	}
	// Business-rule trip and network breaker are independent; either one
	// open means deny.
	if g.tripped {
		return deny(DenySevereLossTrip)
	}
	if g.breakerOpen() {
		return deny(DenyBreakerOpen)
	}
	return allow
}

// RecordOutcome updates counters for one terminal order result. A single loss
// at or beyond the severity threshold trips the guard until the daily reset.
func (g *Guard) RecordOutcome(out Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()

	g.ordersToday++
	if out.Closed {
		if out.RealizedPnL < 0 {
			loss := -out.RealizedPnL
			g.dailyLoss += loss
			g.positionLoss[out.Instrument] += loss
			g.lossStreak++
			if g.limits.SevereLossLimit > 0 && loss >= g.limits.SevereLossLimit && !g.tripped {
				g.tripped = true
				g.trippedAt = g.clock.Now()
				observ.IncCounter("risk_severe_trips_total", nil)
				observ.Log("risk_severe_trip", map[string]any{
					"instrument": out.Instrument,
					"loss":       loss,
				})
			}
		} else if out.RealizedPnL > 0 {
			g.lossStreak = 0
		}
	}

	observ.SetGauge("risk_daily_loss", float64(g.dailyLoss), nil)
	observ.SetGauge("risk_loss_streak", float64(g.lossStreak), nil)
	observ.SetGauge("risk_orders_today", float64(g.ordersToday), nil)

	if g.store != nil {
		if err := g.store.save(g.snapshotLocked()); err != nil {
			observ.Log("risk_snapshot_error", map[string]any{"error": err.Error()})
		}
	}
}

// Tripped reports the business-rule self-trip state.
func (g *Guard) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.tripped
}

// Stats returns a copy of the daily counters for reporting.
func (g *Guard) Stats() (dailyLoss int64, lossStreak, ordersToday int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.dailyLoss, g.lossStreak, g.ordersToday
}

func (g *Guard) rollDayLocked() {
	now := g.clock.Now()
	if now.Before(g.resetAt) {
		return
	}
	g.dailyLoss = 0
	g.positionLoss = make(map[string]int64)
	g.lossStreak = 0
	g.ordersToday = 0
	g.tripped = false
	g.trippedAt = time.Time{}
	g.resetAt = g.cal.NextReset(now)
	observ.Log("risk_daily_reset", map[string]any{"next_reset": g.resetAt.Format(time.RFC3339)})
}
