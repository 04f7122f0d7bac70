// Package breaker implements a three-state circuit breaker for the brokerage
// transport. Consecutive failures open the circuit; after a cooldown exactly
// one probe is admitted, and its outcome decides between closing the circuit
// and reopening it with a longer cooldown.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/kyuwon-dev/dart-exec/internal/market"
	"github.com/kyuwon-dev/dart-exec/internal/observ"
)

// ErrOpen is returned by Allow while the circuit is open and cooling down.
var ErrOpen = errors.New("breaker: circuit open")

// State of the circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards one downstream dependency. Independent dependencies get
// independent breakers.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	baseCooldown     time.Duration
	maxCooldown      time.Duration
	clock            market.Clock

	state         State
	consecutive   int
	cooldown      time.Duration
	openedAt      time.Time
	probeInFlight bool
}

// New creates a closed breaker. After failureThreshold consecutive failures
// it opens for baseCooldown; each failed probe doubles the cooldown up to
// maxCooldown.
func New(name string, failureThreshold int, baseCooldown, maxCooldown time.Duration, clock market.Clock) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	if maxCooldown < baseCooldown {
		maxCooldown = baseCooldown
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		baseCooldown:     baseCooldown,
		maxCooldown:      maxCooldown,
		clock:            clock,
		state:            Closed,
		cooldown:         baseCooldown,
	}
}

// Allow reports whether a call may go out. While open it fails fast with
// ErrOpen until the cooldown elapses, then admits exactly one probe; further
// callers keep getting ErrOpen until that probe resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = HalfOpen
		b.probeInFlight = true
		observ.Log("breaker_half_open", map[string]any{"breaker": b.name})
		return nil
	case HalfOpen:
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess reports a successful call. A successful probe closes the
// circuit and resets the cooldown.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	if b.state != Closed {
		observ.Log("breaker_closed", map[string]any{"breaker": b.name})
	}
	b.state = Closed
	b.probeInFlight = false
	b.cooldown = b.baseCooldown
	observ.SetGauge("breaker_state", 0, map[string]string{"breaker": b.name})
}

// RecordFailure reports a failed call. In Closed it counts toward the
// threshold; in HalfOpen the failed probe reopens the circuit with a doubled
// cooldown, capped at the maximum.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutive++
		if b.consecutive >= b.failureThreshold {
			b.trip(b.baseCooldown)
		}
	case HalfOpen:
		b.probeInFlight = false
		next := b.cooldown * 2
		if next > b.maxCooldown {
			next = b.maxCooldown
		}
		b.trip(next)
	case Open:
		// Late failure from a call admitted before the trip; nothing to do.
	}
}

func (b *Breaker) trip(cooldown time.Duration) {
	b.state = Open
	b.cooldown = cooldown
	b.openedAt = b.clock.Now()
	b.probeInFlight = false
	observ.IncCounter("breaker_trips_total", map[string]string{"breaker": b.name})
	observ.SetGauge("breaker_state", 1, map[string]string{"breaker": b.name})
	observ.Log("breaker_open", map[string]any{
		"breaker":     b.name,
		"consecutive": b.consecutive,
		"cooldown_ms": cooldown.Milliseconds(),
	})
}

// FailingFast reports whether Allow would currently reject without admitting
// a call: open and still cooling down, or half-open with the probe already in
// flight. It never mutates state, so gates that run before Allow (risk
// authorization) can consult it without consuming the half-open probe — once
// the cooldown elapses it returns false and the next attempt reaches Allow,
// which admits the probe.
func (b *Breaker) FailingFast() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		return b.clock.Now().Sub(b.openedAt) < b.cooldown
	case HalfOpen:
		return b.probeInFlight
	}
	return false
}

// State returns the current state. Promotion from Open to HalfOpen happens
// in Allow so reads stay side-effect free.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
