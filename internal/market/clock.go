package market

import "time"

// Clock abstracts wall-clock access so daily resets, breaker cooldowns, and
// rate-bucket refills stay deterministic under test. Production code passes
// RealClock; tests pass a FakeClock and advance it explicitly.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
