package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/kyuwon-dev/dart-exec/internal/market"
)

func newTestLimiter(t *testing.T, perSecond float64, burst, daily int) (*Limiter, *market.FakeClock) {
	t.Helper()
	cal, err := market.NewKRXCalendar()
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	// Wednesday mid-session, not a holiday.
	start := time.Date(2026, 4, 15, 10, 0, 0, 0, cal.Location())
	clock := market.NewFakeClock(start)
	return New(perSecond, burst, daily, cal, clock), clock
}

func TestAcquireBurstThenWait(t *testing.T) {
	l, _ := newTestLimiter(t, 5, 5, 10000)

	for i := 0; i < 5; i++ {
		wait, err := l.Acquire(1)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if wait != 0 {
			t.Fatalf("acquire %d: want immediate grant, got wait %v", i, wait)
		}
	}

	// Bucket drained: the 6th acquisition inside the same second must defer.
	wait, err := l.Acquire(1)
	if err != nil {
		t.Fatalf("acquire after burst: %v", err)
	}
	if wait <= 0 {
		t.Fatalf("want non-zero wait after burst, got %v", wait)
	}
}

func TestAcquireWaitThenRetrySucceeds(t *testing.T) {
	l, clock := newTestLimiter(t, 5, 5, 10000)

	for i := 0; i < 5; i++ {
		if _, err := l.Acquire(1); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	wait, err := l.Acquire(1)
	if err != nil || wait <= 0 {
		t.Fatalf("want deferral, got wait=%v err=%v", wait, err)
	}

	clock.Advance(wait)
	wait, err = l.Acquire(1)
	if err != nil {
		t.Fatalf("re-acquire after wait: %v", err)
	}
	if wait != 0 {
		t.Fatalf("want grant after waiting, got wait %v", wait)
	}
}

func TestAcquireDailyLimit(t *testing.T) {
	l, clock := newTestLimiter(t, 1000, 5, 3)

	for i := 0; i < 3; i++ {
		if _, err := l.Acquire(1); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		clock.Advance(10 * time.Millisecond)
	}

	if _, err := l.Acquire(1); !errors.Is(err, ErrDailyLimit) {
		t.Fatalf("want ErrDailyLimit, got %v", err)
	}
	if got := l.Remaining(); got != 0 {
		t.Fatalf("Remaining() = %d, want 0", got)
	}

	// Budget comes back at the exchange-local boundary.
	clock.Advance(24 * time.Hour)
	if _, err := l.Acquire(1); err != nil {
		t.Fatalf("acquire after daily reset: %v", err)
	}
	if got := l.Remaining(); got != 2 {
		t.Fatalf("Remaining() after reset = %d, want 2", got)
	}
}

func TestAcquireBadCost(t *testing.T) {
	l, _ := newTestLimiter(t, 5, 5, 100)

	cases := []struct {
		name string
		cost int
	}{
		{"zero", 0},
		{"negative", -1},
		{"above_capacity", 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := l.Acquire(tc.cost); err == nil {
				t.Fatalf("Acquire(%d): want error", tc.cost)
			}
		})
	}
}
