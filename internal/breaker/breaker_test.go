package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/kyuwon-dev/dart-exec/internal/market"
)

func newTestBreaker(threshold int, cooldown, maxCooldown time.Duration) (*Breaker, *market.FakeClock) {
	clock := market.NewFakeClock(time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC))
	return New("test", threshold, cooldown, maxCooldown, clock), clock
}

func trip(b *Breaker, failures int) {
	for i := 0; i < failures; i++ {
		b.RecordFailure()
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second, 5*time.Minute)

	trip(b, 2)
	if err := b.Allow(); err != nil {
		t.Fatalf("below threshold: Allow() = %v, want nil", err)
	}

	b.RecordFailure()
	if got := b.State(); got != Open {
		t.Fatalf("State() = %v, want Open", got)
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow() while open = %v, want ErrOpen", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second, 5*time.Minute)

	trip(b, 2)
	b.RecordSuccess()
	trip(b, 2)
	if got := b.State(); got != Closed {
		t.Fatalf("State() = %v, want Closed (streak was broken)", got)
	}
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second, 5*time.Minute)

	trip(b, 1)
	clock.Advance(30 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("probe Allow() = %v, want nil", err)
	}
	// Only one probe while it is still in flight.
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("second Allow() during probe = %v, want ErrOpen", err)
	}

	b.RecordSuccess()
	if got := b.State(); got != Closed {
		t.Fatalf("State() after probe success = %v, want Closed", got)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after close = %v, want nil", err)
	}
}

func TestProbeFailureDoublesCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second, 5*time.Minute)

	trip(b, 1)
	clock.Advance(30 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe Allow() = %v", err)
	}
	b.RecordFailure()

	// Cooldown is now 60s: 30s in is still open.
	clock.Advance(30 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow() mid-backoff = %v, want ErrOpen", err)
	}
	clock.Advance(30 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after doubled cooldown = %v, want probe", err)
	}
}

func TestFailingFastReleasesAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second, 5*time.Minute)

	if b.FailingFast() {
		t.Fatal("closed breaker must not fail fast")
	}
	trip(b, 1)
	if !b.FailingFast() {
		t.Fatal("open breaker inside cooldown must fail fast")
	}

	clock.Advance(30 * time.Second)
	if b.FailingFast() {
		t.Fatal("cooled breaker must stop failing fast")
	}
	// The check is read-only: no promotion happened, the probe is still
	// available to the next Allow.
	if got := b.State(); got != Open {
		t.Fatalf("State() after FailingFast = %v, want Open", got)
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown = %v", err)
	}
	if !b.FailingFast() {
		t.Fatal("half-open with the single call in flight must fail fast")
	}
	b.RecordSuccess()
	if b.FailingFast() {
		t.Fatal("closed breaker after recovery must not fail fast")
	}
}

func TestCooldownCapped(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second, time.Minute)

	trip(b, 1)
	for i := 0; i < 4; i++ {
		clock.Advance(time.Minute)
		if err := b.Allow(); err != nil {
			t.Fatalf("probe %d not admitted: %v", i, err)
		}
		b.RecordFailure()
	}

	// However many probes failed, the cooldown never exceeds the cap.
	clock.Advance(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after max cooldown = %v, want probe admitted", err)
	}
}
