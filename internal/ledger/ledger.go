// Package ledger deduplicates logically-equivalent operations. A caller
// supplies an idempotency key; the first Begin for a key wins the right to
// perform the external side effect, every other caller is handed the
// in-flight record to await or the recorded outcome. At most one side effect
// is ever executed per key within the retention window.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kyuwon-dev/dart-exec/internal/market"
	"github.com/kyuwon-dev/dart-exec/internal/observ"
)

// Decision is the outcome of Begin.
type Decision int

const (
	// Proceed: this caller owns the key and must call Complete or Fail.
	Proceed Decision = iota
	// AlreadyInFlight: another caller owns the key; await the record.
	AlreadyInFlight
	// AlreadyCompleted: the operation already ran; the record holds its result.
	AlreadyCompleted
	// AlreadyFailed: the operation already ran and failed; the record holds
	// the error.
	AlreadyFailed
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case AlreadyInFlight:
		return "already_in_flight"
	case AlreadyCompleted:
		return "already_completed"
	case AlreadyFailed:
		return "already_failed"
	default:
		return "unknown"
	}
}

type status string

const (
	statusPending   status = "pending"
	statusCompleted status = "completed"
	statusFailed    status = "failed"
)

// Record is the per-key state. Result and Err are immutable once done is
// closed; callers must not read them before Await returns.
type Record struct {
	Key       string
	CreatedAt time.Time
	ExpiresAt time.Time

	done   chan struct{}
	status status
	Result any
	Err    string
}

// Await blocks until the owning caller records an outcome, or ctx expires.
func (r *Record) Await(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completed reports whether the record finished successfully. Only valid
// after Await.
func (r *Record) Completed() bool { return r.status == statusCompleted }

// Ledger owns the idempotency map. Begin is atomic under one mutex; expired
// terminal records are reaped lazily on access, pending records never expire.
type Ledger struct {
	mu        sync.Mutex
	records   map[string]*Record
	retention time.Duration
	clock     market.Clock
	journal   *Journal // nil when persistence is disabled
}

// New creates an in-memory ledger. Records older than retention are dropped
// once terminal.
func New(retention time.Duration, clock market.Clock) *Ledger {
	return &Ledger{
		records:   make(map[string]*Record),
		retention: retention,
		clock:     clock,
	}
}

// NewPersistent creates a ledger backed by a JSONL journal so restarts within
// the retention window keep the at-most-once guarantee. Entries that were
// pending when the previous process died are replayed as failed
// ("interrupted"): the side effect may or may not have happened, so a fresh
// Begin must not silently re-execute it.
func NewPersistent(path string, retention time.Duration, clock market.Clock) (*Ledger, error) {
	l := New(retention, clock)
	j, err := OpenJournal(path)
	if err != nil {
		return nil, err
	}
	l.journal = j

	entries, err := j.Load()
	if err != nil {
		return nil, err
	}
	now := clock.Now()
	for _, e := range entries {
		if now.Sub(e.At) > retention {
			continue
		}
		rec := l.records[e.Key]
		if rec == nil {
			rec = &Record{
				Key:       e.Key,
				CreatedAt: e.At,
				ExpiresAt: e.At.Add(retention),
				done:      make(chan struct{}),
				status:    statusPending,
			}
			l.records[e.Key] = rec
		}
		switch e.Status {
		case statusCompleted:
			rec.status = statusCompleted
			rec.Result = e.Result
			safeClose(rec.done)
		case statusFailed:
			rec.status = statusFailed
			rec.Err = e.Err
			safeClose(rec.done)
		}
	}
	// Orphaned pendings from the dead process.
	interrupted := 0
	for _, rec := range l.records {
		if rec.status == statusPending {
			rec.status = statusFailed
			rec.Err = "interrupted: process restarted before outcome was recorded"
			safeClose(rec.done)
			interrupted++
		}
	}
	if interrupted > 0 {
		observ.Log("ledger_replay_interrupted", map[string]any{"keys": interrupted})
	}
	return l, nil
}

// Begin atomically claims key. Exactly one caller per live key receives
// Proceed; it must later call Complete or Fail exactly once.
func (l *Ledger) Begin(key string) (Decision, *Record, error) {
	if key == "" {
		return 0, nil, fmt.Errorf("ledger: empty idempotency key")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if rec, ok := l.records[key]; ok {
		// Expiry never discards a still-pending record.
		if rec.status != statusPending && now.After(rec.ExpiresAt) {
			delete(l.records, key)
		} else {
			switch rec.status {
			case statusPending:
				return AlreadyInFlight, rec, nil
			case statusCompleted:
				return AlreadyCompleted, rec, nil
			default:
				return AlreadyFailed, rec, nil
			}
		}
	}

	rec := &Record{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(l.retention),
		done:      make(chan struct{}),
		status:    statusPending,
	}
	l.records[key] = rec
	if l.journal != nil {
		if err := l.journal.Append(Entry{Key: key, Status: statusPending, At: now}); err != nil {
			delete(l.records, key)
			return 0, nil, fmt.Errorf("ledger: journal begin: %w", err)
		}
	}
	return Proceed, rec, nil
}

// Complete records the successful outcome for key and wakes awaiters.
func (l *Ledger) Complete(key string, result any) error {
	return l.finish(key, statusCompleted, result, "")
}

// Fail records the failed outcome for key and wakes awaiters.
func (l *Ledger) Fail(key string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.finish(key, statusFailed, nil, msg)
}

func (l *Ledger) finish(key string, st status, result any, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return fmt.Errorf("ledger: unknown key %q", key)
	}
	if rec.status != statusPending {
		return fmt.Errorf("ledger: key %q already %s", key, rec.status)
	}

	now := l.clock.Now()
	if l.journal != nil {
		if err := l.journal.Append(Entry{Key: key, Status: st, Result: result, Err: errMsg, At: now}); err != nil {
			return fmt.Errorf("ledger: journal %s: %w", st, err)
		}
	}
	rec.status = st
	rec.Result = result
	rec.Err = errMsg
	rec.ExpiresAt = now.Add(l.retention)
	close(rec.done)
	return nil
}

// Len reports live records, reaping expired terminal ones first.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	for k, rec := range l.records {
		if rec.status != statusPending && now.After(rec.ExpiresAt) {
			delete(l.records, k)
		}
	}
	return len(l.records)
}

func safeClose(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
