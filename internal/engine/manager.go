package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/kyuwon-dev/dart-exec/internal/breaker"
	"github.com/kyuwon-dev/dart-exec/internal/broker"
	"github.com/kyuwon-dev/dart-exec/internal/ledger"
	"github.com/kyuwon-dev/dart-exec/internal/market"
	"github.com/kyuwon-dev/dart-exec/internal/observ"
	"github.com/kyuwon-dev/dart-exec/internal/ratelimit"
	"github.com/kyuwon-dev/dart-exec/internal/risk"
)

// Options are the lifecycle knobs. Zero values are replaced with safe
// defaults by NewManager.
type Options struct {
	LiveMode     bool // real brokerage calls; otherwise every order runs simulated
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	CallTimeout  time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Deps are the collaborators the manager drives. Live may be nil when
// LiveMode is off.
type Deps struct {
	Guard    *risk.Guard
	Ledger   *ledger.Ledger
	Limiter  *ratelimit.Limiter
	Breaker  *breaker.Breaker
	Live     broker.Transport
	Sim      broker.Transport
	Book     *Book
	Calendar market.Calendar
	Clock    market.Clock
}

// Manager runs each order intent through the full lifecycle. It is the only
// component that converts internal results into caller-visible outcomes, and
// the only place the run-mode switch is honored.
type Manager struct {
	opts Options
	deps Deps

	// mu serializes admission so a key that won Begin always has its state
	// record installed before any duplicate can observe AlreadyInFlight.
	mu     sync.Mutex
	states map[string]*OrderState

	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager wires a manager. It returns an error when LiveMode is on but no
// live transport was provided, so a misconfigured process cannot silently
// fall back to simulation.
func NewManager(opts Options, deps Deps) (*Manager, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 8 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Minute
	}
	if opts.LiveMode && deps.Live == nil {
		return nil, fmt.Errorf("engine: live mode requires a live transport")
	}
	if deps.Sim == nil {
		return nil, fmt.Errorf("engine: sim transport is required")
	}
	if deps.Book == nil {
		deps.Book = NewBook()
	}
	return &Manager{
		opts:   opts,
		deps:   deps,
		states: make(map[string]*OrderState),
		sleep:  sleepCtx,
	}, nil
}

// State returns a read-only view of the lifecycle record for key.
func (m *Manager) State(key string) (StateView, bool) {
	m.mu.Lock()
	st := m.states[key]
	m.mu.Unlock()
	if st == nil {
		return StateView{}, false
	}
	return st.View(), true
}

// Handle is returned when the same idempotency key is already in flight; the
// caller awaits the first attempt's outcome instead of re-submitting.
type Handle struct {
	Key string
	rec *ledger.Record
	st  *OrderState
}

// Await blocks until the owning attempt records a terminal result.
func (h *Handle) Await(ctx context.Context) (*Result, error) {
	if err := h.rec.Await(ctx); err != nil {
		return nil, err
	}
	return resultFromRecord(h.rec), nil
}

// State returns the current view of the in-flight order, readable before the
// terminal result is known.
func (h *Handle) State() StateView {
	return h.st.View()
}

// Submit runs one intent to a terminal state. The caller receives exactly one
// of: a terminal Result, a pending Handle for a duplicate in-flight key, or a
// validation error. Business denials come back as a Rejected Result, never as
// an error.
func (m *Manager) Submit(ctx context.Context, intent OrderIntent) (*Result, *Handle, error) {
	if err := validateIntent(intent); err != nil {
		return nil, nil, err
	}
	if intent.PriceMode == broker.Limit {
		intent.LimitPrice = broker.AlignToTick(intent.LimitPrice)
	}
	observ.Log("order_created", map[string]any{
		"key":        intent.IdempotencyKey,
		"instrument": intent.Instrument,
		"side":       string(intent.Side),
		"qty":        intent.Quantity,
	})

	if !m.deps.Calendar.AcceptsIntents(m.deps.Clock.Now()) {
		return m.rejectBeforeAdmission(intent, ReasonMarketClosed), nil, nil
	}

	dec, err := m.deps.Guard.Authorize(risk.Intent{
		Instrument:    intent.Instrument,
		Quantity:      intent.Quantity,
		LiveExecution: m.opts.LiveMode,
	})
	if err != nil {
		return nil, nil, &ValidationError{Field: "intent", Message: err.Error()}
	}
	if !dec.Allowed {
		return m.rejectBeforeAdmission(intent, string(dec.Reason)), nil, nil
	}

	m.mu.Lock()
	ld, rec, err := m.deps.Ledger.Begin(intent.IdempotencyKey)
	if err != nil {
		m.mu.Unlock()
		return nil, nil, err
	}
	var st *OrderState
	switch ld {
	case ledger.Proceed:
		st = m.installStateLocked(intent.IdempotencyKey)
	case ledger.AlreadyInFlight:
		st = m.states[intent.IdempotencyKey]
	}
	m.mu.Unlock()

	switch ld {
	case ledger.AlreadyCompleted, ledger.AlreadyFailed:
		return resultFromRecord(rec), nil, nil
	case ledger.AlreadyInFlight:
		return nil, &Handle{Key: intent.IdempotencyKey, rec: rec, st: st}, nil
	}

	st.transition(RiskChecked, m.deps.Clock.Now())
	st.transition(Admitted, m.deps.Clock.Now())
	res := m.execute(ctx, intent, st)
	m.finalize(intent, res, st)
	return res, nil, nil
}

// installStateLocked replaces any stale record for key with a fresh one.
// Callers hold m.mu.
func (m *Manager) installStateLocked(key string) *OrderState {
	st := newOrderState(key, m.deps.Clock.Now())
	m.states[key] = st
	return st
}

// rejectBeforeAdmission records a denial that happened before the order was
// admitted: no rate token is consumed and risk counters are untouched, but
// the key is marked failed in the ledger so duplicates see the denial.
func (m *Manager) rejectBeforeAdmission(intent OrderIntent, reason string) *Result {
	m.mu.Lock()
	ld, _, err := m.deps.Ledger.Begin(intent.IdempotencyKey)
	if err == nil && ld == ledger.Proceed {
		st := m.installStateLocked(intent.IdempotencyKey)
		now := m.deps.Clock.Now()
		st.noteError(reason, now)
		st.transition(Rejected, now)
	}
	m.mu.Unlock()
	if err == nil && ld == ledger.Proceed {
		_ = m.deps.Ledger.Fail(intent.IdempotencyKey, fmt.Errorf("rejected: %s", reason))
	}
	observ.IncCounter("orders_total", map[string]string{"phase": string(Rejected)})
	observ.Log("order_rejected", map[string]any{"key": intent.IdempotencyKey, "reason": reason})
	return &Result{Phase: Rejected, Reason: reason}
}

// finalize records the terminal transition exactly once: the state record
// and risk outcome first, then the ledger entry, before the result is
// returned to any caller.
func (m *Manager) finalize(intent OrderIntent, res *Result, st *OrderState) {
	st.finish(res, m.deps.Clock.Now())
	m.deps.Guard.RecordOutcome(risk.Outcome{
		Instrument:  intent.Instrument,
		RealizedPnL: res.RealizedPnL,
		Closed:      intent.Side == broker.Sell && res.FilledQty > 0,
	})

	key := intent.IdempotencyKey
	switch res.Phase {
	case Filled, PartiallyFilledTerminal, Cancelled:
		if err := m.deps.Ledger.Complete(key, res); err != nil {
			observ.Log("ledger_complete_error", map[string]any{"key": key, "error": err.Error()})
		}
	default:
		cause := fmt.Errorf("%s: %s", res.Phase, res.Reason)
		if res.Phase == Rejected {
			cause = fmt.Errorf("rejected: %s", res.Reason)
		}
		if err := m.deps.Ledger.Fail(key, cause); err != nil {
			observ.Log("ledger_fail_error", map[string]any{"key": key, "error": err.Error()})
		}
	}

	observ.IncCounter("orders_total", map[string]string{"phase": string(res.Phase)})
	observ.Log("order_terminal", map[string]any{
		"key":        key,
		"phase":      string(res.Phase),
		"reason":     res.Reason,
		"filled_qty": res.FilledQty,
	})
}

// execute drives an admitted order to a terminal result. It never returns a
// non-terminal phase.
func (m *Manager) execute(ctx context.Context, intent OrderIntent, st *OrderState) *Result {
	// Rate admission. A wait is the one cooperative suspension point in the
	// normal path; the caller's context cancels it.
	for {
		wait, err := m.deps.Limiter.Acquire(1)
		if err != nil {
			if errors.Is(err, ratelimit.ErrDailyLimit) {
				return &Result{Phase: Failed, Reason: ReasonRateDailyCap}
			}
			return &Result{Phase: Failed, Reason: err.Error()}
		}
		if wait == 0 {
			break
		}
		observ.Log("order_rate_wait", map[string]any{"key": intent.IdempotencyKey, "wait_ms": wait.Milliseconds()})
		if err := m.sleep(ctx, wait); err != nil {
			return &Result{Phase: Cancelled, Reason: ReasonCancelled}
		}
	}

	t := m.transport()
	req := broker.SubmitRequest{
		Instrument: intent.Instrument,
		Side:       intent.Side,
		Quantity:   intent.Quantity,
		PriceMode:  intent.PriceMode,
		LimitPrice: intent.LimitPrice,
	}

	ack, res := m.submitWithRetry(ctx, t, st, req)
	if res != nil {
		return res
	}

	now := m.deps.Clock.Now()
	st.setBrokerOrder(ack.BrokerOrderID, now)
	st.transition(Submitted, now)
	observ.Log("order_submitted", map[string]any{
		"key":             intent.IdempotencyKey,
		"broker_order_id": ack.BrokerOrderID,
		"dry_run":         !m.opts.LiveMode,
	})
	return m.track(ctx, t, intent, st, ack)
}

// submitWithRetry wraps submission with the circuit breaker and retries only
// pre-acknowledgment transport failures, with exponential backoff and jitter.
// Business rejections are terminal immediately.
func (m *Manager) submitWithRetry(ctx context.Context, t broker.Transport, st *OrderState, req broker.SubmitRequest) (broker.SubmitAck, *Result) {
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		if err := m.deps.Breaker.Allow(); err != nil {
			return broker.SubmitAck{}, &Result{Phase: Failed, Reason: ReasonBreakerOpen}
		}

		st.recordAttempt(m.deps.Clock.Now())
		cctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
		ack, err := t.SubmitOrder(cctx, req)
		cancel()

		if err == nil {
			m.deps.Breaker.RecordSuccess()
			return ack, nil
		}
		if broker.IsBusinessRejection(err) {
			// The endpoint answered; only the order was declined.
			m.deps.Breaker.RecordSuccess()
			return broker.SubmitAck{}, &Result{Phase: Rejected, Reason: err.Error()}
		}

		m.deps.Breaker.RecordFailure()
		lastErr = err
		st.noteError(err.Error(), m.deps.Clock.Now())
		observ.IncCounter("submit_retries_total", nil)
		observ.Log("order_submit_retry", map[string]any{
			"key":     st.key,
			"attempt": attempt,
			"error":   err.Error(),
		})

		if ctx.Err() != nil {
			return broker.SubmitAck{}, &Result{Phase: Cancelled, Reason: ReasonCancelled}
		}
		if attempt == m.opts.MaxAttempts {
			break
		}
		if err := m.sleep(ctx, m.backoff(attempt)); err != nil {
			return broker.SubmitAck{}, &Result{Phase: Cancelled, Reason: ReasonCancelled}
		}
	}
	reason := ReasonTransportFail
	if lastErr != nil {
		reason = fmt.Sprintf("%s: %s", ReasonTransportFail, lastErr.Error())
	}
	return broker.SubmitAck{}, &Result{Phase: Failed, Reason: reason}
}

// track polls the brokerage until the order reaches a terminal fill state.
// After acknowledgment a caller-initiated cancel goes through the brokerage
// cancel call, never a process-local abort.
func (m *Manager) track(ctx context.Context, t broker.Transport, intent OrderIntent, st *OrderState, ack broker.SubmitAck) *Result {
	deadline := m.deps.Clock.Now().Add(m.opts.PollTimeout)
	phase := Submitted
	var last broker.FillState
	cancelRequested := false

	for {
		if ctx.Err() != nil && !cancelRequested {
			cancelRequested = true
			m.requestCancel(t, ack.BrokerOrderID)
		}

		cctx, cancel := context.WithTimeout(context.Background(), m.opts.CallTimeout)
		fs, err := t.PollOrder(cctx, ack.BrokerOrderID)
		cancel()
		if err != nil {
			m.deps.Breaker.RecordFailure()
		} else {
			m.deps.Breaker.RecordSuccess()
			last = fs

			switch fs.Status {
			case broker.StatusFilled:
				return m.fillResult(intent, ack, fs, Filled, "")
			case broker.StatusRejected:
				return &Result{Phase: Rejected, Reason: "broker_rejected", BrokerOrderID: ack.BrokerOrderID}
			case broker.StatusCancelled:
				if fs.FilledQty > 0 {
					return m.fillResult(intent, ack, fs, PartiallyFilledTerminal, ReasonCancelled)
				}
				return &Result{Phase: Cancelled, Reason: ReasonCancelled, BrokerOrderID: ack.BrokerOrderID}
			case broker.StatusPartial:
				st.noteFill(fs.FilledQty, fs.AvgFillPrice, m.deps.Clock.Now())
				if phase != PartiallyFilled {
					phase = PartiallyFilled
					st.transition(PartiallyFilled, m.deps.Clock.Now())
					observ.Log("order_partial_fill", map[string]any{
						"key":        intent.IdempotencyKey,
						"filled_qty": fs.FilledQty,
					})
				}
			case broker.StatusWorking:
				if phase != Submitted {
					phase = Submitted
					st.transition(Submitted, m.deps.Clock.Now())
				}
			}
		}

		if m.deps.Clock.Now().After(deadline) {
			if last.FilledQty > 0 {
				return m.fillResult(intent, ack, last, PartiallyFilledTerminal, ReasonPollTimeout)
			}
			return &Result{Phase: Failed, Reason: ReasonPollTimeout, BrokerOrderID: ack.BrokerOrderID}
		}
		if err := m.sleep(context.Background(), m.opts.PollInterval); err != nil {
			return &Result{Phase: Failed, Reason: ReasonPollTimeout, BrokerOrderID: ack.BrokerOrderID}
		}
	}
}

func (m *Manager) requestCancel(t broker.Transport, brokerOrderID string) {
	cctx, cancel := context.WithTimeout(context.Background(), m.opts.CallTimeout)
	defer cancel()
	if err := t.CancelOrder(cctx, brokerOrderID); err != nil {
		// Likely already filled; the poll loop will see the final state.
		observ.Log("order_cancel_refused", map[string]any{
			"broker_order_id": brokerOrderID,
			"error":           err.Error(),
		})
	}
}

func (m *Manager) fillResult(intent OrderIntent, ack broker.SubmitAck, st broker.FillState, phase Phase, reason string) *Result {
	realized, _ := m.deps.Book.ApplyFill(intent.Instrument, intent.Side, st.FilledQty, st.AvgFillPrice)
	return &Result{
		Phase:         phase,
		Reason:        reason,
		BrokerOrderID: ack.BrokerOrderID,
		FilledQty:     st.FilledQty,
		AvgFillPrice:  st.AvgFillPrice,
		RealizedPnL:   realized,
	}
}

func (m *Manager) transport() broker.Transport {
	if m.opts.LiveMode {
		return m.deps.Live
	}
	return m.deps.Sim
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.opts.BackoffBase << (attempt - 1)
	if d > m.opts.BackoffMax {
		d = m.opts.BackoffMax
	}
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// resultFromRecord rebuilds a Result from a ledger record, including records
// replayed from the journal where the concrete type was lost.
func resultFromRecord(rec *ledger.Record) *Result {
	if rec.Completed() {
		switch v := rec.Result.(type) {
		case *Result:
			cp := *v
			return &cp
		case Result:
			cp := v
			return &cp
		default:
			b, err := json.Marshal(v)
			if err == nil {
				var r Result
				if json.Unmarshal(b, &r) == nil && r.Phase != "" {
					return &r
				}
			}
			return &Result{Phase: Filled}
		}
	}
	reason := rec.Err
	phase := Failed
	if rest, ok := strings.CutPrefix(reason, "rejected: "); ok {
		phase, reason = Rejected, rest
	}
	return &Result{Phase: phase, Reason: reason}
}
