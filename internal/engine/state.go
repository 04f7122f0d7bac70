package engine

import (
	"sync"
	"time"
)

// OrderState is the mutable lifecycle record for one idempotency key: current
// phase, brokerage identifiers, fill progress, last error, attempt count and
// timestamps. The manager is its only writer; callers read point-in-time
// snapshots through View. Once terminal the record never changes again.
type OrderState struct {
	mu sync.Mutex

	key           string
	phase         Phase
	brokerOrderID string
	filledQty     int64
	avgFillPrice  float64
	lastError     string
	attempts      int
	createdAt     time.Time
	updatedAt     time.Time
}

func newOrderState(key string, now time.Time) *OrderState {
	return &OrderState{key: key, phase: Created, createdAt: now, updatedAt: now}
}

// StateView is a read-only snapshot of an OrderState.
type StateView struct {
	Key           string    `json:"key"`
	Phase         Phase     `json:"phase"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	FilledQty     int64     `json:"filled_qty,omitempty"`
	AvgFillPrice  float64   `json:"avg_fill_price,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// View returns a consistent snapshot of the record.
func (s *OrderState) View() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateView{
		Key:           s.key,
		Phase:         s.phase,
		BrokerOrderID: s.brokerOrderID,
		FilledQty:     s.filledQty,
		AvgFillPrice:  s.avgFillPrice,
		LastError:     s.lastError,
		Attempts:      s.attempts,
		CreatedAt:     s.createdAt,
		UpdatedAt:     s.updatedAt,
	}
}

func (s *OrderState) transition(phase Phase, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return
	}
	s.phase = phase
	s.updatedAt = now
}

func (s *OrderState) recordAttempt(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	s.updatedAt = now
}

func (s *OrderState) setBrokerOrder(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokerOrderID = id
	s.updatedAt = now
}

func (s *OrderState) noteFill(qty int64, price float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return
	}
	s.filledQty = qty
	s.avgFillPrice = price
	s.updatedAt = now
}

func (s *OrderState) noteError(msg string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return
	}
	s.lastError = msg
	s.updatedAt = now
}

// finish applies a terminal result. It is the last mutation the record ever
// sees.
func (s *OrderState) finish(res *Result, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return
	}
	s.phase = res.Phase
	if res.BrokerOrderID != "" {
		s.brokerOrderID = res.BrokerOrderID
	}
	if res.FilledQty > 0 {
		s.filledQty = res.FilledQty
		s.avgFillPrice = res.AvgFillPrice
	}
	if res.Phase != Filled && res.Reason != "" {
		s.lastError = res.Reason
	}
	s.updatedAt = now
}
