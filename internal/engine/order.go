// Package engine owns the order lifecycle: risk authorization, idempotent
// admission, rate-limited submission through the circuit breaker, and fill
// tracking to a terminal state.
package engine

import (
	"fmt"

	"github.com/kyuwon-dev/dart-exec/internal/broker"
)

// Phase is an order lifecycle state. Terminal phases are final.
type Phase string

const (
	Created         Phase = "created"
	RiskChecked     Phase = "risk_checked"
	Admitted        Phase = "admitted"
	Submitted       Phase = "submitted"
	PartiallyFilled Phase = "partially_filled"

	Filled                  Phase = "filled"
	PartiallyFilledTerminal Phase = "partially_filled_terminal"
	Rejected                Phase = "rejected"
	Cancelled               Phase = "cancelled"
	Failed                  Phase = "failed"
)

// Terminal reports whether p admits no further transitions.
func (p Phase) Terminal() bool {
	switch p {
	case Filled, PartiallyFilledTerminal, Rejected, Cancelled, Failed:
		return true
	}
	return false
}

// OrderIntent is a trading decision handed to the manager. IdempotencyKey
// must uniquely encode the logical operation, e.g. instrument, side and
// decision epoch, so retries deduplicate.
type OrderIntent struct {
	Instrument     string
	Side           broker.Side
	Quantity       int64
	PriceMode      broker.PriceMode
	LimitPrice     int64 // KRW, required for LIMIT
	IdempotencyKey string
}

// ValidationError reports a malformed intent. It is surfaced to the caller
// immediately and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intent: %s: %s", e.Field, e.Message)
}

func validateIntent(in OrderIntent) error {
	if in.Instrument == "" {
		return &ValidationError{Field: "instrument", Message: "must not be empty"}
	}
	if in.Side != broker.Buy && in.Side != broker.Sell {
		return &ValidationError{Field: "side", Message: fmt.Sprintf("unknown side %q", in.Side)}
	}
	if in.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	switch in.PriceMode {
	case broker.Market:
	case broker.Limit:
		if in.LimitPrice <= 0 {
			return &ValidationError{Field: "limit_price", Message: "must be positive for limit orders"}
		}
	default:
		return &ValidationError{Field: "price_mode", Message: fmt.Sprintf("unknown mode %q", in.PriceMode)}
	}
	if in.IdempotencyKey == "" {
		return &ValidationError{Field: "idempotency_key", Message: "must not be empty"}
	}
	return nil
}

// Reason codes attached to terminal results.
const (
	ReasonMarketClosed  = "market_closed"
	ReasonRateDailyCap  = "rate_limit_exceeded"
	ReasonBreakerOpen   = "breaker_open"
	ReasonTransportFail = "transport_failure"
	ReasonCancelled     = "caller_cancelled"
	ReasonPollTimeout   = "poll_timeout"
)

// Result is the terminal outcome of one order attempt.
type Result struct {
	Phase         Phase   `json:"phase"`
	Reason        string  `json:"reason,omitempty"`
	BrokerOrderID string  `json:"broker_order_id,omitempty"`
	FilledQty     int64   `json:"filled_qty,omitempty"`
	AvgFillPrice  float64 `json:"avg_fill_price,omitempty"`
	RealizedPnL   int64   `json:"realized_pnl,omitempty"`
}
