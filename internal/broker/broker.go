// Package broker defines the narrow interface the execution engine uses to
// talk to a brokerage, plus the typed errors that let the lifecycle manager
// tell a retryable transport fault apart from a terminal business rejection.
package broker

import (
	"context"
	"time"
)

// Side is the order direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// PriceMode selects market or limit execution.
type PriceMode string

const (
	Market PriceMode = "MARKET"
	Limit  PriceMode = "LIMIT"
)

// SubmitRequest carries everything the brokerage needs to place one order.
// Prices are KRW, whole-won; LimitPrice is ignored for market orders.
type SubmitRequest struct {
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Quantity   int64     `json:"quantity"`
	PriceMode  PriceMode `json:"price_mode"`
	LimitPrice int64     `json:"limit_price,omitempty"`
}

// SubmitAck is the brokerage's acceptance of an order.
type SubmitAck struct {
	BrokerOrderID string    `json:"broker_order_id"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// FillStatus is the brokerage-side view of a working order.
type FillStatus string

const (
	StatusWorking   FillStatus = "working"
	StatusPartial   FillStatus = "partial"
	StatusFilled    FillStatus = "filled"
	StatusCancelled FillStatus = "cancelled"
	StatusRejected  FillStatus = "rejected"
)

// FillState is returned by PollOrder.
type FillState struct {
	BrokerOrderID string     `json:"broker_order_id"`
	Status        FillStatus `json:"status"`
	FilledQty     int64      `json:"filled_qty"`
	AvgFillPrice  float64    `json:"avg_fill_price"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Transport is the brokerage API surface consumed by the lifecycle manager.
// Implementations must return *TransportError for network/timeout faults and
// *BusinessRejection when the brokerage declines the order, so callers can
// choose the retry policy.
type Transport interface {
	SubmitOrder(ctx context.Context, req SubmitRequest) (SubmitAck, error)
	PollOrder(ctx context.Context, brokerOrderID string) (FillState, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
}
