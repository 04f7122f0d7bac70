package broker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kyuwon-dev/dart-exec/internal/market"
)

func newTestSim(latencyMs int) (*SimTransport, *market.FakeClock) {
	clock := market.NewFakeClock(time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC))
	s := NewSimTransport(latencyMs, latencyMs, 0, 0, 70_000)
	s.now = clock.Now
	return s, clock
}

func TestSimSubmitAndFill(t *testing.T) {
	s, clock := newTestSim(500)
	ctx := context.Background()

	ack, err := s.SubmitOrder(ctx, SubmitRequest{
		Instrument: "005930", Side: Buy, Quantity: 10, PriceMode: Market,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !strings.HasPrefix(ack.BrokerOrderID, "sim-") {
		t.Fatalf("BrokerOrderID = %q, want sim- prefix", ack.BrokerOrderID)
	}

	st, err := s.PollOrder(ctx, ack.BrokerOrderID)
	if err != nil {
		t.Fatalf("PollOrder: %v", err)
	}
	if st.Status != StatusWorking {
		t.Fatalf("Status before latency = %v, want working", st.Status)
	}

	clock.Advance(time.Second)
	st, err = s.PollOrder(ctx, ack.BrokerOrderID)
	if err != nil {
		t.Fatalf("PollOrder: %v", err)
	}
	if st.Status != StatusFilled || st.FilledQty != 10 {
		t.Fatalf("after latency: status=%v qty=%d, want filled/10", st.Status, st.FilledQty)
	}
	if st.AvgFillPrice != 70_000 {
		t.Fatalf("AvgFillPrice = %v, want reference price with zero slippage", st.AvgFillPrice)
	}
}

func TestSimLimitOrderFillsAtLimit(t *testing.T) {
	s, clock := newTestSim(0)
	ctx := context.Background()

	ack, err := s.SubmitOrder(ctx, SubmitRequest{
		Instrument: "000660", Side: Buy, Quantity: 5, PriceMode: Limit, LimitPrice: 182_000,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	clock.Advance(time.Millisecond)
	st, err := s.PollOrder(ctx, ack.BrokerOrderID)
	if err != nil {
		t.Fatalf("PollOrder: %v", err)
	}
	if st.AvgFillPrice != 182_000 {
		t.Fatalf("AvgFillPrice = %v, want limit price", st.AvgFillPrice)
	}
}

func TestSimCancelBeforeAndAfterFill(t *testing.T) {
	s, clock := newTestSim(500)
	ctx := context.Background()

	ack, err := s.SubmitOrder(ctx, SubmitRequest{
		Instrument: "005930", Side: Sell, Quantity: 3, PriceMode: Market,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if err := s.CancelOrder(ctx, ack.BrokerOrderID); err != nil {
		t.Fatalf("CancelOrder before fill: %v", err)
	}
	st, err := s.PollOrder(ctx, ack.BrokerOrderID)
	if err != nil {
		t.Fatalf("PollOrder: %v", err)
	}
	if st.Status != StatusCancelled {
		t.Fatalf("Status = %v, want cancelled", st.Status)
	}

	ack2, err := s.SubmitOrder(ctx, SubmitRequest{
		Instrument: "005930", Side: Sell, Quantity: 3, PriceMode: Market,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	clock.Advance(time.Second)
	err = s.CancelOrder(ctx, ack2.BrokerOrderID)
	if !IsBusinessRejection(err) {
		t.Fatalf("CancelOrder after fill = %v, want business rejection", err)
	}
}

func TestSimUnknownOrder(t *testing.T) {
	s, _ := newTestSim(0)
	if _, err := s.PollOrder(context.Background(), "sim-nope"); !IsBusinessRejection(err) {
		t.Fatalf("PollOrder unknown = %v, want business rejection", err)
	}
}
