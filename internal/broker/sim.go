package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/kyuwon-dev/dart-exec/pkg/id"
)

// SimTransport is the dry-run brokerage: every submit is accepted with a
// synthetic ULID and fills completely after a randomized latency, with
// slippage applied against the reference price. No real endpoint is
// contacted.
type SimTransport struct {
	mu     sync.Mutex
	orders map[string]*simOrder

	latencyMsMin   int
	latencyMsMax   int
	slippageBpsMin int
	slippageBpsMax int

	// ReferencePrice seeds fill prices for market orders; limit orders fill
	// at their limit.
	ReferencePrice int64

	now func() time.Time
}

type simOrder struct {
	req        SubmitRequest
	acceptedAt time.Time
	fillsAt    time.Time
	fillPrice  float64
	cancelled  bool
}

func NewSimTransport(latencyMsMin, latencyMsMax, slippageBpsMin, slippageBpsMax int, referencePrice int64) *SimTransport {
	if latencyMsMax < latencyMsMin {
		latencyMsMax = latencyMsMin
	}
	if slippageBpsMax < slippageBpsMin {
		slippageBpsMax = slippageBpsMin
	}
	return &SimTransport{
		orders:         make(map[string]*simOrder),
		latencyMsMin:   latencyMsMin,
		latencyMsMax:   latencyMsMax,
		slippageBpsMin: slippageBpsMin,
		slippageBpsMax: slippageBpsMax,
		ReferencePrice: referencePrice,
		now:            time.Now,
	}
}

func (s *SimTransport) SubmitOrder(ctx context.Context, req SubmitRequest) (SubmitAck, error) {
	if err := ctx.Err(); err != nil {
		return SubmitAck{}, NewTransportError("submit", "context cancelled", true, err)
	}

	latencyMs := s.latencyMsMin
	if s.latencyMsMax > s.latencyMsMin {
		latencyMs += rand.Intn(s.latencyMsMax - s.latencyMsMin + 1)
	}
	slippageBps := s.slippageBpsMin
	if s.slippageBpsMax > s.slippageBpsMin {
		slippageBps += rand.Intn(s.slippageBpsMax - s.slippageBpsMin + 1)
	}

	ref := s.ReferencePrice
	if req.PriceMode == Limit {
		ref = req.LimitPrice
	}
	fillPrice := float64(ref)
	slip := 1.0 + float64(slippageBps)/10000.0
	if req.PriceMode == Market {
		if req.Side == Buy {
			fillPrice *= slip
		} else {
			fillPrice /= slip
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	ack := SubmitAck{BrokerOrderID: "sim-" + id.New(), AcceptedAt: now}
	s.orders[ack.BrokerOrderID] = &simOrder{
		req:        req,
		acceptedAt: now,
		fillsAt:    now.Add(time.Duration(latencyMs) * time.Millisecond),
		fillPrice:  fillPrice,
	}
	return ack, nil
}

func (s *SimTransport) PollOrder(ctx context.Context, brokerOrderID string) (FillState, error) {
	if err := ctx.Err(); err != nil {
		return FillState{}, NewTransportError("poll", "context cancelled", true, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[brokerOrderID]
	if !ok {
		return FillState{}, NewBusinessRejection("UNKNOWN_ORDER", "no such order "+brokerOrderID)
	}

	now := s.now()
	st := FillState{BrokerOrderID: brokerOrderID, UpdatedAt: now}
	switch {
	case o.cancelled:
		st.Status = StatusCancelled
	case now.Before(o.fillsAt):
		st.Status = StatusWorking
	default:
		st.Status = StatusFilled
		st.FilledQty = o.req.Quantity
		st.AvgFillPrice = o.fillPrice
	}
	return st, nil
}

func (s *SimTransport) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return NewTransportError("cancel", "context cancelled", true, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[brokerOrderID]
	if !ok {
		return NewBusinessRejection("UNKNOWN_ORDER", "no such order "+brokerOrderID)
	}
	if !s.now().Before(o.fillsAt) && !o.cancelled {
		return NewBusinessRejection("ALREADY_FILLED", "order already executed")
	}
	o.cancelled = true
	return nil
}
