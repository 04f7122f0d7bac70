package engine

import (
	"math"
	"sync"

	"github.com/kyuwon-dev/dart-exec/internal/broker"
)

type position struct {
	qty     int64
	avgCost float64
}

// Book tracks open positions so sells can realize profit or loss against the
// average entry price. Quantities and realized amounts are KRW-denominated.
type Book struct {
	mu        sync.Mutex
	positions map[string]*position
}

func NewBook() *Book {
	return &Book{positions: make(map[string]*position)}
}

// ApplyFill folds one fill into the book. For sells it returns the realized
// PnL over the portion that closed an open position; closed reports whether
// any position actually closed.
func (b *Book) ApplyFill(instrument string, side broker.Side, qty int64, price float64) (realized int64, closed bool) {
	if qty <= 0 {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.positions[instrument]
	if side == broker.Buy {
		if pos == nil {
			b.positions[instrument] = &position{qty: qty, avgCost: price}
			return 0, false
		}
		total := float64(pos.qty)*pos.avgCost + float64(qty)*price
		pos.qty += qty
		pos.avgCost = total / float64(pos.qty)
		return 0, false
	}

	// Sell: realize only against held quantity.
	if pos == nil || pos.qty == 0 {
		return 0, false
	}
	closing := qty
	if closing > pos.qty {
		closing = pos.qty
	}
	realized = int64(math.Round((price - pos.avgCost) * float64(closing)))
	pos.qty -= closing
	if pos.qty == 0 {
		delete(b.positions, instrument)
	}
	return realized, true
}

// Quantity returns the open quantity for instrument.
func (b *Book) Quantity(instrument string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos := b.positions[instrument]; pos != nil {
		return pos.qty
	}
	return 0
}
