package broker

// KRX quotes trade on a price-banded tick grid; limit prices off the grid are
// rejected by the venue, so we align before submission.

// TickSize returns the KRX tick for a given price level, in won.
func TickSize(price int64) int64 {
	switch {
	case price < 1_000:
		return 1
	case price < 5_000:
		return 5
	case price < 10_000:
		return 10
	case price < 50_000:
		return 50
	case price < 100_000:
		return 100
	case price < 500_000:
		return 500
	default:
		return 1_000
	}
}

// AlignToTick rounds price down to the nearest valid tick.
func AlignToTick(price int64) int64 {
	if price <= 0 {
		return 0
	}
	tick := TickSize(price)
	return price - price%tick
}
