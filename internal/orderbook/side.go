package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Level is a price level of one book side.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Order is the sort order of levels returned by Side.Levels.
type Order int

const (
	// Descending is best first for bids.
	Descending Order = iota
	// Ascending is best first for asks.
	Ascending
)

// Precision is the number of decimal places prices are kept at.
// Prices equal after rounding address the same level.
const Precision = 8

// Side is a price to size map for bids or asks of one market.
// Storage is unordered, ordering is computed at read time.
// Zero size levels are never stored.
type Side struct {
	levels map[string]Level
}

// NewSide returns an empty side.
func NewSide() *Side {
	return &Side{levels: make(map[string]Level)}
}

// priceKey returns the canonical form of a price rounded to Precision, so that "100", "100.0",
// "1e2" and "100.000000001" address the same level.
func priceKey(price decimal.Decimal) string {
	return price.Round(Precision).String()
}

// Set inserts or overwrites the level at price, stored rounded to Precision.
// A zero size removes the level instead.
func (s *Side) Set(price, size decimal.Decimal) {
	if size.IsZero() {
		s.Delete(price)
		return
	}
	price = price.Round(Precision)
	s.levels[price.String()] = Level{Price: price, Size: size}
}

// Delete removes the level at price. Removing an absent level is a no-op.
func (s *Side) Delete(price decimal.Decimal) {
	delete(s.levels, priceKey(price))
}

// Get returns the size at price.
func (s *Side) Get(price decimal.Decimal) (decimal.Decimal, bool) {
	l, ok := s.levels[priceKey(price)]
	return l.Size, ok
}

// Len returns the number of levels.
func (s *Side) Len() int {
	return len(s.levels)
}

// Levels returns a sorted copy of all levels.
func (s *Side) Levels(order Order) []Level {
	levels := make([]Level, 0, len(s.levels))
	for _, l := range s.levels {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool {
		if order == Descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}

// Best returns the first level in the given order.
func (s *Side) Best(order Order) (Level, bool) {
	var (
		best  Level
		found bool
	)
	for _, l := range s.levels {
		if !found {
			best = l
			found = true
			continue
		}
		if order == Descending && l.Price.GreaterThan(best.Price) ||
			order == Ascending && l.Price.LessThan(best.Price) {
			best = l
		}
	}
	return best, found
}
