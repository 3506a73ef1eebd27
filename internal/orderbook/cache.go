package orderbook

import (
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/event"
	"github.com/pkg/errors"
)

// ErrUnknownMarket is returned when an update references a market
// which has not received a snapshot yet.
var ErrUnknownMarket = errors.New("order book not found")

// Book is the cached order book of one market.
type Book struct {
	Source    string
	AssetPair string
	Bids      *Side
	Asks      *Side
	Timestamp time.Time
}

// Cache holds one order book per market key.
// It is not safe for concurrent use, every key must have a single writer.
type Cache struct {
	books map[event.Key]*Book
	now   func() time.Time
}

// NewCache returns an empty cache stamping missing timestamps with now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		books: make(map[event.Key]*Book),
		now:   now,
	}
}

// ApplySnapshot replaces the order book of key wholesale.
// Zero size levels are dropped.
func (c *Cache) ApplySnapshot(key event.Key, source string, assetPair string, ts time.Time, bids []Level, asks []Level) *Book {
	book := &Book{
		Source:    source,
		AssetPair: assetPair,
		Bids:      NewSide(),
		Asks:      NewSide(),
		Timestamp: c.stamp(ts),
	}
	apply(book.Bids, bids)
	apply(book.Asks, asks)
	c.books[key] = book
	return book
}

// ApplyUpdate merges deltas into the order book of key.
// A zero size delta removes the level, any other size inserts or overwrites it.
func (c *Cache) ApplyUpdate(key event.Key, ts time.Time, bids []Level, asks []Level) (*Book, error) {
	book, ok := c.books[key]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMarket, "market %s", key)
	}
	apply(book.Bids, bids)
	apply(book.Asks, asks)
	book.Timestamp = c.stamp(ts)
	return book, nil
}

// Get returns the order book of key.
func (c *Cache) Get(key event.Key) (*Book, bool) {
	book, ok := c.books[key]
	return book, ok
}

func (c *Cache) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return c.now().UTC()
	}
	return ts.UTC()
}

// apply sets levels on side, skipping prices which are not positive once rounded.
func apply(side *Side, levels []Level) {
	for _, l := range levels {
		if !l.Price.Round(Precision).IsPositive() {
			continue
		}
		side.Set(l.Price, l.Size)
	}
}
