package event

import (
	"time"
)

// Event is a market data event received from an exchange connector.
type Event interface {
	// Key returns the market key the event belongs to.
	Key() Key
}

// Key identifies one order book stream, unique per exchange and market.
type Key string

// NewKey builds a market key from exchange and market id.
func NewKey(exchange string, marketID string) Key {
	return Key(exchange + ":" + marketID)
}

// Level is a raw price level as sent by the exchange.
// Size "0" in an update means the level is removed.
type Level struct {
	Price string
	Size  string
}

// Snapshot replaces the complete order book of a market.
// Timestamp is zero if the exchange does not send one.
type Snapshot struct {
	MarketID  string
	Exchange  string
	Base      string
	Quote     string
	Timestamp time.Time
	Bids      []Level
	Asks      []Level
}

// Key implements Event.
func (s *Snapshot) Key() Key { return NewKey(s.Exchange, s.MarketID) }

// Update holds changed price levels of a market.
type Update struct {
	MarketID  string
	Exchange  string
	Base      string
	Quote     string
	Timestamp time.Time
	Bids      []Level
	Asks      []Level
}

// Key implements Event.
func (u *Update) Key() Key { return NewKey(u.Exchange, u.MarketID) }

// Ticker is a best bid / ask quote.
type Ticker struct {
	MarketID  string
	Exchange  string
	Base      string
	Quote     string
	Timestamp time.Time
	Bid       string
	Ask       string
}

// Key implements Event.
func (t *Ticker) Key() Key { return NewKey(t.Exchange, t.MarketID) }

// Trade is an executed trade.
type Trade struct {
	MarketID  string
	Exchange  string
	Base      string
	Quote     string
	TradeID   uint64
	Price     string
	Amount    string
	Side      string
	Timestamp time.Time
}

// Key implements Event.
func (t *Trade) Key() Key { return NewKey(t.Exchange, t.MarketID) }
