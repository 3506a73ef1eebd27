package gate

import (
	"github.com/milkywaybrain/cryptorelay/internal/event"
)

type quote struct {
	bid string
	ask string
}

// QuoteDedup suppresses re-publication of an unchanged top of book quote.
// Bid and ask are compared as fixed precision strings, so two quotes equal
// after rounding are duplicates.
type QuoteDedup struct {
	last map[event.Key]quote
}

// NewQuoteDedup returns a deduplicator with no quote recorded.
func NewQuoteDedup() *QuoteDedup {
	return &QuoteDedup{last: make(map[event.Key]quote)}
}

// ShouldEmit reports false only if both bid and ask equal the last recorded quote of key.
func (d *QuoteDedup) ShouldEmit(key event.Key, bid string, ask string) bool {
	q, ok := d.last[key]
	if !ok {
		return true
	}
	return q.bid != bid || q.ask != ask
}

// Record stores the quote emitted for key.
func (d *QuoteDedup) Record(key event.Key, bid string, ask string) {
	d.last[key] = quote{bid: bid, ask: ask}
}
