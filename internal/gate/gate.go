package gate

import (
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/event"
)

// Gate tracks the last publish time per market and decides whether
// a new publication is due.
// It does not record anything on its own, callers mark a market published
// only once the publication actually happened.
type Gate struct {
	last map[event.Key]time.Time
}

// New returns a gate with no publication recorded.
func New() *Gate {
	return &Gate{last: make(map[event.Key]time.Time)}
}

// IsDue reports whether a publication for key is due at now.
// Throttling is disabled for a non positive interval and the first
// publication of a market is never delayed.
// An elapsed time equal to the interval is not due yet.
func (g *Gate) IsDue(key event.Key, now time.Time, minInterval time.Duration) bool {
	if minInterval <= 0 {
		return true
	}
	last, ok := g.last[key]
	if !ok {
		return true
	}
	return now.Sub(last) > minInterval
}

// MarkPublished records now as the last publication time of key.
func (g *Gate) MarkPublished(key event.Key, now time.Time) {
	g.last[key] = now
}
