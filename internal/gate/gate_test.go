package gate

import (
	"testing"
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/event"
	"github.com/stretchr/testify/assert"
)

func TestThrottleBoundary(t *testing.T) {
	g := New()
	key := event.NewKey("binance", "BTCUSDT")
	t0 := time.Unix(0, 0)

	assert.True(t, g.IsDue(key, t0, time.Second))
	g.MarkPublished(key, t0)

	assert.False(t, g.IsDue(key, t0.Add(500*time.Millisecond), time.Second))
	assert.False(t, g.IsDue(key, t0.Add(1000*time.Millisecond), time.Second), "equal to interval is not due")
	assert.True(t, g.IsDue(key, t0.Add(1001*time.Millisecond), time.Second))
}

func TestFirstPublishExemption(t *testing.T) {
	g := New()
	now := time.Now()
	assert.True(t, g.IsDue(event.NewKey("a", "b"), now, time.Hour))
	assert.True(t, g.IsDue(event.NewKey("a", "b"), now, 0))
}

func TestThrottleDisabled(t *testing.T) {
	g := New()
	key := event.NewKey("binance", "BTCUSDT")
	now := time.Now()
	g.MarkPublished(key, now)
	assert.True(t, g.IsDue(key, now, 0))
	assert.True(t, g.IsDue(key, now, -time.Second))
}

func TestGateDoesNotSelfUpdate(t *testing.T) {
	g := New()
	key := event.NewKey("binance", "BTCUSDT")
	now := time.Now()
	assert.True(t, g.IsDue(key, now, time.Second))
	assert.True(t, g.IsDue(key, now, time.Second))
}

func TestGateKeysIndependent(t *testing.T) {
	g := New()
	now := time.Now()
	g.MarkPublished(event.NewKey("binance", "BTCUSDT"), now)
	assert.True(t, g.IsDue(event.NewKey("binance", "ETHUSDT"), now, time.Second))
}

func TestQuoteDedup(t *testing.T) {
	d := NewQuoteDedup()
	key := event.NewKey("binance", "BTCUSDT")

	assert.True(t, d.ShouldEmit(key, "10", "10.000001"))
	d.Record(key, "10", "10.000001")

	assert.False(t, d.ShouldEmit(key, "10", "10.000001"))
	assert.True(t, d.ShouldEmit(key, "10", "10.000002"))
	assert.True(t, d.ShouldEmit(key, "10.1", "10.000001"))
	assert.True(t, d.ShouldEmit(event.NewKey("binance", "ETHUSDT"), "10", "10.000001"))
}
