package orderbook

import (
	"testing"
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/event"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lvl(price, size string) Level {
	return Level{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func fixedNow() time.Time {
	return time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
}

func TestZeroSizeRemoval(t *testing.T) {
	c := NewCache(fixedNow)
	key := event.NewKey("binance", "BTCUSDT")
	c.ApplySnapshot(key, "binance", "BTC/USDT", time.Time{}, []Level{lvl("100", "5")}, nil)

	book, err := c.ApplyUpdate(key, time.Time{}, []Level{lvl("100", "0")}, nil)
	require.NoError(t, err)
	_, ok := book.Bids.Get(decimal.RequireFromString("100"))
	assert.False(t, ok)

	book, err = c.ApplyUpdate(key, time.Time{}, []Level{lvl("100", "0")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, book.Bids.Len())
}

func TestSnapshotFullReplace(t *testing.T) {
	c := NewCache(fixedNow)
	key := event.NewKey("binance", "BTCUSDT")
	c.ApplySnapshot(key, "binance", "BTC/USDT", time.Time{}, []Level{lvl("100", "1"), lvl("99", "2")}, []Level{lvl("101", "1")})
	c.ApplySnapshot(key, "binance", "BTC/USDT", time.Time{}, []Level{lvl("98", "3")}, nil)

	book, ok := c.Get(key)
	require.True(t, ok)
	levels := book.Bids.Levels(Descending)
	require.Len(t, levels, 1)
	assert.True(t, levels[0].Price.Equal(decimal.NewFromInt(98)))
	assert.True(t, levels[0].Size.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 0, book.Asks.Len())
}

func TestSnapshotDropsZeroLevels(t *testing.T) {
	c := NewCache(fixedNow)
	key := event.NewKey("binance", "BTCUSDT")
	book := c.ApplySnapshot(key, "binance", "BTC/USDT", time.Time{},
		[]Level{lvl("100", "0"), lvl("99", "1"), lvl("0", "4")},
		[]Level{lvl("101", "0.00")})
	assert.Equal(t, 1, book.Bids.Len())
	assert.Equal(t, 0, book.Asks.Len())
}

func TestUpdateUnknownMarket(t *testing.T) {
	c := NewCache(fixedNow)
	key := event.NewKey("binance", "ETHUSDT")
	book, err := c.ApplyUpdate(key, time.Time{}, []Level{lvl("100", "1")}, nil)
	assert.Nil(t, book)
	assert.True(t, errors.Is(err, ErrUnknownMarket))
	_, ok := c.Get(key)
	assert.False(t, ok, "update must not create a book")
}

func TestUpdateTimestampPolicy(t *testing.T) {
	c := NewCache(fixedNow)
	key := event.NewKey("binance", "BTCUSDT")
	snapTs := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	book := c.ApplySnapshot(key, "binance", "BTC/USDT", snapTs, nil, nil)
	assert.Equal(t, snapTs, book.Timestamp)

	updTs := snapTs.Add(time.Second)
	book, err := c.ApplyUpdate(key, updTs, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, updTs, book.Timestamp)

	book, err = c.ApplyUpdate(key, time.Time{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, fixedNow(), book.Timestamp)
}

func TestUpdateMergesLevels(t *testing.T) {
	c := NewCache(fixedNow)
	key := event.NewKey("binance", "BTCUSDT")
	c.ApplySnapshot(key, "binance", "BTC/USDT", time.Time{}, []Level{lvl("101", "2")}, []Level{lvl("102", "3")})
	book, err := c.ApplyUpdate(key, time.Time{}, []Level{lvl("101", "0"), lvl("100", "5")}, nil)
	require.NoError(t, err)

	bids := book.Bids.Levels(Descending)
	require.Len(t, bids, 1)
	assert.Equal(t, "100", bids[0].Price.String())
	assert.Equal(t, "5", bids[0].Size.String())

	asks := book.Asks.Levels(Ascending)
	require.Len(t, asks, 1)
	assert.Equal(t, "102", asks[0].Price.String())
}

func TestPricesEqualAfterRoundingShareLevel(t *testing.T) {
	c := NewCache(fixedNow)
	key := event.NewKey("binance", "BTCUSDT")
	book := c.ApplySnapshot(key, "binance", "BTC/USDT", time.Time{},
		[]Level{lvl("100", "1"), lvl("100.000000001", "2"), lvl("100.000000004", "3"), lvl("0.000000001", "4")}, nil)

	levels := book.Bids.Levels(Descending)
	require.Len(t, levels, 1, "sub precision prices and prices rounding to zero")
	assert.Equal(t, "100", levels[0].Price.String())
	assert.Equal(t, "3", levels[0].Size.String())

	book, err := c.ApplyUpdate(key, time.Time{}, []Level{lvl("100.000000002", "0")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, book.Bids.Len())
}
