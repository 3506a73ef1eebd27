package format

import (
	"testing"
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/event"
	"github.com/milkywaybrain/cryptorelay/internal/orderbook"
	"github.com/milkywaybrain/cryptorelay/internal/pairmap"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber(t *testing.T) {
	cases := map[string]string{
		"1.50000000":    "1.5",
		"2.00000000":    "2",
		"0.00000001":    "0.00000001",
		"0.000000004":   "0",
		"0.000000005":   "0.00000001",
		"123.456789123": "123.45678912",
		"100":           "100",
	}
	for in, want := range cases {
		assert.Equal(t, want, Number(decimal.RequireFromString(in)), in)
	}
}

func TestTime(t *testing.T) {
	ts := time.Date(2021, 3, 4, 5, 6, 7, 8000000, time.FixedZone("x", 3600))
	assert.Equal(t, "2021-03-04T04:06:07.008Z", Time(ts))
}

func TestSource(t *testing.T) {
	f := New(nil, "v3", "_SC")
	assert.Equal(t, "Binance_SC", f.Source("Binance v3"))
	assert.Equal(t, "Kraken_SC", f.Source("Kraken"))

	f = New(nil, "", "")
	assert.Equal(t, "Binance", f.Source(" Binance "))
}

func book(t *testing.T, bids, asks [][2]string) *orderbook.Book {
	t.Helper()
	toLevels := func(in [][2]string) []orderbook.Level {
		out := make([]orderbook.Level, 0, len(in))
		for _, l := range in {
			out = append(out, orderbook.Level{Price: decimal.RequireFromString(l[0]), Size: decimal.RequireFromString(l[1])})
		}
		return out
	}
	c := orderbook.NewCache(nil)
	return c.ApplySnapshot(event.NewKey("binance", "XBTUSDT"), "Binance v3", "XBT/USDT",
		time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), toLevels(bids), toLevels(asks))
}

func TestOrderBookRecord(t *testing.T) {
	f := New(pairmap.New(map[string]string{"BTC": "XBT", "USD": "USDT"}), "v3", "_SC")
	b := book(t,
		[][2]string{{"99.5", "1"}, {"101", "2"}, {"100", "0.000000001"}, {"100.25", "3.10000000"}},
		[][2]string{{"103", "1"}, {"102", "4"}, {"0.000000001", "5"}},
	)

	r, err := f.OrderBook(b)
	require.NoError(t, err)
	assert.Equal(t, "Binance_SC", r.Source)
	assert.Equal(t, "BTCUSD", r.Asset)
	assert.Equal(t, AssetPair{Base: "BTC", Quote: "USD"}, r.AssetPair)
	assert.Equal(t, "2021-03-04T05:06:07.000Z", r.Timestamp)
	assert.Equal(t, []Level{{"101", "2"}, {"100.25", "3.1"}, {"99.5", "1"}}, r.Bids)
	assert.Equal(t, []Level{{"102", "4"}, {"103", "1"}}, r.Asks)
}

func TestOrderBookLevelsSorted(t *testing.T) {
	f := New(nil, "", "")
	b := book(t,
		[][2]string{{"1", "1"}, {"3", "1"}, {"2", "1"}, {"2.5", "1"}},
		[][2]string{{"7", "1"}, {"5", "1"}, {"6", "1"}},
	)
	r, err := f.OrderBook(b)
	require.NoError(t, err)
	for i := 1; i < len(r.Bids); i++ {
		prev := decimal.RequireFromString(r.Bids[i-1].Price)
		cur := decimal.RequireFromString(r.Bids[i].Price)
		assert.True(t, prev.GreaterThan(cur))
	}
	for i := 1; i < len(r.Asks); i++ {
		prev := decimal.RequireFromString(r.Asks[i-1].Price)
		cur := decimal.RequireFromString(r.Asks[i].Price)
		assert.True(t, prev.LessThan(cur))
	}
}

func TestOrderBookSubPrecisionPricesPublishedOnce(t *testing.T) {
	f := New(nil, "", "")
	b := book(t,
		[][2]string{{"100", "1"}, {"100.000000001", "2"}, {"100.000000004", "3"}, {"99.99999999", "1"}},
		[][2]string{{"101", "1"}, {"101.000000004", "2"}},
	)
	r, err := f.OrderBook(b)
	require.NoError(t, err)
	assert.Equal(t, []Level{{"100", "3"}, {"99.99999999", "1"}}, r.Bids)
	assert.Equal(t, []Level{{"101", "2"}}, r.Asks)
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal("1.5e3")
	require.NoError(t, err)
	assert.Equal(t, "1500", d.String())

	for _, s := range []string{"1e999999999", "1e-999999999", "1e65", "abc", ""} {
		_, err = ParseDecimal(s)
		assert.True(t, errors.Is(err, ErrMalformedNumber), s)
	}
	_, ok := parsePositive("1e999999999")
	assert.False(t, ok)
}

func TestPairRejectsEmptyAsset(t *testing.T) {
	f := New(nil, "", "")
	for _, pair := range []string{"/", "BTC/", "/USDT", "BTCUSDT"} {
		_, _, err := f.Pair(pair)
		assert.True(t, errors.Is(err, ErrMalformedPair), pair)
	}
	asset, ap, err := f.Pair("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", asset)
	assert.Equal(t, AssetPair{Base: "BTC", Quote: "USDT"}, ap)
}

func TestOrderBookMalformedPair(t *testing.T) {
	f := New(nil, "", "")
	c := orderbook.NewCache(nil)
	b := c.ApplySnapshot(event.NewKey("x", "y"), "X", "BTCUSDT", time.Time{}, nil, nil)
	_, err := f.OrderBook(b)
	assert.True(t, errors.Is(err, ErrMalformedPair))
}

func TestQuote(t *testing.T) {
	f := New(nil, "", "")
	ts := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	q, ok := f.Quote("Binance", &event.Ticker{Exchange: "binance", Base: "BTC", Quote: "USDT", Timestamp: ts, Bid: "10.00000000", Ask: "10.00000100"})
	require.True(t, ok)
	assert.Equal(t, "10", q.Bid)
	assert.Equal(t, "10.000001", q.Ask)
	assert.Equal(t, "BTCUSDT", q.Asset)

	for _, c := range [][2]string{{"0", "1"}, {"1", "-1"}, {"NaN", "1"}, {"1", "Infinity"}, {"", "1"}, {"0.000000001", "1"}} {
		_, ok := f.Quote("Binance", &event.Ticker{Base: "BTC", Quote: "USDT", Bid: c[0], Ask: c[1]})
		assert.False(t, ok, "bid %q ask %q", c[0], c[1])
	}
}

func TestBestOfBook(t *testing.T) {
	f := New(nil, "", "")
	q, ok := f.BestOfBook(OrderBookRecord{
		Source: "Binance",
		Asset:  "BTCUSDT",
		Bids:   []Level{{"101", "1"}, {"100", "1"}},
		Asks:   []Level{{"102", "1"}},
	})
	require.True(t, ok)
	assert.Equal(t, "101", q.Bid)
	assert.Equal(t, "102", q.Ask)

	_, ok = f.BestOfBook(OrderBookRecord{Bids: []Level{{"101", "1"}}})
	assert.False(t, ok)
}

func TestTrade(t *testing.T) {
	f := New(nil, "", "")
	tr, ok := f.Trade(&event.Trade{Exchange: "binance", Base: "BTC", Quote: "USDT", Price: "100.5", Amount: "0", Side: "buy"})
	require.True(t, ok)
	assert.Equal(t, "100.5", tr.Price)

	_, ok = f.Trade(&event.Trade{Price: "-1", Amount: "1"})
	assert.False(t, ok)
	_, ok = f.Trade(&event.Trade{Price: "1", Amount: "abc"})
	assert.False(t, ok)
}
