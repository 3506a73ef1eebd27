package format

import (
	"strings"

	"github.com/milkywaybrain/cryptorelay/internal/event"
	"github.com/milkywaybrain/cryptorelay/internal/orderbook"
	"github.com/milkywaybrain/cryptorelay/internal/pairmap"
	"github.com/pkg/errors"
)

// ErrMalformedPair is returned when a translated asset pair has no separator or an empty asset.
var ErrMalformedPair = errors.New("asset pair without separator")

// AssetPair is the published base and quote asset.
type AssetPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// Level is a published price level.
type Level struct {
	Price  string `json:"price"`
	Volume string `json:"volume"`
}

// OrderBookRecord is the published form of an order book.
// Bids are sorted by price descending, asks ascending.
type OrderBookRecord struct {
	Source    string    `json:"source"`
	Asset     string    `json:"asset"`
	AssetPair AssetPair `json:"assetPair"`
	Timestamp string    `json:"timestamp"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
}

// QuoteRecord is the published best bid / ask of a market.
type QuoteRecord struct {
	Source    string    `json:"source"`
	Asset     string    `json:"asset"`
	AssetPair AssetPair `json:"assetPair"`
	Timestamp string    `json:"timestamp"`
	Bid       string    `json:"bid"`
	Ask       string    `json:"ask"`
}

// TradeRecord is a trade forwarded as received from the exchange.
type TradeRecord struct {
	Exchange  string `json:"exchange"`
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	TradeID   uint64 `json:"tradeId"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Timestamp string `json:"timestamp"`
}

// Formatter converts cached order books and raw quotes into published records.
type Formatter struct {
	pairs   *pairmap.Mapper
	version string
	suffix  string
}

// New creates a formatter.
// Version is removed from exchange display names, suffix is appended to them.
func New(pairs *pairmap.Mapper, version string, suffix string) *Formatter {
	if pairs == nil {
		pairs = pairmap.New(nil)
	}
	return &Formatter{
		pairs:   pairs,
		version: version,
		suffix:  suffix,
	}
}

// Source returns the published source name of an exchange display name,
// e.g. "Binance v3" with version "v3" and suffix "_SC" is "Binance_SC".
func (f *Formatter) Source(displayName string) string {
	name := displayName
	if f.version != "" {
		name = strings.Replace(name, f.version, "", 1)
	}
	return strings.TrimSpace(name) + f.suffix
}

// Pair translates an exchange asset pair into the published one.
func (f *Formatter) Pair(assetPair string) (string, AssetPair, error) {
	symbol := f.pairs.Backward(assetPair)
	i := strings.Index(symbol, pairmap.Separator)
	if i < 0 {
		return "", AssetPair{}, errors.Wrapf(ErrMalformedPair, "pair %q", assetPair)
	}
	ap := AssetPair{Base: symbol[:i], Quote: symbol[i+1:]}
	if ap.Base == "" || ap.Quote == "" {
		return "", AssetPair{}, errors.Wrapf(ErrMalformedPair, "pair %q", assetPair)
	}
	return ap.Base + ap.Quote, ap, nil
}

// OrderBook formats a cached order book.
// Levels with zero price or size after rounding are excluded.
func (f *Formatter) OrderBook(book *orderbook.Book) (OrderBookRecord, error) {
	asset, ap, err := f.Pair(book.AssetPair)
	if err != nil {
		return OrderBookRecord{}, err
	}
	return OrderBookRecord{
		Source:    f.Source(book.Source),
		Asset:     asset,
		AssetPair: ap,
		Timestamp: Time(book.Timestamp),
		Bids:      levels(book.Bids.Levels(orderbook.Descending)),
		Asks:      levels(book.Asks.Levels(orderbook.Ascending)),
	}, nil
}

func levels(in []orderbook.Level) []Level {
	out := make([]Level, 0, len(in))
	for _, l := range in {
		price := Number(l.Price)
		size := Number(l.Size)
		if price == "0" || size == "0" {
			continue
		}
		out = append(out, Level{Price: price, Volume: size})
	}
	return out
}

// Quote formats a ticker.
// It reports false if bid or ask is not a positive finite number or the pair is malformed.
func (f *Formatter) Quote(displayName string, t *event.Ticker) (QuoteRecord, bool) {
	bid, ok := parsePositive(t.Bid)
	if !ok {
		return QuoteRecord{}, false
	}
	ask, ok := parsePositive(t.Ask)
	if !ok {
		return QuoteRecord{}, false
	}
	asset, ap, err := f.Pair(pairmap.Join(t.Base, t.Quote))
	if err != nil {
		return QuoteRecord{}, false
	}
	q := QuoteRecord{
		Source:    f.Source(displayName),
		Asset:     asset,
		AssetPair: ap,
		Timestamp: Time(t.Timestamp),
		Bid:       Number(bid),
		Ask:       Number(ask),
	}
	if q.Bid == "0" || q.Ask == "0" {
		return QuoteRecord{}, false
	}
	return q, true
}

// BestOfBook derives a quote from the best levels of a formatted order book.
// It reports false if either side is empty.
func (f *Formatter) BestOfBook(r OrderBookRecord) (QuoteRecord, bool) {
	if len(r.Bids) == 0 || len(r.Asks) == 0 {
		return QuoteRecord{}, false
	}
	return QuoteRecord{
		Source:    r.Source,
		Asset:     r.Asset,
		AssetPair: r.AssetPair,
		Timestamp: r.Timestamp,
		Bid:       r.Bids[0].Price,
		Ask:       r.Asks[0].Price,
	}, true
}

// Trade passes a trade through.
// It reports false if price or amount is negative or not a number.
func (f *Formatter) Trade(t *event.Trade) (TradeRecord, bool) {
	if _, ok := parseNonNegative(t.Price); !ok {
		return TradeRecord{}, false
	}
	if _, ok := parseNonNegative(t.Amount); !ok {
		return TradeRecord{}, false
	}
	return TradeRecord{
		Exchange:  t.Exchange,
		Base:      t.Base,
		Quote:     t.Quote,
		TradeID:   t.TradeID,
		Side:      t.Side,
		Price:     t.Price,
		Amount:    t.Amount,
		Timestamp: Time(t.Timestamp),
	}, true
}
