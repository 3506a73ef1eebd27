package router

import (
	"context"
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/event"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/milkywaybrain/cryptorelay/internal/format"
	"github.com/milkywaybrain/cryptorelay/internal/gate"
	"github.com/milkywaybrain/cryptorelay/internal/metrics"
	"github.com/milkywaybrain/cryptorelay/internal/orderbook"
	"github.com/milkywaybrain/cryptorelay/internal/pairmap"
	"github.com/pkg/errors"
)

var (
	// ErrMalformedEvent is reported for events missing required fields or holding unparsable numbers.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrInvalidQuote is reported for quotes with a missing or non positive side.
	ErrInvalidQuote = errors.New("invalid quote")
)

const (
	reasonMalformed     = "malformed"
	reasonUnknownMarket = "unknown_market"
	reasonInvalidQuote  = "invalid_quote"
)

// shard owns the state of a subset of markets. Only its own goroutine touches it.
type shard struct {
	r         *Router
	books     *orderbook.Cache
	bookGate  *gate.Gate
	quoteGate *gate.Gate
	dedup     *gate.QuoteDedup
	events    chan event.Event
}

func (s *shard) run(ctx context.Context) error {
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *shard) handle(ev event.Event) {
	switch e := ev.(type) {
	case *event.Snapshot:
		s.onSnapshot(e)
	case *event.Update:
		s.onUpdate(e)
	case *event.Ticker:
		s.onTicker(e)
	case *event.Trade:
		s.onTrade(e)
	}
}

func (s *shard) onSnapshot(ev *event.Snapshot) {
	if ev.MarketID == "" || ev.Exchange == "" || ev.Base == "" || ev.Quote == "" {
		s.drop(ev.Exchange, ev.MarketID, reasonMalformed, errors.Wrap(ErrMalformedEvent, "snapshot without market"))
		return
	}
	bids, err := parseLevels(ev.Bids)
	if err != nil {
		s.drop(ev.Exchange, ev.MarketID, reasonMalformed, err)
		return
	}
	asks, err := parseLevels(ev.Asks)
	if err != nil {
		s.drop(ev.Exchange, ev.MarketID, reasonMalformed, err)
		return
	}
	s.received(ev.Exchange, ev.MarketID, ev.Timestamp)

	key := ev.Key()
	book := s.books.ApplySnapshot(key, s.r.cfg.DisplayName, pairmap.Join(ev.Base, ev.Quote), ev.Timestamp, bids, asks)
	s.publishBook(key, ev.Exchange, ev.MarketID, book)
}

func (s *shard) onUpdate(ev *event.Update) {
	if ev.MarketID == "" || ev.Exchange == "" {
		s.drop(ev.Exchange, ev.MarketID, reasonMalformed, errors.Wrap(ErrMalformedEvent, "update without market"))
		return
	}
	bids, err := parseLevels(ev.Bids)
	if err != nil {
		s.drop(ev.Exchange, ev.MarketID, reasonMalformed, err)
		return
	}
	asks, err := parseLevels(ev.Asks)
	if err != nil {
		s.drop(ev.Exchange, ev.MarketID, reasonMalformed, err)
		return
	}
	s.received(ev.Exchange, ev.MarketID, ev.Timestamp)

	key := ev.Key()
	book, err := s.books.ApplyUpdate(key, ev.Timestamp, bids, asks)
	if err != nil {
		s.drop(ev.Exchange, ev.MarketID, reasonUnknownMarket, err)
		return
	}
	s.publishBook(key, ev.Exchange, ev.MarketID, book)
}

func (s *shard) onTicker(ev *event.Ticker) {
	if s.r.cfg.QuotesFromOrderBook || !s.r.pub.Enabled(fanout.Quotes) {
		return
	}
	if ev.MarketID == "" || ev.Exchange == "" || ev.Base == "" || ev.Quote == "" {
		s.drop(ev.Exchange, ev.MarketID, reasonMalformed, errors.Wrap(ErrMalformedEvent, "ticker without market"))
		return
	}
	now := s.r.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	q, ok := s.r.formatter.Quote(s.r.cfg.DisplayName, ev)
	if !ok {
		// Feeds routinely send empty quotes, so these are only counted.
		metrics.DroppedEventCount.WithLabelValues(ev.Exchange, reasonInvalidQuote).Inc()
		s.r.log.Debug().Err(ErrInvalidQuote).Str("market", ev.MarketID).Str("bid", ev.Bid).Str("ask", ev.Ask).Msg("event dropped")
		return
	}
	s.publishQuote(ev.Key(), ev.Exchange, ev.MarketID, q, now)
}

func (s *shard) onTrade(ev *event.Trade) {
	if !s.r.pub.Enabled(fanout.Trades) {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.r.now()
	}
	t, ok := s.r.formatter.Trade(ev)
	if !ok {
		s.drop(ev.Exchange, ev.MarketID, reasonMalformed, errors.Wrapf(ErrMalformedEvent, "trade price %q amount %q", ev.Price, ev.Amount))
		return
	}
	if s.r.pub.Publish(fanout.Trades, t) {
		metrics.TradeOutCount.WithLabelValues(ev.Exchange, ev.MarketID).Inc()
	}
}

// publishBook publishes the order book of key if due, and the quote derived from it if enabled.
func (s *shard) publishBook(key event.Key, exchange string, market string, book *orderbook.Book) {
	now := s.r.now()
	bookDue := s.r.pub.Enabled(fanout.OrderBooks) && s.bookGate.IsDue(key, now, s.r.cfg.OrderBookInterval)
	quoteDerived := s.r.cfg.QuotesFromOrderBook && s.r.pub.Enabled(fanout.Quotes)
	if !bookDue && !quoteDerived {
		return
	}

	rec, err := s.r.formatter.OrderBook(book)
	if err != nil {
		s.drop(exchange, market, reasonMalformed, errors.Wrap(ErrMalformedEvent, err.Error()))
		return
	}

	if quoteDerived {
		if q, ok := s.r.formatter.BestOfBook(rec); ok {
			s.publishQuote(key, exchange, market, q, now)
		}
	}

	if bookDue && s.r.pub.Publish(fanout.OrderBooks, rec) {
		s.bookGate.MarkPublished(key, now)
		s.published(exchange, market, book, now)
	}
}

func (s *shard) publishQuote(key event.Key, exchange string, market string, q format.QuoteRecord, now time.Time) {
	if !s.dedup.ShouldEmit(key, q.Bid, q.Ask) {
		return
	}
	if !s.quoteGate.IsDue(key, now, s.r.cfg.QuoteInterval) {
		return
	}
	if !s.r.pub.Publish(fanout.Quotes, q) {
		return
	}
	s.dedup.Record(key, q.Bid, q.Ask)
	s.quoteGate.MarkPublished(key, now)
	metrics.QuoteOutCount.WithLabelValues(exchange, market).Inc()
	s.r.log.Debug().Str("market", market).Str("bid", q.Bid).Str("ask", q.Ask).Msg("quote published")
}

func (s *shard) drop(exchange string, market string, reason string, err error) {
	metrics.DroppedEventCount.WithLabelValues(exchange, reason).Inc()
	s.r.log.Warn().Err(err).Str("market", market).Str("reason", reason).Msg("event dropped")
}

func (s *shard) received(exchange string, market string, ts time.Time) {
	metrics.OrderBookInCount.WithLabelValues(exchange, market).Inc()
	if ts.IsZero() {
		return
	}
	delay := float64(s.r.now().Sub(ts).Milliseconds())
	metrics.OrderBookInDelay.Observe(delay)
	metrics.OrderBookInDelayMs.WithLabelValues(exchange, market).Set(delay)
}

func (s *shard) published(exchange string, market string, book *orderbook.Book, now time.Time) {
	metrics.OrderBookOutCount.WithLabelValues(exchange, market).Inc()
	metrics.OrderBookOutDelayMs.WithLabelValues(exchange, market).Set(float64(now.Sub(book.Timestamp).Milliseconds()))
	var bid, ask string
	if best, ok := book.Bids.Best(orderbook.Descending); ok {
		bid = best.Price.String()
		metrics.OrderBookOutSidePrice.WithLabelValues(exchange, market, "bid").Set(best.Price.InexactFloat64())
	}
	if best, ok := book.Asks.Best(orderbook.Ascending); ok {
		ask = best.Price.String()
		metrics.OrderBookOutSidePrice.WithLabelValues(exchange, market, "ask").Set(best.Price.InexactFloat64())
	}
	s.r.log.Debug().Str("market", market).Int("bids", book.Bids.Len()).Int("asks", book.Asks.Len()).
		Str("best_bid", bid).Str("best_ask", ask).Msg("order book published")
}

func parseLevels(raw []event.Level) ([]orderbook.Level, error) {
	levels := make([]orderbook.Level, 0, len(raw))
	for _, l := range raw {
		price, err := format.ParseDecimal(l.Price)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedEvent, "price %q", l.Price)
		}
		size, err := format.ParseDecimal(l.Size)
		if err != nil || size.IsNegative() {
			return nil, errors.Wrapf(ErrMalformedEvent, "size %q", l.Size)
		}
		levels = append(levels, orderbook.Level{Price: price, Size: size})
	}
	return levels, nil
}
