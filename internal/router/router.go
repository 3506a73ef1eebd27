// Package router sequences market data events through the order book cache,
// the publication gates and the formatter, and hands records to the publisher.
//
// Events of one market always go to the same shard goroutine, so the state of
// a market has a single writer. Different markets run concurrently.
package router

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/milkywaybrain/cryptorelay/internal/event"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/milkywaybrain/cryptorelay/internal/format"
	"github.com/milkywaybrain/cryptorelay/internal/gate"
	"github.com/milkywaybrain/cryptorelay/internal/orderbook"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Publisher hands records to the enabled sinks.
type Publisher interface {
	Enabled(ch fanout.Channel) bool
	Publish(ch fanout.Channel, record interface{}) bool
}

// Config contains router values of one exchange connector.
type Config struct {
	// DisplayName is the exchange name published as record source, before version removal and suffix.
	DisplayName       string
	OrderBookInterval time.Duration
	QuoteInterval     time.Duration
	// QuotesFromOrderBook derives quotes from the best levels of the order book
	// instead of the exchange ticker channel.
	QuotesFromOrderBook bool
	Shards              int
	QueueSize           int
}

// Router is the entry point of market data events of one exchange connector.
type Router struct {
	cfg       Config
	formatter *format.Formatter
	pub       Publisher
	now       func() time.Time
	log       zerolog.Logger
	shards    []*shard
}

// Option configures a router.
type Option func(*Router)

// WithClock replaces the wall clock used for throttling and missing timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// New creates a router with empty state.
func New(cfg Config, formatter *format.Formatter, pub Publisher, opts ...Option) *Router {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	r := &Router{
		cfg:       cfg,
		formatter: formatter,
		pub:       pub,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = log.With().Str("exchange", cfg.DisplayName).Logger()
	r.shards = make([]*shard, cfg.Shards)
	for i := range r.shards {
		r.shards[i] = &shard{
			r:         r,
			books:     orderbook.NewCache(r.now),
			bookGate:  gate.New(),
			quoteGate: gate.New(),
			dedup:     gate.NewQuoteDedup(),
			events:    make(chan event.Event, cfg.QueueSize),
		}
	}
	return r
}

// Dispatch queues ev on the shard of its market.
// It blocks while the shard queue is full, until ctx is done.
func (r *Router) Dispatch(ctx context.Context, ev event.Event) error {
	s := r.shardOf(ev.Key())
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes dispatched events till ctx is done.
func (r *Router) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range r.shards {
		s := s
		g.Go(func() error {
			return s.run(ctx)
		})
	}
	return g.Wait()
}

func (r *Router) shardOf(key event.Key) *shard {
	return r.shards[xxhash.Sum64String(string(key))%uint64(len(r.shards))]
}
