package fanout

import (
	"context"
	"io"
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/metrics"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Channel is a kind of published data.
type Channel int

const (
	// OrderBooks carries format.OrderBookRecord.
	OrderBooks Channel = iota
	// Quotes carries format.QuoteRecord.
	Quotes
	// Trades carries format.TradeRecord.
	Trades
)

func (c Channel) String() string {
	switch c {
	case OrderBooks:
		return "order_books"
	case Quotes:
		return "quotes"
	case Trades:
		return "trades"
	}
	return "unknown"
}

// Sink is a downstream transport.
// Publish is only called from the sink's own worker goroutine.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ch Channel, record interface{}) error
}

// Flusher is implemented by sinks buffering records before commit.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Toggles enables channels per sink.
type Toggles struct {
	OrderBooks bool
	Quotes     bool
	Trades     bool
}

// Enabled reports whether ch is enabled.
func (t Toggles) Enabled(ch Channel) bool {
	switch ch {
	case OrderBooks:
		return t.OrderBooks
	case Quotes:
		return t.Quotes
	case Trades:
		return t.Trades
	}
	return false
}

// DefaultQueueSize is used for sinks added with a non positive queue size.
const DefaultQueueSize = 1024

// flushTimeout bounds the final flush of buffering sinks on shutdown.
const flushTimeout = 5 * time.Second

type message struct {
	ch     Channel
	record interface{}
}

type route struct {
	sink    Sink
	toggles Toggles
	queue   chan message
}

// Publisher dispatches records to independently toggled sinks.
// Publishing never blocks: every sink has its own bounded queue and worker,
// a slow or failing sink loses its own records only.
type Publisher struct {
	routes []*route
}

// New creates a publisher without sinks.
func New() *Publisher {
	return &Publisher{}
}

// Add registers a sink. It must be called before Run.
func (p *Publisher) Add(sink Sink, toggles Toggles, queueSize int) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	p.routes = append(p.routes, &route{
		sink:    sink,
		toggles: toggles,
		queue:   make(chan message, queueSize),
	})
}

// Len returns the number of registered sinks.
func (p *Publisher) Len() int {
	return len(p.routes)
}

// Enabled reports whether any sink has ch enabled.
func (p *Publisher) Enabled(ch Channel) bool {
	for _, r := range p.routes {
		if r.toggles.Enabled(ch) {
			return true
		}
	}
	return false
}

// Publish enqueues record for every sink with ch enabled.
// It reports whether at least one sink accepted the record.
func (p *Publisher) Publish(ch Channel, record interface{}) bool {
	var accepted bool
	for _, r := range p.routes {
		if !r.toggles.Enabled(ch) {
			continue
		}
		select {
		case r.queue <- message{ch: ch, record: record}:
			accepted = true
		default:
			metrics.SinkDropCount.WithLabelValues(r.sink.Name(), ch.String()).Inc()
			log.Warn().Str("sink", r.sink.Name()).Str("channel", ch.String()).Msg("sink queue full, record dropped")
		}
	}
	return accepted
}

// Run starts one worker per sink and blocks until ctx is done.
// Buffering sinks are flushed and closable sinks closed before returning.
func (p *Publisher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range p.routes {
		r := r
		g.Go(func() error {
			return r.run(ctx)
		})
	}
	return g.Wait()
}

func (r *route) run(ctx context.Context) error {
	defer r.shutdown()
	for {
		select {
		case m := <-r.queue:
			r.publish(ctx, m)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *route) publish(ctx context.Context, m message) {
	name := r.sink.Name()
	err := r.sink.Publish(ctx, m.ch, m.record)
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			return
		}
		metrics.SinkErrorCount.WithLabelValues(name, m.ch.String()).Inc()
		log.Warn().Stack().Err(errors.WithStack(err)).Str("sink", name).Str("channel", m.ch.String()).Msg("sink unavailable")
		return
	}
	metrics.SinkPublishCount.WithLabelValues(name, m.ch.String()).Inc()
}

func (r *route) shutdown() {
	name := r.sink.Name()
	if f, ok := r.sink.(Flusher); ok {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()

		// Publish whatever is still queued, then commit buffers.
	drain:
		for {
			select {
			case m := <-r.queue:
				r.publish(ctx, m)
			default:
				break drain
			}
		}
		if err := f.Flush(ctx); err != nil {
			log.Warn().Err(err).Str("sink", name).Msg("sink flush failed")
		}
	}
	if c, ok := r.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("sink", name).Msg("sink close failed")
		}
	}
	log.Info().Str("sink", name).Msg("sink stopped")
}
