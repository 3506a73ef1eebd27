// Package metrics holds the prometheus collectors of the app.
// Collectors are registered with the default registry which is served
// by the webserver on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrderBookInCount counts received order book snapshots and updates.
	OrderBookInCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_book_in_count",
		Help: "Counter of received order book updates.",
	}, []string{"exchange", "symbol"})

	// OrderBookInDelay observes the delay between exchange and receive time.
	OrderBookInDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_book_in_delay",
		Help:    "Histogram of received order book delay.",
		Buckets: []float64{0.1, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 15, 20, 25, 30, 35, 40, 45, 50, 100, 200, 300, 400, 500, 1000, 2000, 3000, 5000},
	})

	// OrderBookInDelayMs is the last delay between exchange and receive time.
	OrderBookInDelayMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "order_book_in_delay_ms",
		Help: "Gauge of received order book delay.",
	}, []string{"exchange", "symbol"})

	// OrderBookOutCount counts published order books.
	OrderBookOutCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_book_out_count",
		Help: "Counter of published order book updates.",
	}, []string{"exchange", "symbol"})

	// OrderBookOutSidePrice is the best price of the last published order book per side.
	OrderBookOutSidePrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "order_book_out_side_price",
		Help: "Gauge of published order book side price.",
	}, []string{"exchange", "symbol", "side"})

	// OrderBookOutDelayMs is the delay between exchange time and publish time.
	OrderBookOutDelayMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "order_book_out_delay_ms",
		Help: "Gauge of published order book delay.",
	}, []string{"exchange", "symbol"})

	// QuoteOutCount counts published quotes.
	QuoteOutCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quote_out_count",
		Help: "Counter of published quotes.",
	}, []string{"exchange", "symbol"})

	// TradeOutCount counts published trades.
	TradeOutCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_out_count",
		Help: "Counter of published trades.",
	}, []string{"exchange", "symbol"})

	// DroppedEventCount counts events dropped by the router.
	DroppedEventCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dropped_event_count",
		Help: "Counter of events dropped by the router.",
	}, []string{"exchange", "reason"})

	// SinkPublishCount counts records handed to a sink.
	SinkPublishCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_publish_count",
		Help: "Counter of records published to a sink.",
	}, []string{"sink", "channel"})

	// SinkErrorCount counts failed sink publications.
	SinkErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_error_count",
		Help: "Counter of failed sink publications.",
	}, []string{"sink", "channel"})

	// SinkDropCount counts records dropped because a sink queue was full.
	SinkDropCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_drop_count",
		Help: "Counter of records dropped on a full sink queue.",
	}, []string{"sink", "channel"})
)
