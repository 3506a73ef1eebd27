package sink

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/milkywaybrain/cryptorelay/internal/format"
)

// Terminal is for displaying data on terminal.
type Terminal struct {
	out io.Writer
}

// TerminalTimestamp is used as a format to display only the time.
const TerminalTimestamp = "15:04:05.999"

// NewTerminal creates a terminal display.
// Output writer is always os.Stdout except in case of testing.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

// Name implements fanout.Sink.
func (t *Terminal) Name() string { return "terminal" }

// Publish implements fanout.Sink.
// Order books are displayed by their best levels only.
func (t *Terminal) Publish(_ context.Context, _ fanout.Channel, record interface{}) error {
	var err error
	switch r := record.(type) {
	case format.OrderBookRecord:
		var bid, ask string
		if len(r.Bids) > 0 {
			bid = r.Bids[0].Price
		}
		if len(r.Asks) > 0 {
			ask = r.Asks[0].Price
		}
		_, err = fmt.Fprintf(t.out, "%-12s%-15s%-12s%20s%20s%6d%6d%15s\n\n", "OrderBook", r.Source, r.Asset, bid, ask, len(r.Bids), len(r.Asks), clock(r.Timestamp))
	case format.QuoteRecord:
		_, err = fmt.Fprintf(t.out, "%-12s%-15s%-12s%20s%20s%15s\n\n", "Quote", r.Source, r.Asset, r.Bid, r.Ask, clock(r.Timestamp))
	case format.TradeRecord:
		_, err = fmt.Fprintf(t.out, "%-12s%-15s%-12s%-5s%20s%20s%15s\n\n", "Trade", r.Exchange, r.Base+r.Quote, r.Side, r.Amount, r.Price, clock(r.Timestamp))
	default:
		err = fmt.Errorf("terminal: unknown record %T", record)
	}
	return err
}

func clock(ts string) string {
	t, err := time.Parse(format.Timestamp, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format(TerminalTimestamp)
}
