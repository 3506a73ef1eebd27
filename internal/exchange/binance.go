package exchange

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/connector"
	"github.com/milkywaybrain/cryptorelay/internal/event"
	"github.com/milkywaybrain/cryptorelay/internal/pairmap"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	binanceDepthStream  = "depth@100ms"
	binanceTickerStream = "bookTicker"
	binanceTradeStream  = "trade"

	// Streams per subscribe message.
	binanceSubBatch = 100

	binanceDepthLimit = "1000"

	// Diffs buffered per market while its snapshot is on the way, the oldest are dropped beyond it.
	binanceMaxPending = 1000

	// A depth request with limit 1000 weighs 50, the REST limit is 6000 weight per minute.
	binanceSnapshotGap   = time.Second
	binanceRateLimitWait = time.Minute
)

// Frames carry single letter keys which only differ by case ("e" / "E", "t" / "T"),
// so decoding must not fall back to case-insensitive matching.
var binanceJSON = jsoniter.Config{CaseSensitive: true}.Froze()

// StartBinance is for starting binance exchange functions.
func StartBinance(appCtx context.Context, exchCfg *config.Exchange, connCfg *config.Connection, pairs *pairmap.Mapper, d Dispatcher) error {
	return retry(appCtx, "binance", &exchCfg.Retry, func(ctx context.Context) error {
		b := newBinance(exchCfg, connCfg, pairs, d, config.BinanceWebsocketURL, config.BinanceRESTBaseURL)
		return b.run(ctx)
	})
}

type binance struct {
	cfg       *config.Exchange
	connCfg   *config.Connection
	pairs     *pairmap.Mapper
	d         Dispatcher
	wsURL     string
	restURL   string
	ws        connector.Websocket
	rest      *connector.REST
	markets   map[string]market
	streamIds map[int][]string

	syncMu        sync.Mutex
	depths        map[string]*depthSync
	snapshotReq   chan market
	snapshotGap   time.Duration
	rateLimitWait time.Duration
}

// depthSync is the diff stream state of a market's order book.
// Diffs are buffered till the snapshot they apply to is dispatched.
type depthSync struct {
	synced    bool
	requested bool
	lastID    int64
	pending   []*wsDepthBinance
}

type wsSubBinance struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type wsRespBinance struct {
	Stream string              `json:"stream"`
	Data   jsoniter.RawMessage `json:"data"`
	ID     int                 `json:"id"`
	Error  *wsErrBinance       `json:"error"`
}

type wsErrBinance struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type wsDepthBinance struct {
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	FirstID   int64       `json:"U"`
	FinalID   int64       `json:"u"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

type wsTickerBinance struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

type wsTradeBinance struct {
	Symbol    string `json:"s"`
	TradeID   uint64 `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
	Maker     bool   `json:"m"`
}

type restDepthBinance struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

type restInfoBinance struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

func newBinance(exchCfg *config.Exchange, connCfg *config.Connection, pairs *pairmap.Mapper, d Dispatcher, wsURL string, restURL string) *binance {
	return &binance{
		cfg:       exchCfg,
		connCfg:   connCfg,
		pairs:     pairs,
		d:         d,
		wsURL:     wsURL,
		restURL:   restURL,
		markets:       make(map[string]market),
		streamIds:     make(map[int][]string),
		depths:        make(map[string]*depthSync),
		snapshotGap:   binanceSnapshotGap,
		rateLimitWait: binanceRateLimitWait,
	}
}

func (b *binance) run(appCtx context.Context) error {
	streams := b.streams()
	if len(streams) == 0 {
		log.Warn().Str("exchange", "binance").Msg("no events enabled, exchange not started")
		return nil
	}

	// If any exchange function fails, force all the other functions to stop and return.
	binanceErrGroup, ctx := errgroup.WithContext(appCtx)

	b.rest = connector.NewREST(&b.connCfg.REST)
	err := b.lookupMarkets(ctx)
	if err != nil {
		return err
	}

	var params []string
	for _, m := range b.marketList() {
		for _, s := range streams {
			params = append(params, strings.ToLower(m.id)+"@"+s)
		}
	}
	var batches [][]string
	for start := 0; start < len(params); start += binanceSubBatch {
		end := start + binanceSubBatch
		if end > len(params) {
			end = len(params)
		}
		batches = append(batches, params[start:end])

		// Batch id is used to identify streams in subscribe success message of websocket server.
		b.streamIds[len(batches)] = params[start:end]
	}

	err = b.connectWs(ctx)
	if err != nil {
		return err
	}

	binanceErrGroup.Go(func() error {
		return b.closeWsConnOnError(ctx)
	})

	binanceErrGroup.Go(func() error {
		return b.readWs(ctx)
	})

	binanceErrGroup.Go(func() error {
		return b.subscribe(ctx, batches)
	})

	if b.cfg.Events.OrderBooks {
		binanceErrGroup.Go(func() error {
			return b.fetchSnapshots(ctx)
		})
	}

	return binanceErrGroup.Wait()
}

// streams returns the stream names of the enabled events.
func (b *binance) streams() []string {
	var streams []string
	if b.cfg.Events.OrderBooks {
		streams = append(streams, binanceDepthStream)
	}
	if b.cfg.Events.Quotes {
		streams = append(streams, binanceTickerStream)
	}
	if b.cfg.Events.Trades {
		streams = append(streams, binanceTradeStream)
	}
	return streams
}

// lookupMarkets selects the markets of configured symbols from exchange info.
func (b *binance) lookupMarkets(ctx context.Context) error {
	req, err := b.rest.Request(ctx, b.restURL+"exchangeInfo")
	if err != nil {
		logErrStack(err)
		return err
	}
	resp, err := b.rest.Do(req)
	if err != nil {
		if !errors.Is(err, ctx.Err()) {
			logErrStack(err)
		}
		return err
	}
	defer resp.Body.Close()

	info := restInfoBinance{}
	if err = binanceJSON.NewDecoder(resp.Body).Decode(&info); err != nil {
		logErrStack(err)
		return err
	}

	all := make([]market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		all = append(all, market{id: s.Symbol, base: s.BaseAsset, quote: s.QuoteAsset})
	}
	for _, m := range selectMarkets(b.cfg.Symbols, all, b.pairs) {
		b.markets[m.id] = m
		b.depths[m.id] = &depthSync{}
	}
	if len(b.markets) == 0 {
		return errors.Errorf("none of the symbols %v is listed on binance", b.cfg.Symbols)
	}
	// A market has at most one snapshot request outstanding.
	b.snapshotReq = make(chan market, len(b.markets))
	log.Info().Str("exchange", "binance").Int("markets", len(b.markets)).Msg("markets selected")
	return nil
}

// marketList returns the selected markets in a stable order.
func (b *binance) marketList() []market {
	list := make([]market, 0, len(b.markets))
	for _, m := range b.markets {
		list = append(list, m)
	}
	sortMarkets(list)
	return list
}

func (b *binance) connectWs(ctx context.Context) error {
	ws, err := connector.NewWebsocket(ctx, &b.connCfg.WS, b.wsURL)
	if err != nil {
		if !errors.Is(err, ctx.Err()) {
			logErrStack(err)
		}
		return err
	}
	b.ws = ws
	log.Info().Str("exchange", "binance").Msg("websocket connected")
	return nil
}

// closeWsConnOnError closes websocket connection if there is any error in app context.
// This will unblock all read and writes on websocket.
func (b *binance) closeWsConnOnError(ctx context.Context) error {
	<-ctx.Done()
	err := b.ws.Close()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// subscribe sends all the subscription batches, keeping under the websocket message rate limit.
func (b *binance) subscribe(ctx context.Context, batches [][]string) error {
	var threshold int
	for i, batch := range batches {
		err := b.subWsChannels(ctx, batch, i+1)
		if err != nil {
			return err
		}

		// Maximum messages sent to a websocket connection per sec is 5.
		// So on a safer side, this will wait for 2 sec before proceeding once it reaches ~90% of the limit.
		// (including 1 pong frame (sent by ws library), so 4-1)
		threshold++
		if threshold == 3 {
			log.Debug().Str("exchange", "binance").Int("count", threshold).Msg("subscribe threshold reached, waiting 2 sec")
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			threshold = 0
		}
	}
	return nil
}

// subWsChannels sends a channel subscription request to the websocket server.
func (b *binance) subWsChannels(ctx context.Context, params []string, id int) error {
	sub := wsSubBinance{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     id,
	}
	err := b.ws.WriteJSON(sub)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ctx.Err()
		}
		logErrStack(err)
		return err
	}
	return nil
}

// readWs reads order book / quote / trade data from websocket channels.
func (b *binance) readWs(ctx context.Context) error {
	for {
		select {
		default:
			frame, err := b.ws.Read()
			if err != nil {
				if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
					return ctx.Err()
				}
				if err == io.EOF {
					err = errors.Wrap(err, "connection close by exchange server")
				}
				logErrStack(err)
				return err
			}
			if len(frame) == 0 {
				continue
			}
			err = b.processFrame(ctx, frame)
			if err != nil {
				return err
			}

		// Return, if there is any error from another function or exchange.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// processFrame transforms a combined stream frame into market data events and dispatches them.
func (b *binance) processFrame(ctx context.Context, frame []byte) error {
	wr := wsRespBinance{}
	err := binanceJSON.Unmarshal(frame, &wr)
	if err != nil {
		logErrStack(err)
		return err
	}

	if wr.Error != nil {
		log.Error().Str("exchange", "binance").Str("func", "processFrame").Int("code", wr.Error.Code).Str("msg", wr.Error.Msg).Msg("")
		return errors.New("binance websocket error")
	}
	if wr.Stream == "" {
		if wr.ID != 0 {
			log.Debug().Str("exchange", "binance").Int("id", wr.ID).Int("streams", len(b.streamIds[wr.ID])).Msg("channels subscribed")
		}
		return nil
	}

	i := strings.IndexByte(wr.Stream, '@')
	if i < 0 {
		return nil
	}
	switch wr.Stream[i+1:] {
	case binanceDepthStream:
		depth := wsDepthBinance{}
		if err = binanceJSON.Unmarshal(wr.Data, &depth); err != nil {
			logErrStack(err)
			return err
		}
		return b.processDepth(ctx, &depth)
	case binanceTickerStream:
		ticker := wsTickerBinance{}
		if err = binanceJSON.Unmarshal(wr.Data, &ticker); err != nil {
			logErrStack(err)
			return err
		}
		m, ok := b.markets[ticker.Symbol]
		if !ok {
			return nil
		}
		return b.d.Dispatch(ctx, &event.Ticker{
			MarketID: m.id,
			Exchange: "binance",
			Base:     m.base,
			Quote:    m.quote,
			Bid:      ticker.Bid,
			Ask:      ticker.Ask,
		})
	case binanceTradeStream:
		trade := wsTradeBinance{}
		if err = binanceJSON.Unmarshal(wr.Data, &trade); err != nil {
			logErrStack(err)
			return err
		}
		m, ok := b.markets[trade.Symbol]
		if !ok {
			return nil
		}

		// Buyer being the maker means the taker sold.
		side := "buy"
		if trade.Maker {
			side = "sell"
		}
		return b.d.Dispatch(ctx, &event.Trade{
			MarketID:  m.id,
			Exchange:  "binance",
			Base:      m.base,
			Quote:     m.quote,
			TradeID:   trade.TradeID,
			Price:     trade.Price,
			Amount:    trade.Qty,
			Side:      side,
			Timestamp: msTime(trade.TradeTime),
		})
	}
	return nil
}

// processDepth dispatches a depth diff of a synced market, buffering it otherwise
// till the snapshot worker has dispatched the market snapshot.
func (b *binance) processDepth(ctx context.Context, depth *wsDepthBinance) error {
	m, ok := b.markets[depth.Symbol]
	if !ok {
		return nil
	}
	b.syncMu.Lock()
	defer b.syncMu.Unlock()
	st := b.depths[m.id]
	if !st.synced {
		if len(st.pending) == binanceMaxPending {
			st.pending = append(st.pending[:0], st.pending[1:]...)
		}
		st.pending = append(st.pending, depth)
		b.requestSnapshot(m, st)
		return nil
	}
	return b.applyDepth(ctx, m, st, depth)
}

// applyDepth dispatches a diff following the last one applied. Diffs already contained in the book are skipped.
// A missing diff makes the market unsynced again and a new snapshot is requested.
// syncMu must be held.
func (b *binance) applyDepth(ctx context.Context, m market, st *depthSync, depth *wsDepthBinance) error {
	if depth.FinalID <= st.lastID {
		return nil
	}
	if depth.FirstID > st.lastID+1 {
		log.Warn().Str("exchange", "binance").Str("market", m.id).Int64("last_update_id", st.lastID).
			Int64("first_update_id", depth.FirstID).Msg("order book diff missed, fetching snapshot again")
		st.synced = false
		st.pending = append(st.pending[:0], depth)
		b.requestSnapshot(m, st)
		return nil
	}
	st.lastID = depth.FinalID
	return b.d.Dispatch(ctx, &event.Update{
		MarketID:  m.id,
		Exchange:  "binance",
		Base:      m.base,
		Quote:     m.quote,
		Timestamp: msTime(depth.EventTime),
		Bids:      levelsBinance(depth.Bids),
		Asks:      levelsBinance(depth.Asks),
	})
}

// requestSnapshot queues the market for the snapshot worker, unless it is already queued.
// syncMu must be held.
func (b *binance) requestSnapshot(m market, st *depthSync) {
	if st.requested {
		return
	}
	select {
	case b.snapshotReq <- m:
		st.requested = true
	default:
		log.Warn().Str("exchange", "binance").Str("market", m.id).Msg("snapshot request queue full")
	}
}

// fetchSnapshots serves snapshot requests one at a time, keeping under the REST weight limit.
func (b *binance) fetchSnapshots(ctx context.Context) error {
	for {
		select {
		case m := <-b.snapshotReq:
			if err := b.syncSnapshot(ctx, m); err != nil {
				return err
			}
			select {
			case <-time.After(b.snapshotGap):
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// syncSnapshot fetches the market snapshot, waiting out rate limits, then dispatches it
// followed by the buffered diffs it does not contain.
func (b *binance) syncSnapshot(ctx context.Context, m market) error {
	var snap *restDepthBinance
	for {
		var err error
		snap, err = b.fetchDepth(ctx, m.id)
		if err == nil {
			break
		}
		var statusErr *connector.StatusError
		if !errors.As(err, &statusErr) || !statusErr.RateLimited() {
			return err
		}
		wait := statusErr.RetryAfter
		if wait <= 0 {
			wait = b.rateLimitWait
		}
		log.Warn().Str("exchange", "binance").Str("market", m.id).Int("code", statusErr.Code).
			Dur("wait", wait).Msg("rest rate limit reached")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.syncMu.Lock()
	defer b.syncMu.Unlock()
	err := b.d.Dispatch(ctx, &event.Snapshot{
		MarketID: m.id,
		Exchange: "binance",
		Base:     m.base,
		Quote:    m.quote,
		Bids:     levelsBinance(snap.Bids),
		Asks:     levelsBinance(snap.Asks),
	})
	if err != nil {
		return err
	}

	st := b.depths[m.id]
	st.synced = true
	st.requested = false
	st.lastID = snap.LastUpdateID
	pending := st.pending
	st.pending = nil
	for i, depth := range pending {
		if err = b.applyDepth(ctx, m, st, depth); err != nil {
			return err
		}
		if !st.synced {
			st.pending = append(st.pending, pending[i+1:]...)
			break
		}
	}
	return nil
}

// fetchDepth gets the order book snapshot of a market through REST API.
func (b *binance) fetchDepth(ctx context.Context, marketID string) (*restDepthBinance, error) {
	q := url.Values{}
	q.Add("symbol", marketID)
	q.Add("limit", binanceDepthLimit)
	req, err := b.rest.Request(ctx, b.restURL+"depth?"+q.Encode())
	if err != nil {
		logErrStack(err)
		return nil, err
	}
	resp, err := b.rest.Do(req)
	if err != nil {
		var statusErr *connector.StatusError
		if !errors.Is(err, ctx.Err()) && !(errors.As(err, &statusErr) && statusErr.RateLimited()) {
			logErrStack(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	depth := restDepthBinance{}
	if err = binanceJSON.NewDecoder(resp.Body).Decode(&depth); err != nil {
		logErrStack(err)
		return nil, err
	}
	log.Debug().Str("exchange", "binance").Str("market", marketID).Int64("last_update_id", depth.LastUpdateID).
		Msg(fmt.Sprintf("order book snapshot with %v bids and %v asks", len(depth.Bids), len(depth.Asks)))
	return &depth, nil
}

func levelsBinance(raw [][2]string) []event.Level {
	levels := make([]event.Level, len(raw))
	for i, l := range raw {
		levels[i] = event.Level{Price: l[0], Size: l[1]}
	}
	return levels
}

// Time sent is in milliseconds.
func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond)).UTC()
}
