package sink

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/milkywaybrain/cryptorelay/internal/format"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testQuote = format.QuoteRecord{
	Source:    "Binance_SC",
	Asset:     "BTCUSDT",
	AssetPair: format.AssetPair{Base: "BTC", Quote: "USDT"},
	Timestamp: "2021-03-04T05:06:07.000Z",
	Bid:       "100.5",
	Ask:       "101",
}

var testTrade = format.TradeRecord{
	Exchange:  "binance",
	Base:      "BTC",
	Quote:     "USDT",
	TradeID:   7,
	Side:      "buy",
	Price:     "100.5",
	Amount:    "0.1",
	Timestamp: "2021-03-04T05:06:07.000Z",
}

func TestRecordKey(t *testing.T) {
	assert.Equal(t, "Binance_SC:BTCUSDT", recordKey(testQuote))
	assert.Equal(t, "Binance_SC:BTCUSDT", recordKey(format.OrderBookRecord{Source: "Binance_SC", Asset: "BTCUSDT"}))
	assert.Equal(t, "binance:BTCUSDT", recordKey(testTrade))
	assert.Equal(t, "", recordKey(42))
}

func TestTerminal(t *testing.T) {
	var buf bytes.Buffer
	ter := NewTerminal(&buf)
	ctx := context.Background()

	require.NoError(t, ter.Publish(ctx, fanout.Quotes, testQuote))
	require.NoError(t, ter.Publish(ctx, fanout.Trades, testTrade))
	require.NoError(t, ter.Publish(ctx, fanout.OrderBooks, format.OrderBookRecord{
		Source: "Binance_SC", Asset: "BTCUSDT", Timestamp: testQuote.Timestamp,
		Bids: []format.Level{{Price: "100", Volume: "1"}},
	}))
	assert.Error(t, ter.Publish(ctx, fanout.Quotes, "bad"))

	out := buf.String()
	assert.Contains(t, out, "Quote")
	assert.Contains(t, out, "Trade")
	assert.Contains(t, out, "OrderBook")
	assert.Contains(t, out, "101")
}

func TestRawSocket(t *testing.T) {
	rs, err := NewRawSocket(&config.RawSocket{Address: "127.0.0.1:0", WriteTimeoutSec: 1})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rs.Serve(ctx) }()

	conn, err := net.Dial("tcp", rs.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return rs.clients.len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, rs.Publish(ctx, fanout.Quotes, testQuote))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "quotes "))

	var got format.QuoteRecord
	require.NoError(t, jsoniter.UnmarshalFromString(strings.TrimPrefix(line, "quotes "), &got))
	assert.Equal(t, testQuote, got)

	require.NoError(t, rs.Close())
	assert.Equal(t, 0, rs.clients.len())
}

func TestRawSocketDropsStalledClient(t *testing.T) {
	rs, err := NewRawSocket(&config.RawSocket{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.Equal(t, defaultWriteTimeout, rs.writeTimeout)
	rs.writeTimeout = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rs.Serve(ctx) }()

	stalled, err := net.Dial("tcp", rs.Addr().String())
	require.NoError(t, err)
	defer stalled.Close()
	healthy, err := net.Dial("tcp", rs.Addr().String())
	require.NoError(t, err)
	defer healthy.Close()
	require.Eventually(t, func() bool { return rs.clients.len() == 2 }, time.Second, 5*time.Millisecond)
	go func() { _, _ = io.Copy(io.Discard, healthy) }()

	// The stalled client never reads, its buffers fill and the deadline expires.
	big := strings.Repeat("x", 1<<20)
	require.Eventually(t, func() bool {
		_ = rs.Publish(ctx, fanout.Quotes, big)
		return rs.clients.len() == 1
	}, 20*time.Second, time.Millisecond)

	rs.clients.mu.Lock()
	defer rs.clients.mu.Unlock()
	for conn := range rs.clients.conns {
		assert.Equal(t, healthy.LocalAddr().String(), conn.RemoteAddr().String())
	}
}

func TestWriteTimeoutDefault(t *testing.T) {
	assert.Equal(t, defaultWriteTimeout, writeTimeout(0))
	assert.Equal(t, 2*time.Second, writeTimeout(2))

	hub, err := NewWebsocketHub(&config.WebsocketSink{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	defer hub.Close()
	assert.Equal(t, defaultWriteTimeout, hub.writeTimeout)
}

func TestWebsocketHub(t *testing.T) {
	hub, err := NewWebsocketHub(&config.WebsocketSink{Address: "127.0.0.1:0", WriteTimeoutSec: 1})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Serve(ctx) }()

	conn, _, _, err := ws.Dial(ctx, "ws://"+hub.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.clients.len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, fanout.Trades, testTrade))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	data, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)

	var got struct {
		Event string             `json:"event"`
		Data  format.TradeRecord `json:"data"`
	}
	require.NoError(t, jsoniter.Unmarshal(data, &got))
	assert.Equal(t, "trades", got.Event)
	assert.Equal(t, testTrade, got.Data)

	require.NoError(t, wsutil.WriteClientMessage(conn, ws.OpClose, nil))
	assert.Eventually(t, func() bool { return hub.clients.len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMySQLBuffersAndRejectsOrderBooks(t *testing.T) {
	m := &MySQL{Cfg: &config.MySQL{QuoteCommitBuf: 10, TradeCommitBuf: 10}}
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, fanout.Quotes, testQuote))
	require.NoError(t, m.Publish(ctx, fanout.Trades, testTrade))
	assert.Len(t, m.quotes, 1)
	assert.Len(t, m.trades, 1)

	err := m.Publish(ctx, fanout.OrderBooks, format.OrderBookRecord{})
	assert.True(t, errors.Is(err, ErrUnsupportedChannel))
}

func TestElasticSearchBuffers(t *testing.T) {
	e := &ElasticSearch{Cfg: &config.ES{QuoteCommitBuf: 10, TradeCommitBuf: 10}}
	ctx := context.Background()

	require.NoError(t, e.Publish(ctx, fanout.Quotes, testQuote))
	require.NoError(t, e.Publish(ctx, fanout.Trades, testTrade))
	lines := strings.Split(strings.TrimSpace(e.docs.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `{"create":{}}`, lines[0])
	assert.Contains(t, lines[1], `"channel":"quote"`)
	assert.Contains(t, lines[3], `"trade_id":7`)

	err := e.Publish(ctx, fanout.OrderBooks, format.OrderBookRecord{})
	assert.True(t, errors.Is(err, ErrUnsupportedChannel))
}

func TestKafkaUnsupportedChannel(t *testing.T) {
	k := NewKafka(&config.Kafka{Brokers: []string{"127.0.0.1:9"}, QuotesTopic: "quotes"})
	defer k.Close()
	err := k.Publish(context.Background(), fanout.Trades, testTrade)
	assert.True(t, errors.Is(err, ErrUnsupportedChannel))
}
