package config

import (
	"time"
)

const (
	// BinanceWebsocketURL is the binance exchange combined stream websocket url.
	BinanceWebsocketURL = "wss://stream.binance.com:9443/stream"
	// BinanceRESTBaseURL is the binance exchange base REST url.
	BinanceRESTBaseURL = "https://api.binance.com/api/v3/"
)

const (
	// QuoteSourceTicker publishes quotes from the exchange ticker channel.
	QuoteSourceTicker = "ticker"
	// QuoteSourceOrderBook publishes quotes derived from the best levels of the order book.
	QuoteSourceOrderBook = "order_book"
)

// legacyOrderBookFloor is the fixed order book interval of the legacy publishing mode.
const legacyOrderBookFloor = 1000 * time.Millisecond

// Config contains config values for the app.
// Struct values are loaded from user defined JSON config file.
type Config struct {
	Main       Main       `json:"main"`
	Exchanges  []Exchange `json:"exchanges"`
	Sinks      Sinks      `json:"sinks"`
	Connection Connection `json:"connection"`
	Webserver  Webserver  `json:"webserver"`
	Log        Log        `json:"log"`
}

// Main contains config values shared by all exchanges.
type Main struct {
	ExchangesNamesSuffix string            `json:"exchanges_names_suffix"`
	Publishing           Publishing        `json:"publishing"`
	Router               Router            `json:"router"`
	AssetMapping         map[string]string `json:"asset_mapping"`
	Symbols              []string          `json:"symbols"`
}

// Publishing contains config values for publication throttling.
type Publishing struct {
	OrderBookMinIntervalMs int    `json:"order_book_min_interval_ms"`
	QuoteMinIntervalMs     int    `json:"quote_min_interval_ms"`
	LegacyOrderBookFloor   bool   `json:"legacy_order_book_floor"`
	QuoteSource            string `json:"quote_source"`
}

// OrderBookInterval returns the minimum interval between two order book publications of a market.
// Zero disables throttling. In legacy mode any enabled interval is replaced by a fixed 1 second floor.
func (p Publishing) OrderBookInterval() time.Duration {
	if p.OrderBookMinIntervalMs <= 0 {
		return 0
	}
	if p.LegacyOrderBookFloor {
		return legacyOrderBookFloor
	}
	return time.Duration(p.OrderBookMinIntervalMs) * time.Millisecond
}

// QuoteInterval returns the minimum interval between two quote publications of a market.
func (p Publishing) QuoteInterval() time.Duration {
	if p.QuoteMinIntervalMs <= 0 {
		return 0
	}
	return time.Duration(p.QuoteMinIntervalMs) * time.Millisecond
}

// Router contains config values for the event router.
type Router struct {
	Shards    int `json:"shards"`
	QueueSize int `json:"queue_size"`
}

// Exchange contains config values for different exchanges.
type Exchange struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Version     string   `json:"version"`
	Symbols     []string `json:"symbols"`
	Events      Events   `json:"events"`
	Retry       Retry    `json:"retry"`
}

// Events contains channel subscription switches of an exchange.
type Events struct {
	Quotes     bool `json:"quotes"`
	OrderBooks bool `json:"order_books"`
	Trades     bool `json:"trades"`
}

// Retry contains config values for retry process.
type Retry struct {
	Number   int `json:"number"`
	GapSec   int `json:"gap_sec"`
	ResetSec int `json:"reset_sec"`
}

// Sinks contains config values for different publication sinks.
type Sinks struct {
	Kafka     Kafka         `json:"kafka"`
	Websocket WebsocketSink `json:"websocket"`
	RawSocket RawSocket     `json:"raw_socket"`
	Terminal  Terminal      `json:"terminal"`
	MySQL     MySQL         `json:"mysql"`
	ES        ES            `json:"elastic_search"`
}

// Publish contains channel switches of a sink.
type Publish struct {
	OrderBooks bool `json:"order_books"`
	Quotes     bool `json:"quotes"`
	Trades     bool `json:"trades"`
}

// Kafka contains config values for the kafka message bus.
type Kafka struct {
	Enabled         bool     `json:"enabled"`
	Brokers         []string `json:"brokers"`
	OrderBooksTopic string   `json:"order_books_topic"`
	QuotesTopic     string   `json:"quotes_topic"`
	TradesTopic     string   `json:"trades_topic"`
	BatchTimeoutMs  int      `json:"batch_timeout_ms"`
	WriteTimeoutSec int      `json:"write_timeout_sec"`
	Publish         Publish  `json:"publish"`
	QueueSize       int      `json:"queue_size"`
}

// WebsocketSink contains config values for the websocket broadcast server.
type WebsocketSink struct {
	Enabled         bool    `json:"enabled"`
	Address         string  `json:"address"`
	WriteTimeoutSec int     `json:"write_timeout_sec"`
	Publish         Publish `json:"publish"`
	QueueSize       int     `json:"queue_size"`
}

// RawSocket contains config values for the raw tcp fan-out socket.
type RawSocket struct {
	Enabled         bool    `json:"enabled"`
	Address         string  `json:"address"`
	WriteTimeoutSec int     `json:"write_timeout_sec"`
	Publish         Publish `json:"publish"`
	QueueSize       int     `json:"queue_size"`
}

// Terminal contains config values for terminal display.
type Terminal struct {
	Enabled   bool    `json:"enabled"`
	Publish   Publish `json:"publish"`
	QueueSize int     `json:"queue_size"`
}

// MySQL contains config values for mysql.
type MySQL struct {
	Enabled            bool    `json:"enabled"`
	User               string  `json:"user"`
	Password           string  `json:"password"`
	URL                string  `json:"URL"`
	Schema             string  `json:"schema"`
	ReqTimeoutSec      int     `json:"request_timeout_sec"`
	ConnMaxLifetimeSec int     `json:"conn_max_lifetime_sec"`
	MaxOpenConns       int     `json:"max_open_conns"`
	MaxIdleConns       int     `json:"max_idle_conns"`
	QuoteCommitBuf     int     `json:"quote_commit_buffer"`
	TradeCommitBuf     int     `json:"trade_commit_buffer"`
	Publish            Publish `json:"publish"`
	QueueSize          int     `json:"queue_size"`
}

// ES contains config values for elastic search.
type ES struct {
	Enabled             bool     `json:"enabled"`
	Addresses           []string `json:"addresses"`
	Username            string   `json:"username"`
	Password            string   `json:"password"`
	IndexName           string   `json:"index_name"`
	ReqTimeoutSec       int      `json:"request_timeout_sec"`
	MaxIdleConns        int      `json:"max_idle_conns"`
	MaxIdleConnsPerHost int      `json:"max_idle_conns_per_host"`
	QuoteCommitBuf      int      `json:"quote_commit_buffer"`
	TradeCommitBuf      int      `json:"trade_commit_buffer"`
	Publish             Publish  `json:"publish"`
	QueueSize           int      `json:"queue_size"`
}

// Connection contains config values for exchange API connections.
type Connection struct {
	WS   WS   `json:"websocket"`
	REST REST `json:"rest"`
}

// WS contains config values for websocket connection.
type WS struct {
	ConnTimeoutSec int `json:"conn_timeout_sec"`
	ReadTimeoutSec int `json:"read_timeout_sec"`
}

// REST contains config values for REST API connection.
type REST struct {
	ReqTimeoutSec       int `json:"request_timeout_sec"`
	MaxIdleConns        int `json:"max_idle_conns"`
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`
}

// Webserver contains config values for the health and metrics http server.
type Webserver struct {
	Disabled bool   `json:"disabled"`
	Address  string `json:"address"`
}

// Log contains config values for logging.
type Log struct {
	Level      string `json:"level"`
	FilePath   string `json:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}
