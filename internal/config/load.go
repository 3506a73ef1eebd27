package config

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// SettingsURLEnv is the environment variable holding the config file path or http(s) url.
const SettingsURLEnv = "SettingsUrl"

const settingsReqTimeout = 30 * time.Second

// Load reads config values from a file path or an http(s) url,
// fills defaults and validates them.
func Load(location string) (*Config, error) {
	if location == "" {
		location = os.Getenv(SettingsURLEnv)
	}
	if location == "" {
		return nil, errors.New("settings are not set, give config path or " + SettingsURLEnv + " environment variable")
	}

	var body io.ReadCloser
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		client := http.Client{Timeout: settingsReqTimeout}
		resp, err := client.Get(location)
		if err != nil {
			return nil, errors.Wrap(err, "settings request")
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, errors.Errorf("settings request, code : %v, status : %v", resp.StatusCode, resp.Status)
		}
		body = resp.Body
	} else {
		f, err := os.Open(location)
		if err != nil {
			return nil, errors.Wrap(err, "not able to find config file")
		}
		body = f
	}
	defer body.Close()

	return Decode(body)
}

// Decode parses JSON config values, fills defaults and validates them.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	if err := jsoniter.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "not able to parse JSON from config file")
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Main.Publishing.QuoteSource == "" {
		c.Main.Publishing.QuoteSource = QuoteSourceOrderBook
	}
	if c.Main.Router.Shards <= 0 {
		c.Main.Router.Shards = 8
	}
	if c.Main.Router.QueueSize <= 0 {
		c.Main.Router.QueueSize = 1024
	}
	for i := range c.Exchanges {
		exch := &c.Exchanges[i]
		if exch.DisplayName == "" {
			exch.DisplayName = exch.Name
		}
		if len(exch.Symbols) == 0 {
			exch.Symbols = c.Main.Symbols
		}
	}
	if c.Sinks.MySQL.QuoteCommitBuf <= 0 {
		c.Sinks.MySQL.QuoteCommitBuf = 1
	}
	if c.Sinks.MySQL.TradeCommitBuf <= 0 {
		c.Sinks.MySQL.TradeCommitBuf = 1
	}
	if c.Sinks.ES.QuoteCommitBuf <= 0 {
		c.Sinks.ES.QuoteCommitBuf = 1
	}
	if c.Sinks.ES.TradeCommitBuf <= 0 {
		c.Sinks.ES.TradeCommitBuf = 1
	}
	if c.Sinks.Websocket.WriteTimeoutSec <= 0 {
		c.Sinks.Websocket.WriteTimeoutSec = 5
	}
	if c.Sinks.RawSocket.WriteTimeoutSec <= 0 {
		c.Sinks.RawSocket.WriteTimeoutSec = 5
	}
	if c.Webserver.Address == "" {
		c.Webserver.Address = ":5000"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks user defined config values.
func (c *Config) Validate() error {
	switch c.Main.Publishing.QuoteSource {
	case QuoteSourceTicker, QuoteSourceOrderBook:
	default:
		return errors.Errorf("quote_source should be %v or %v", QuoteSourceTicker, QuoteSourceOrderBook)
	}
	if c.Main.Publishing.OrderBookMinIntervalMs < 0 || c.Main.Publishing.QuoteMinIntervalMs < 0 {
		return errors.New("publishing intervals should not be negative")
	}
	if len(c.Exchanges) == 0 {
		return errors.New("at least one exchange should be configured")
	}
	for _, exch := range c.Exchanges {
		if exch.Name == "" {
			return errors.New("exchange name should not be empty")
		}
		if len(exch.Symbols) == 0 {
			return errors.Errorf("exchange %v has no symbols", exch.Name)
		}
	}

	s := c.Sinks
	if s.Kafka.Enabled {
		if len(s.Kafka.Brokers) == 0 {
			return errors.New("kafka sink needs at least one broker")
		}
		if s.Kafka.Publish.OrderBooks && s.Kafka.OrderBooksTopic == "" ||
			s.Kafka.Publish.Quotes && s.Kafka.QuotesTopic == "" ||
			s.Kafka.Publish.Trades && s.Kafka.TradesTopic == "" {
			return errors.New("kafka sink needs a topic for every published channel")
		}
	}
	if s.Websocket.Enabled && s.Websocket.Address == "" {
		return errors.New("websocket sink needs an address")
	}
	if s.RawSocket.Enabled && s.RawSocket.Address == "" {
		return errors.New("raw socket sink needs an address")
	}
	if s.MySQL.Enabled && s.MySQL.Publish.OrderBooks {
		return errors.New("mysql sink does not store order books")
	}
	if s.ES.Enabled {
		if s.ES.Publish.OrderBooks {
			return errors.New("elastic search sink does not store order books")
		}
		if len(s.ES.Addresses) == 0 || s.ES.IndexName == "" {
			return errors.New("elastic search sink needs addresses and index name")
		}
	}
	return nil
}
