package initializer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/exchange"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/milkywaybrain/cryptorelay/internal/format"
	"github.com/milkywaybrain/cryptorelay/internal/pairmap"
	"github.com/milkywaybrain/cryptorelay/internal/router"
	"github.com/milkywaybrain/cryptorelay/internal/sink"
	"github.com/milkywaybrain/cryptorelay/internal/webserver"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

// server is a sink accepting its own subscribers.
type server interface {
	Serve(ctx context.Context) error
}

// Start will initialize various required systems and then execute the app.
func Start(mainCtx context.Context, cfg *config.Config) error {
	logOut, err := setupLogger(&cfg.Log)
	if err != nil {
		return err
	}
	defer logOut.Close()

	// Resolve every exchange before connecting anything.
	factories := make([]exchange.Factory, len(cfg.Exchanges))
	for i, exch := range cfg.Exchanges {
		f, ok := exchange.Lookup(exch.Name)
		if !ok {
			err = fmt.Errorf("exchange %v is not supported, supported ones are %v", exch.Name, exchange.Names())
			log.Error().Stack().Err(errors.WithStack(err)).Msg("")
			return err
		}
		factories[i] = f
	}

	pub, servers, err := buildSinks(&cfg.Sinks)
	if err != nil {
		log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		return err
	}
	if pub.Len() == 0 {
		log.Warn().Msg("no sink enabled, nothing will be published")
	}

	// Start each exchange function. If any exchange fails after retry, force all the other exchanges to stop and
	// exit the app.
	appErrGroup, appCtx := errgroup.WithContext(mainCtx)

	for _, s := range servers {
		s := s
		appErrGroup.Go(func() error {
			return s.Serve(appCtx)
		})
	}
	appErrGroup.Go(func() error {
		return pub.Run(appCtx)
	})
	if !cfg.Webserver.Disabled {
		ws := webserver.New(&cfg.Webserver)
		appErrGroup.Go(func() error {
			return ws.Run(appCtx)
		})
	}

	pairs := pairmap.New(cfg.Main.AssetMapping)
	publishing := cfg.Main.Publishing
	for i := range cfg.Exchanges {
		exch := &cfg.Exchanges[i]
		start := factories[i]
		r := router.New(router.Config{
			DisplayName:         exch.DisplayName,
			OrderBookInterval:   publishing.OrderBookInterval(),
			QuoteInterval:       publishing.QuoteInterval(),
			QuotesFromOrderBook: publishing.QuoteSource == config.QuoteSourceOrderBook,
			Shards:              cfg.Main.Router.Shards,
			QueueSize:           cfg.Main.Router.QueueSize,
		}, format.New(pairs, exch.Version, cfg.Main.ExchangesNamesSuffix), pub)

		appErrGroup.Go(func() error {
			return r.Run(appCtx)
		})
		appErrGroup.Go(func() error {
			return start(appCtx, exch, &cfg.Connection, pairs, r)
		})
		log.Info().Str("exchange", exch.Name).Strs("symbols", exch.Symbols).Msg("exchange started")
	}

	err = appErrGroup.Wait()
	if err != nil {
		if errors.Is(err, context.Canceled) && mainCtx.Err() != nil {
			log.Info().Msg("app stopped")
			return nil
		}
		log.Error().Msg("exiting the app")
		return err
	}
	return nil
}

// setupLogger points the global logger to a rotated log file.
// If the path given in the config for logging ends with .log then create a log file with the same name and
// write log messages to it. Otherwise, create a new log file with a timestamp attached to it's name in the given path.
// Without a path, messages go to stderr.
func setupLogger(cfg *config.Log) (io.WriteCloser, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	switch cfg.Level {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		return nil, fmt.Errorf("log level %v is not supported", cfg.Level)
	}

	var out io.WriteCloser = nopCloser{os.Stderr}
	if cfg.FilePath != "" {
		path := cfg.FilePath
		if !strings.HasSuffix(path, ".log") {
			path = path + "_" + strconv.Itoa(int(time.Now().Unix())) + ".log"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("not able to create log directory of: %v", path)
		}
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	log.Info().Msg("logger setup is done")
	return out, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// buildSinks connects the enabled sinks and registers them on a publisher.
func buildSinks(cfg *config.Sinks) (*fanout.Publisher, []server, error) {
	pub := fanout.New()
	var servers []server

	if cfg.Terminal.Enabled {
		pub.Add(sink.NewTerminal(os.Stdout), toggles(cfg.Terminal.Publish), cfg.Terminal.QueueSize)
		log.Info().Msg("terminal connected")
	}
	if cfg.Kafka.Enabled {
		pub.Add(sink.NewKafka(&cfg.Kafka), toggles(cfg.Kafka.Publish), cfg.Kafka.QueueSize)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("kafka writer ready")
	}
	if cfg.Websocket.Enabled {
		hub, err := sink.NewWebsocketHub(&cfg.Websocket)
		if err != nil {
			return nil, nil, errors.Wrap(err, "websocket sink")
		}
		pub.Add(hub, toggles(cfg.Websocket.Publish), cfg.Websocket.QueueSize)
		servers = append(servers, hub)
	}
	if cfg.RawSocket.Enabled {
		raw, err := sink.NewRawSocket(&cfg.RawSocket)
		if err != nil {
			return nil, nil, errors.Wrap(err, "raw socket sink")
		}
		pub.Add(raw, toggles(cfg.RawSocket.Publish), cfg.RawSocket.QueueSize)
		servers = append(servers, raw)
	}
	if cfg.MySQL.Enabled {
		mysql, err := sink.NewMySQL(&cfg.MySQL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "mysql connection")
		}
		pub.Add(mysql, toggles(cfg.MySQL.Publish), cfg.MySQL.QueueSize)
		log.Info().Msg("mysql connected")
	}
	if cfg.ES.Enabled {
		es, err := sink.NewElasticSearch(&cfg.ES)
		if err != nil {
			return nil, nil, errors.Wrap(err, "elastic search connection")
		}
		pub.Add(es, toggles(cfg.ES.Publish), cfg.ES.QueueSize)
		log.Info().Msg("elastic search connected")
	}
	return pub, servers, nil
}

func toggles(p config.Publish) fanout.Toggles {
	return fanout.Toggles{OrderBooks: p.OrderBooks, Quotes: p.Quotes, Trades: p.Trades}
}
