package initializer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "relay.log")
	out, err := setupLogger(&config.Log{Level: "debug", FilePath: path, MaxSizeMB: 1})
	require.NoError(t, err)
	defer func() {
		log.Logger = zerolog.New(os.Stderr)
	}()

	log.Debug().Str("exchange", "binance").Msg("written")
	require.NoError(t, out.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"exchange":"binance"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	_, err = setupLogger(&config.Log{Level: "verbose"})
	assert.Error(t, err)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestBuildSinks(t *testing.T) {
	pub, servers, err := buildSinks(&config.Sinks{
		Terminal:  config.Terminal{Enabled: true, Publish: config.Publish{Quotes: true}},
		RawSocket: config.RawSocket{Enabled: true, Address: "127.0.0.1:0", Publish: config.Publish{OrderBooks: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pub.Len())
	require.Len(t, servers, 1)
	assert.True(t, pub.Enabled(fanout.Quotes))
	assert.True(t, pub.Enabled(fanout.OrderBooks))
	assert.False(t, pub.Enabled(fanout.Trades))

	// Closing through the publisher's shutdown releases the listener.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Run(ctx), context.Canceled)
}

func TestStartRejectsUnknownExchange(t *testing.T) {
	cfg := &config.Config{
		Exchanges: []config.Exchange{{Name: "ftx", Symbols: []string{"BTC/USDT"}}},
		Log:       config.Log{Level: "error"},
	}
	err := Start(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
