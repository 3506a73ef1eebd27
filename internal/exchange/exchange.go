package exchange

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/event"
	"github.com/milkywaybrain/cryptorelay/internal/pairmap"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Dispatcher receives market data events parsed by an exchange connector.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev event.Event) error
}

// Factory runs an exchange connector till ctx is done or it fails even after the configured retries.
type Factory func(appCtx context.Context, exchCfg *config.Exchange, connCfg *config.Connection, pairs *pairmap.Mapper, d Dispatcher) error

var registry = map[string]Factory{
	"binance": StartBinance,
}

// Lookup returns the connector factory of an exchange name.
func Lookup(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names returns the supported exchange names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// market is an exchange market selected from the configured symbols.
type market struct {
	id    string
	base  string
	quote string
}

// selectMarkets picks the exchange markets of the configured symbols.
// A symbol is first looked up translated to the exchange asset names, then as it is.
// Symbol * selects all markets.
func selectMarkets(symbols []string, all []market, pairs *pairmap.Mapper) []market {
	byPair := make(map[string]market, len(all))
	for _, m := range all {
		byPair[pairmap.Join(m.base, m.quote)] = m
	}
	var selected []market
	for _, symbol := range symbols {
		if symbol == "*" {
			return all
		}
		if m, ok := byPair[pairs.Forward(symbol)]; ok {
			selected = append(selected, m)
			continue
		}
		if m, ok := byPair[symbol]; ok {
			selected = append(selected, m)
		}
	}
	return selected
}

func sortMarkets(list []market) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].id < list[j].id
	})
}

// retry runs fn again after a failure, with a time gap, till it reaches the configured number of retries.
// Retry counter is reset back to zero if the elapsed time since the last retry is greater than the configured one.
func retry(appCtx context.Context, name string, cfg *config.Retry, fn func(ctx context.Context) error) error {
	var retryCount int
	lastRetryTime := time.Now()

	for {
		err := fn(appCtx)
		if err == nil {
			return nil
		}
		if appCtx.Err() != nil {
			return appCtx.Err()
		}
		log.Error().Err(err).Str("exchange", name).Msg("error occurred")
		if cfg.Number == 0 {
			return fmt.Errorf("not able to connect %v exchange. please check the log for details", name)
		}
		if cfg.ResetSec == 0 || time.Since(lastRetryTime).Seconds() < float64(cfg.ResetSec) {
			retryCount++
		} else {
			retryCount = 1
		}
		lastRetryTime = time.Now()
		if retryCount > cfg.Number {
			return fmt.Errorf("not able to connect %v exchange even after %v retry. please check the log for details", name, cfg.Number)
		}

		log.Error().Str("exchange", name).Int("retry", retryCount).Msg(fmt.Sprintf("retrying functions in %v seconds", cfg.GapSec))
		gap := time.NewTimer(time.Duration(cfg.GapSec) * time.Second)
		select {
		case <-gap.C:

		// Return, if there is any error from another exchange.
		case <-appCtx.Done():
			gap.Stop()
			log.Error().Str("exchange", name).Msg("ctx canceled, return from retry")
			return appCtx.Err()
		}
	}
}

// logErrStack logs error with stack trace.
func logErrStack(err error) {
	log.Error().Stack().Err(errors.WithStack(err)).Msg("")
}
