package main

import (
	"encoding/csv"
	"net/http"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/pairmap"
	"github.com/rs/zerolog/log"
)

// This function will query the exchanges for market info and store it in a csv file.
// Users can look up to this csv file to give symbols in the app configuration.
// CSV file created at ./examples/markets.csv.
func main() {
	if err := os.MkdirAll("./examples", 0755); err != nil {
		log.Error().Err(err).Msg("csv directory create")
		return
	}
	f, err := os.Create("./examples/markets.csv")
	if err != nil {
		log.Error().Err(err).Msg("csv file create")
		return
	}
	w := csv.NewWriter(f)
	defer f.Close()
	defer w.Flush()

	if err = w.Write([]string{"exchange", "market_id", "symbol", "status"}); err != nil {
		log.Error().Err(err).Msg("write csv header")
		return
	}

	// Binance exchange.
	resp, err := http.Get(config.BinanceRESTBaseURL + "exchangeInfo")
	if err != nil {
		log.Error().Err(err).Str("exchange", "binance").Msg("exchange request for markets")
		return
	}
	binanceMarkets := binanceResp{}
	err = jsoniter.NewDecoder(resp.Body).Decode(&binanceMarkets)
	resp.Body.Close()
	if err != nil {
		log.Error().Err(err).Str("exchange", "binance").Msg("convert markets response")
		return
	}
	for _, record := range binanceMarkets.Symbols {
		err = w.Write([]string{"binance", record.Symbol, pairmap.Join(record.BaseAsset, record.QuoteAsset), record.Status})
		if err != nil {
			log.Error().Err(err).Str("exchange", "binance").Msg("write csv")
			return
		}
	}
	log.Info().Str("exchange", "binance").Int("markets", len(binanceMarkets.Symbols)).Msg("markets written")
}

type binanceResp struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}
