package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/milkywaybrain/cryptorelay/internal/format"
	"github.com/pkg/errors"
)

// ElasticSearch is for connecting and indexing quote and trade data to elastic search.
// Records are buffered and bulk indexed once a commit buffer is full.
type ElasticSearch struct {
	ES        *elasticsearch.Client
	IndexName string
	Cfg       *config.ES
	docs      bytes.Buffer
	quotes    int
	trades    int
}

// NewElasticSearch initializes elastic search connection with configured values.
func NewElasticSearch(cfg *config.ES) (*ElasticSearch, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = cfg.MaxIdleConns
	t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: t,
	}
	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := requestCtx(context.Background(), cfg.ReqTimeoutSec)
	defer cancel()
	resp, err := es.Ping(es.Ping.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return &ElasticSearch{
		ES:        es,
		IndexName: cfg.IndexName,
		Cfg:       cfg,
	}, nil
}

// esData holds either quote or trade data which will be sent to elastic search.
type esData struct {
	Channel   string    `json:"channel"`
	Exchange  string    `json:"exchange"`
	Market    string    `json:"market"`
	TradeID   uint64    `json:"trade_id,omitempty"`
	Side      string    `json:"side,omitempty"`
	Size      string    `json:"size,omitempty"`
	Price     string    `json:"price,omitempty"`
	Bid       string    `json:"bid,omitempty"`
	Ask       string    `json:"ask,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// bulkMeta is the action line of every document in a bulk request.
var bulkMeta = []byte("{\"create\":{}}\n")

// Name implements fanout.Sink.
func (e *ElasticSearch) Name() string { return "elastic_search" }

// Publish implements fanout.Sink.
func (e *ElasticSearch) Publish(ctx context.Context, ch fanout.Channel, record interface{}) error {
	var ed esData
	switch r := record.(type) {
	case format.QuoteRecord:
		ed = esData{
			Channel:   "quote",
			Exchange:  r.Source,
			Market:    r.Asset,
			Bid:       r.Bid,
			Ask:       r.Ask,
			Timestamp: parseTimestamp(r.Timestamp),
		}
		e.quotes++
	case format.TradeRecord:
		ed = esData{
			Channel:   "trade",
			Exchange:  r.Exchange,
			Market:    r.Base + r.Quote,
			TradeID:   r.TradeID,
			Side:      r.Side,
			Size:      r.Amount,
			Price:     r.Price,
			Timestamp: parseTimestamp(r.Timestamp),
		}
		e.trades++
	default:
		return errors.Wrapf(ErrUnsupportedChannel, "elastic search %v", ch)
	}
	ed.CreatedAt = time.Now().UTC()
	esBytes, err := jsoniter.Marshal(ed)
	if err != nil {
		return err
	}
	e.docs.Write(bulkMeta)
	e.docs.Write(esBytes)
	e.docs.WriteByte('\n')

	if e.quotes >= e.Cfg.QuoteCommitBuf || e.trades >= e.Cfg.TradeCommitBuf {
		return e.Flush(ctx)
	}
	return nil
}

// Flush bulk indexes buffered documents. The buffer is reset even on error.
func (e *ElasticSearch) Flush(appCtx context.Context) error {
	if e.docs.Len() == 0 {
		return nil
	}
	body := make([]byte, e.docs.Len())
	copy(body, e.docs.Bytes())
	e.docs.Reset()
	e.quotes = 0
	e.trades = 0

	ctx, cancel := requestCtx(appCtx, e.Cfg.ReqTimeoutSec)
	defer cancel()
	resp, err := e.ES.Bulk(bytes.NewReader(body), e.ES.Bulk.WithIndex(e.IndexName), e.ES.Bulk.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("code : %v, status : %v", resp.StatusCode, resp.Status())
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
