package sink

import (
	"context"
	"database/sql"
	"strings"
	"time"

	// Registers the mysql driver for database/sql.
	_ "github.com/go-sql-driver/mysql"
	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/milkywaybrain/cryptorelay/internal/format"
	"github.com/pkg/errors"
)

// MySQL is for connecting and inserting quote and trade data to mysql.
// Records are buffered and batch inserted once a commit buffer is full.
type MySQL struct {
	DB     *sql.DB
	Cfg    *config.MySQL
	quotes []format.QuoteRecord
	trades []format.TradeRecord
}

// NewMySQL initializes mysql connection with configured values.
func NewMySQL(cfg *config.MySQL) (*MySQL, error) {
	dataSourceName := cfg.User + ":" + cfg.Password + cfg.URL + "/" + cfg.Schema
	db, err := sql.Open("mysql", dataSourceName)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(time.Second * time.Duration(cfg.ConnMaxLifetimeSec))
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	ctx, cancel := requestCtx(context.Background(), cfg.ReqTimeoutSec)
	defer cancel()
	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &MySQL{
		DB:     db,
		Cfg:    cfg,
		quotes: make([]format.QuoteRecord, 0, cfg.QuoteCommitBuf),
		trades: make([]format.TradeRecord, 0, cfg.TradeCommitBuf),
	}, nil
}

// Name implements fanout.Sink.
func (m *MySQL) Name() string { return "mysql" }

// Publish implements fanout.Sink.
func (m *MySQL) Publish(ctx context.Context, ch fanout.Channel, record interface{}) error {
	switch r := record.(type) {
	case format.QuoteRecord:
		m.quotes = append(m.quotes, r)
		if len(m.quotes) >= m.Cfg.QuoteCommitBuf {
			return m.commitQuotes(ctx)
		}
	case format.TradeRecord:
		m.trades = append(m.trades, r)
		if len(m.trades) >= m.Cfg.TradeCommitBuf {
			return m.commitTrades(ctx)
		}
	default:
		return errors.Wrapf(ErrUnsupportedChannel, "mysql %v", ch)
	}
	return nil
}

// Flush inserts buffered records.
func (m *MySQL) Flush(ctx context.Context) error {
	if err := m.commitQuotes(ctx); err != nil {
		return err
	}
	return m.commitTrades(ctx)
}

// Close closes the database.
func (m *MySQL) Close() error {
	return m.DB.Close()
}

// commitQuotes batch inserts buffered quotes. The buffer is reset even on error.
func (m *MySQL) commitQuotes(appCtx context.Context) error {
	if len(m.quotes) == 0 {
		return nil
	}
	data := m.quotes
	m.quotes = make([]format.QuoteRecord, 0, m.Cfg.QuoteCommitBuf)

	var sb strings.Builder
	sb.WriteString("INSERT INTO quote(exchange, market, bid, ask, timestamp, created_at) VALUES ")
	args := make([]interface{}, 0, len(data)*6)
	now := time.Now().UTC()
	for i, q := range data {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, q.Source, q.Asset, q.Bid, q.Ask, parseTimestamp(q.Timestamp), now)
	}
	return m.exec(appCtx, sb.String(), args)
}

// commitTrades batch inserts buffered trades. The buffer is reset even on error.
func (m *MySQL) commitTrades(appCtx context.Context) error {
	if len(m.trades) == 0 {
		return nil
	}
	data := m.trades
	m.trades = make([]format.TradeRecord, 0, m.Cfg.TradeCommitBuf)

	var sb strings.Builder
	sb.WriteString("INSERT INTO trade(exchange, market, trade_id, side, size, price, timestamp, created_at) VALUES ")
	args := make([]interface{}, 0, len(data)*8)
	now := time.Now().UTC()
	for i, t := range data {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, t.Exchange, t.Base+t.Quote, t.TradeID, t.Side, t.Amount, t.Price, parseTimestamp(t.Timestamp), now)
	}
	return m.exec(appCtx, sb.String(), args)
}

func (m *MySQL) exec(appCtx context.Context, query string, args []interface{}) error {
	ctx, cancel := requestCtx(appCtx, m.Cfg.ReqTimeoutSec)
	defer cancel()
	_, err := m.DB.ExecContext(ctx, query, args...)
	return err
}

// requestCtx bounds a storage request with the configured timeout, if any.
func requestCtx(parent context.Context, timeoutSec int) (context.Context, context.CancelFunc) {
	if timeoutSec > 0 {
		return context.WithTimeout(parent, time.Duration(timeoutSec)*time.Second)
	}
	return context.WithCancel(parent)
}

func parseTimestamp(ts string) time.Time {
	t, err := time.Parse(format.Timestamp, ts)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
