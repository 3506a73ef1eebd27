package connector

import (
	"context"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/pkg/errors"
)

// Websocket is a client websocket connection to an exchange.
type Websocket struct {
	Conn net.Conn
	Cfg  *config.WS
}

// NewWebsocket dials url, giving up after the configured connect timeout.
func NewWebsocket(appCtx context.Context, cfg *config.WS, url string) (Websocket, error) {
	ctx := appCtx
	if cfg.ConnTimeoutSec > 0 {
		timeoutCtx, cancel := context.WithTimeout(appCtx, time.Duration(cfg.ConnTimeoutSec)*time.Second)
		ctx = timeoutCtx
		defer cancel()
	}
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return Websocket{}, err
	}
	return Websocket{Conn: conn, Cfg: cfg}, nil
}

// Write writes data frame on websocket connection.
func (w *Websocket) Write(data []byte) error {
	return wsutil.WriteClientText(w.Conn, data)
}

// WriteJSON encodes v and writes it as a single text frame.
func (w *Websocket) WriteJSON(v interface{}) error {
	frame, err := jsoniter.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode websocket frame")
	}
	return w.Write(frame)
}

// Read reads the next data frame. Server pings are answered while reading.
// A server silent for longer than the configured read timeout is an error.
func (w *Websocket) Read() ([]byte, error) {
	if w.Cfg.ReadTimeoutSec > 0 {
		err := w.Conn.SetReadDeadline(time.Now().Add(time.Duration(w.Cfg.ReadTimeoutSec) * time.Second))
		if err != nil {
			return nil, err
		}
	}
	return wsutil.ReadServerText(w.Conn)
}

// Close closes the websocket connection.
func (w *Websocket) Close() error {
	return w.Conn.Close()
}
