package sink

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WebsocketHub broadcasts records to every connected websocket client.
// Each text frame is a JSON object {"event": channel, "data": record}.
type WebsocketHub struct {
	ln           net.Listener
	clients      *clients
	writeTimeout time.Duration
	closeOnce    sync.Once
}

// NewWebsocketHub binds the websocket broadcast server to the configured address.
func NewWebsocketHub(cfg *config.WebsocketSink) (*WebsocketHub, error) {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	return &WebsocketHub{
		ln:           ln,
		clients:      newClients(),
		writeTimeout: writeTimeout(cfg.WriteTimeoutSec),
	}, nil
}

// Name implements fanout.Sink.
func (h *WebsocketHub) Name() string { return "websocket" }

// Addr returns the listening address.
func (h *WebsocketHub) Addr() net.Addr { return h.ln.Addr() }

// Serve accepts websocket clients till ctx is done.
func (h *WebsocketHub) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		h.Close()
	}()
	log.Info().Str("sink", h.Name()).Str("address", h.ln.Addr().String()).Msg("websocket broadcast listening")
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return err
		}
		go h.handshake(conn)
	}
}

func (h *WebsocketHub) handshake(conn net.Conn) {
	if _, err := ws.Upgrade(conn); err != nil {
		log.Debug().Err(err).Str("sink", h.Name()).Str("remote", conn.RemoteAddr().String()).Msg("websocket upgrade failed")
		conn.Close()
		return
	}
	h.clients.add(conn)
	log.Debug().Str("sink", h.Name()).Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")
	h.readLoop(conn)
}

// readLoop discards client data frames and answers pings, until the client goes away.
func (h *WebsocketHub) readLoop(conn net.Conn) {
	defer h.clients.remove(conn)
	for {
		hdr, err := ws.ReadHeader(conn)
		if err != nil {
			return
		}
		switch hdr.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			payload := make([]byte, hdr.Length)
			if _, err = io.ReadFull(conn, payload); err != nil {
				return
			}
			if hdr.Masked {
				ws.Cipher(payload, hdr.Mask, 0)
			}
			err = h.clients.write(conn, func() error {
				return ws.WriteFrame(conn, ws.NewPongFrame(payload))
			})
			if err != nil {
				return
			}
		default:
			if _, err = io.CopyN(io.Discard, conn, hdr.Length); err != nil {
				return
			}
		}
	}
}

// Publish implements fanout.Sink.
func (h *WebsocketHub) Publish(_ context.Context, ch fanout.Channel, record interface{}) error {
	if h.clients.len() == 0 {
		return nil
	}
	data, err := marshalEnvelope(ch, record)
	if err != nil {
		return err
	}
	h.clients.broadcast(h.writeTimeout, func(conn net.Conn) error {
		return ws.WriteFrame(conn, ws.NewTextFrame(data))
	})
	return nil
}

// Close stops accepting clients and disconnects the connected ones.
func (h *WebsocketHub) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.ln.Close()
		h.clients.closeAll()
	})
	return err
}
