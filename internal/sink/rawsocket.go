package sink

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RawSocket fans records out to plain tcp subscribers.
// Every record is one line: channel name, a space, the JSON record.
type RawSocket struct {
	ln           net.Listener
	clients      *clients
	writeTimeout time.Duration
	closeOnce    sync.Once
}

// NewRawSocket binds the fan-out socket to the configured address.
func NewRawSocket(cfg *config.RawSocket) (*RawSocket, error) {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	return &RawSocket{
		ln:           ln,
		clients:      newClients(),
		writeTimeout: writeTimeout(cfg.WriteTimeoutSec),
	}, nil
}

// Name implements fanout.Sink.
func (r *RawSocket) Name() string { return "raw_socket" }

// Addr returns the listening address.
func (r *RawSocket) Addr() net.Addr { return r.ln.Addr() }

// Serve accepts subscribers till ctx is done.
func (r *RawSocket) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.Close()
	}()
	log.Info().Str("sink", r.Name()).Str("address", r.ln.Addr().String()).Msg("raw socket publisher bound")
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return err
		}
		r.clients.add(conn)
		go func() {
			// Subscribers never send anything, reading only detects the disconnect.
			_, _ = io.Copy(io.Discard, conn)
			r.clients.remove(conn)
		}()
	}
}

// Publish implements fanout.Sink.
func (r *RawSocket) Publish(_ context.Context, ch fanout.Channel, record interface{}) error {
	if r.clients.len() == 0 {
		return nil
	}
	payload, err := jsoniter.Marshal(record)
	if err != nil {
		return err
	}
	line := make([]byte, 0, len(payload)+len(ch.String())+2)
	line = append(line, ch.String()...)
	line = append(line, ' ')
	line = append(line, payload...)
	line = append(line, '\n')
	r.clients.broadcast(r.writeTimeout, func(conn net.Conn) error {
		_, err := conn.Write(line)
		return err
	})
	return nil
}

// Close stops accepting subscribers and disconnects the connected ones.
func (r *RawSocket) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.ln.Close()
		r.clients.closeAll()
	})
	return err
}
