// Package sink implements the downstream transports records are published to.
package sink

import (
	"net"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/milkywaybrain/cryptorelay/internal/format"
	"github.com/pkg/errors"
)

// ErrUnsupportedChannel is returned by sinks which do not handle a channel.
var ErrUnsupportedChannel = errors.New("channel not supported by sink")

// defaultWriteTimeout bounds every socket write, so a stalled client is dropped instead of blocking the sink.
const defaultWriteTimeout = 5 * time.Second

func writeTimeout(sec int) time.Duration {
	if sec <= 0 {
		return defaultWriteTimeout
	}
	return time.Duration(sec) * time.Second
}

// envelope wraps records broadcast to socket clients, so that they can tell the channel apart.
type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func marshalEnvelope(ch fanout.Channel, record interface{}) ([]byte, error) {
	return jsoniter.Marshal(envelope{Event: ch.String(), Data: record})
}

// recordKey returns the partition key of a record, one per exchange and market.
func recordKey(record interface{}) string {
	switch r := record.(type) {
	case format.OrderBookRecord:
		return r.Source + ":" + r.Asset
	case format.QuoteRecord:
		return r.Source + ":" + r.Asset
	case format.TradeRecord:
		return r.Exchange + ":" + r.Base + r.Quote
	}
	return ""
}

// clients is a set of connected socket clients.
type clients struct {
	mu    sync.Mutex
	conns map[net.Conn]*sync.Mutex
}

func newClients() *clients {
	return &clients{conns: make(map[net.Conn]*sync.Mutex)}
}

func (c *clients) add(conn net.Conn) {
	c.mu.Lock()
	c.conns[conn] = &sync.Mutex{}
	c.mu.Unlock()
}

func (c *clients) remove(conn net.Conn) {
	c.mu.Lock()
	_, ok := c.conns[conn]
	delete(c.conns, conn)
	c.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func (c *clients) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// write calls fn for the client holding its write lock.
func (c *clients) write(conn net.Conn, fn func() error) error {
	c.mu.Lock()
	lock, ok := c.conns[conn]
	c.mu.Unlock()
	if !ok {
		return net.ErrClosed
	}
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// broadcast writes to every client, dropping the ones failing.
func (c *clients) broadcast(timeout time.Duration, fn func(net.Conn) error) {
	c.mu.Lock()
	conns := make([]net.Conn, 0, len(c.conns))
	for conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn := conn
		err := c.write(conn, func() error {
			if timeout <= 0 {
				timeout = defaultWriteTimeout
			}
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return err
			}
			return fn(conn)
		})
		if err != nil {
			c.remove(conn)
		}
	}
}

func (c *clients) closeAll() {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[net.Conn]*sync.Mutex)
	c.mu.Unlock()
	for conn := range conns {
		conn.Close()
	}
}
