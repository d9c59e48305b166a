// Package ws is the websocket transport: it upgrades HTTP requests, runs
// one read loop per connection feeding the dispatcher, and serializes all
// outbound traffic through a per-connection write pump so every recipient
// observes its messages in enqueue order.
package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/MaxwellShipley/OS-zoom-app/internal/protocol"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 64
)

var (
	errConnClosed   = errors.New("ws: connection closed")
	errSlowConsumer = errors.New("ws: send queue full")
)

// Conn wraps one websocket connection. The ID is a ULID, which also
// encodes the creation time.
type Conn struct {
	id     string
	sock   *websocket.Conn
	logger zerolog.Logger

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(sock *websocket.Conn, logger zerolog.Logger) *Conn {
	return &Conn{
		id:     ulid.Make().String(),
		sock:   sock,
		logger: logger,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// ID returns the opaque connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// CreatedAt recovers the connection's creation time from its ULID.
func (c *Conn) CreatedAt() time.Time {
	id, err := ulid.Parse(c.id)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(id.Time())
}

// Send enqueues a command packet for delivery.
func (c *Conn) Send(pkt protocol.Packet) error {
	return c.enqueue(pkt)
}

// SendEvent enqueues a side-channel notification for delivery.
func (c *Conn) SendEvent(ev protocol.Event) error {
	return c.enqueue(ev)
}

func (c *Conn) enqueue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		// A client that cannot drain its queue gets dropped rather than
		// stalling every broadcast behind it.
		c.logger.Warn().Str("conn", c.id).Msg("send queue full, dropping connection")
		c.close()
		return errSlowConsumer
	}
}

// writePump drains the send queue onto the socket. It owns all writes.
func (c *Conn) writePump() {
	defer c.sock.Close()
	for {
		select {
		case data := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-c.done:
			// Flush anything already queued before the close frame.
			for {
				select {
				case data := <-c.send:
					c.sock.SetWriteDeadline(time.Now().Add(writeWait))
					if c.sock.WriteMessage(websocket.TextMessage, data) != nil {
						return
					}
				default:
					c.sock.SetWriteDeadline(time.Now().Add(writeWait))
					c.sock.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *Conn) close() {
	c.once.Do(func() { close(c.done) })
}
