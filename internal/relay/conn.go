package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/warpchat/internal/dns"
	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned by Emit after Close or after the relay hung up.
var ErrConnClosed = errors.New("relay connection closed")

// Conn is the chat client's side of a relay connection.
type Conn struct {
	ws       *websocket.Conn
	incoming chan *Message
	outgoing chan *Message
	done     chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

// Dial connects to a relay's websocket endpoint, e.g. ws://host:8080/ws.
func Dial(ctx context.Context, rawURL string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid relay URL %q: scheme must be ws or wss", rawURL)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext:   dns.DialContext,
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c := &Conn{
		ws:       ws,
		incoming: make(chan *Message, 64),
		outgoing: make(chan *Message, 16),
		done:     make(chan struct{}),
		logger:   logger.With("component", "relay-client", "relay", u.Host),
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Emit queues an event for the relay.
func (c *Conn) Emit(event string, payload any) error {
	msg, err := NewMessage(event, payload)
	if err != nil {
		return err
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

// Events returns relay messages. The channel is closed when the
// connection ends.
func (c *Conn) Events() <-chan *Message {
	return c.incoming
}

// Close sends a close frame and tears down the connection.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Conn) readPump() {
	defer func() {
		c.once.Do(func() { close(c.done) })
		c.ws.Close()
		close(c.incoming)
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read error", "error", err)
			}
			return
		}
		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Debug("write error", "error", err)
				c.once.Do(func() { close(c.done) })
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
