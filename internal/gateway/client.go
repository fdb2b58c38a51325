package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rankvote/internal/crypto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024
	sendBuffer     = 16
)

// Client is one bound websocket connection.
type Client struct {
	conn     *websocket.Conn
	identity crypto.Identity
	logger   zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, id crypto.Identity, logger zerolog.Logger) *Client {
	return &Client{
		conn:     conn,
		identity: id,
		logger:   logger,
		send:     make(chan []byte, sendBuffer),
	}
}

// enqueue queues msg without blocking. It reports false when the buffer
// is full.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close stops the write pump once queued frames are flushed. Safe to call
// more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendEvent queues a single event for this client only.
func (c *Client) sendEvent(event string, data any) {
	msg, err := json.Marshal(Outbound{Event: event, Data: data})
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	c.enqueue(msg)
}

// writePump owns all writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump delivers inbound frames to handle, one at a time, until the
// connection fails or closes.
func (c *Client) readPump(handle func(*Client, []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		handle(c, data)
	}
}
