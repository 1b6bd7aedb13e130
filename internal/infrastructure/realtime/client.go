package realtime

import (
	"time"

	"github.com/gorilla/websocket"

	"lokapasar/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one authenticated WebSocket connection bound to a user identity.
// A user may hold several clients at once (multiple devices or tabs).
type Client struct {
	ConnID   string
	UserID   string
	Username string
	Conn     *websocket.Conn
	Send     chan []byte
}

// ReadPump reads inbound frames and hands them to the dispatcher. It runs for
// the lifetime of the connection; returning triggers cleanup.
func (c *Client) ReadPump(d *Dispatcher) {
	defer d.Disconnect(c)

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("realtime: read error for %s: %v", c.UserID, err)
			}
			break
		}
		d.Handle(c, raw)
	}
}

// WritePump drains the send channel onto the wire and keeps the connection
// alive with protocol pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
