package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxMsgSize = 64 * 1024
	sendBuffer = 256
)

// Client is one WebSocket subscriber. All writes go through the send channel
// and writePump, so ping, ack, and broadcast frames never race on the
// connection. A full send buffer disconnects the client.
type Client struct {
	hub      *Hub
	tenantID string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func newClient(hub *Hub, tenantID string, conn *websocket.Conn) *Client {
	return &Client{
		hub:      hub,
		tenantID: tenantID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// enqueue queues a frame for delivery. A slow consumer whose buffer is full
// is closed rather than allowed to stall broadcasts.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("websocket send buffer full, dropping client", "tenant_id", c.tenantID)
		c.close()
	}
}

func (c *Client) enqueueFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		c.conn.Close()
		slog.Info("websocket client disconnected", "tenant_id", c.tenantID)
	})
}

// writePump owns all writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain queued frames while we hold the write slot.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump owns all reads. It handles the client-side protocol: subscribe
// frames are acknowledged (informational only, tenant scope already defines
// delivery) and ping frames get a pong with a timestamp.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "tenant_id", c.tenantID, "error", err)
			}
			return
		}
		// Application-level frames reset the liveness deadline too.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			slog.Info("malformed websocket frame", "tenant_id", c.tenantID, "error", err)
			continue
		}

		switch frame.Type {
		case "subscribe":
			c.enqueueFrame(Frame{
				Type:      "subscribed",
				Flags:     frame.Flags,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		case "ping":
			c.enqueueFrame(Frame{
				Type:      "pong",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}
