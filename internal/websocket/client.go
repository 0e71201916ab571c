package websocket

import (
	"time"

	"keyvex/internal/logging"
	"keyvex/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024

	sendBuffer = 64
)

// Client is one subscriber of a job's events
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	jobID string

	// Buffered channel of outbound messages
	send chan []byte
}

func newClient(h *Hub, conn *websocket.Conn, jobID string) *Client {
	return &Client{hub: h, conn: conn, jobID: jobID, send: make(chan []byte, sendBuffer)}
}

// readPump keeps the read deadline moving and detects disconnects. Job
// sockets are receive-only; inbound frames are discarded.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.L().Debug("job socket closed", zap.String("job_id", c.jobID), zap.Error(err))
			}
			return
		}
		metrics.Get().RecordWebSocketMessage("client", "in")
	}
}

// writePump sends queued events and pings. Each event is its own frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
