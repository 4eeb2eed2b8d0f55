package ws

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is a single websocket connection bound to an authenticated
// user. A user may hold several clients at once (multiple tabs).
type Client struct {
	ID     string
	UserID string
	Email  string

	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	limiter *rate.Limiter

	sendMu    sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, hub *Hub, userID, email string, sendBuffer int, ratePerSecond float64) *Client {
	return &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		Email:   email,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     hub,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)),
	}
}

// trySend queues data for the write pump. A false return means the
// buffer is full and the connection should be dropped; a closing
// connection reports true so the caller skips it silently. The mutex
// pairs every channel send with the close in close(), so a broadcaster
// holding a stale room snapshot can never hit a closed channel.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings. Exactly one writer per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
