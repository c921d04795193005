package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dm-service/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBufferSize = 64
)

// Client is a websocket-backed Handle. Frames are queued on a buffered
// channel and written by a single writer goroutine, so pushes from one
// producer reach the peer in order.
type Client struct {
	info ConnInfo
	conn *websocket.Conn
	log  *zap.Logger

	mu     sync.RWMutex
	closed bool
	send   chan []byte
}

// NewClient wraps an upgraded connection. readLimit caps inbound frame size.
func NewClient(conn *websocket.Conn, info ConnInfo, readLimit int64, log *zap.Logger) *Client {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &Client{
		info: info,
		conn: conn,
		log:  log.With(zap.String("conn_id", info.ConnID), zap.String("user_id", info.UserID)),
		send: make(chan []byte, sendBufferSize),
	}
}

func (c *Client) ID() string     { return c.info.ConnID }
func (c *Client) UserID() string { return c.info.UserID }
func (c *Client) Info() ConnInfo { return c.info }

// Push queues event without blocking.
func (c *Client) Push(event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrHandleClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops the writer, which sends a close frame and drops the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadFrames reads inbound frames until the socket fails and hands each
// decoded frame to fn. Malformed frames are skipped.
func (c *Client) ReadFrames(fn func(models.InboundEvent)) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var in models.InboundEvent
		if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
			c.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		fn(in)
	}
}

// WritePump drains the send queue onto the socket and keeps it alive with
// pings. It returns once the queue is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("write failed", zap.Error(err))
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
