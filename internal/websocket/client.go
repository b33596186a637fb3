package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrClientClosed 通道已关闭
	ErrClientClosed = errors.New("websocket client closed")
	// ErrSendBufferFull 发送缓冲区已满
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
	sendBufferSize = 16
)

// Client 代表一个 WebSocket 客户端连接
type Client struct {
	ID      string
	Address string

	conn      *websocket.Conn
	send      chan []byte
	registry  *Registry
	heartbeat time.Duration
	log       *zap.Logger

	// 上次 ping 之后是否收到过 pong
	alive atomic.Bool

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

func newClient(id, address string, conn *websocket.Conn, registry *Registry, heartbeat time.Duration, log *zap.Logger) *Client {
	c := &Client{
		ID:        id,
		Address:   address,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		registry:  registry,
		heartbeat: heartbeat,
		log:       log.With(zap.String("client_id", id), zap.String("address", address)),
		closeCode: websocket.CloseNormalClosure,
	}
	c.alive.Store(true)
	return c
}

// Send 序列化事件并放入发送队列，不阻塞
func (c *Client) Send(ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close 以指定关闭码关闭连接，可重复调用
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

// Alive 连接是否仍然打开
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// readPump 读取客户端消息，直到连接出错或关闭
func (c *Client) readPump() {
	defer func() {
		c.registry.release(c.Address, c)
		c.Close(websocket.CloseNormalClosure, "")
		c.conn.Close()
		c.log.Info("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(2*c.heartbeat + writeWait))
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return c.conn.SetReadDeadline(time.Now().Add(2*c.heartbeat + writeWait))
	})

	for {
		// 客户端不需要主动发送消息，读取仅用于处理控制帧
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump 发送事件并按心跳周期 ping 客户端
//
// 如果在两次 ping 之间没有收到 pong，视为半开连接并终止。
func (c *Client) writePump() {
	ticker := time.NewTicker(c.heartbeat)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.Lock()
				code, reason := c.closeCode, c.closeReason
				c.mu.Unlock()
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("websocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if !c.alive.Swap(false) {
				c.log.Info("heartbeat timeout, terminating connection")
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
