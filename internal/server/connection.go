package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size. Larger messages get a typed error
	// without closing the transport.
	maxInboundBytes = 4 * 1024

	// Hard read limit; only a peer ignoring maxInboundBytes errors by a
	// wide margin hits this, and then the connection does close.
	readLimit = 64 * 1024

	// Outbound queue size per transport; overflow closes the transport.
	sendQueueSize = 256
)

var ErrConnectionClosed = websocket.ErrCloseSent

// Connection represents a WebSocket transport to a client
type Connection struct {
	conn       *websocket.Conn
	send       chan *Message
	endpoint   string
	logger     *log.Logger
	dispatcher *Dispatcher
	limiter    *endpointLimiter
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
	playerID   string
	playerName string
	closeOnce  sync.Once

	// writeMu serializes every write on conn. gorilla/websocket permits
	// only one concurrent writer, and CloseWithReason is called from
	// goroutines other than the write pump.
	writeMu sync.Mutex
}

// NewConnection creates a new connection wrapper
func NewConnection(conn *websocket.Conn, endpoint string, logger *log.Logger, dispatcher *Dispatcher, limiter *endpointLimiter) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:       conn,
		send:       make(chan *Message, sendQueueSize),
		endpoint:   endpoint,
		logger:     logger.WithPrefix("conn"),
		dispatcher: dispatcher,
		limiter:    limiter,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins handling the connection
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Done is closed when the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// CloseWithReason sends a final error frame and closes the transport.
func (c *Connection) CloseWithReason(reason string) {
	if msg, err := NewMessage(MessageTypeError, ErrorData{Code: reason, Message: reason}); err == nil {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteJSON(msg)
		c.writeMu.Unlock()
	}
	_ = c.Close()
}

// Endpoint returns the remote endpoint this transport arrived from.
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// Send enqueues a message to the client. A full queue indicates a
// consumer that cannot keep up; the transport is closed rather than
// letting one slow reader block the room.
func (c *Connection) Send(msg *Message) error {
	defer func() {
		if r := recover(); r != nil {
			// Channel closed during shutdown.
			c.logger.Debug("Attempted to send message on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("Connection send buffer full, closing connection", "player", c.PlayerID())
		c.CloseWithReason(CloseReasonSlowConsumer)
		return ErrConnectionClosed
	}
}

// SetPlayer associates this connection with a verified identity
func (c *Connection) SetPlayer(playerID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = playerID
	c.playerName = name
}

// PlayerID returns the associated player ID, or "" before authentication.
func (c *Connection) PlayerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

// PlayerName returns the display name from the verified identity.
func (c *Connection) PlayerName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerName
}

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer func() {
		_ = c.Close()
		c.dispatcher.HandleTransportClosed(c)
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		if !c.limiter.AllowMessage(c.endpoint) {
			c.logger.Warn("Endpoint exceeded message rate limit", "endpoint", c.endpoint)
			c.CloseWithReason(CloseReasonRateLimited)
			return
		}

		if len(raw) > maxInboundBytes {
			c.sendError(ErrCodeMalformed, "message exceeds 4KiB limit")
			continue
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(ErrCodeMalformed, "failed to parse message")
			continue
		}

		c.dispatcher.HandleMessage(c, &msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.writeMu.Unlock()
				return
			}
			err := c.conn.WriteJSON(message)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Error("Failed to write message", "error", err, "player", c.PlayerID())
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// sendError sends an error message to the client
func (c *Connection) sendError(code, message string) {
	errorMsg, err := NewMessage(MessageTypeError, ErrorData{
		Code:    code,
		Message: message,
	})
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}
	_ = c.Send(errorMsg)
}
