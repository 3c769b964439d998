package connection

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/natefell/quizarena/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// Rate limit: max 20 messages per second per client
	rateLimitInterval = time.Second / 20

	sendBuffer = 64
)

// MessageHandler receives decoded inbound frames for a client
type MessageHandler interface {
	HandleMessage(c *Client, env protocol.Envelope)
}

// Client is a middleman between one websocket connection and the registry
type Client struct {
	registry *Registry
	conn     *websocket.Conn
	handler  MessageHandler
	send     chan protocol.Envelope

	closeOnce sync.Once
	closed    chan struct{}

	identity    string
	displayName string
	connectedAt time.Time

	lastHeartbeat atomic64Time
	lastMsgAt     time.Time
}

// atomic64Time stores a unix-nano timestamp safely across goroutines
type atomic64Time struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomic64Time) set(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomic64Time) get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

// NewClient wraps an upgraded websocket connection for a validated identity
func NewClient(registry *Registry, conn *websocket.Conn, identity, displayName string, handler MessageHandler) *Client {
	c := &Client{
		registry:    registry,
		conn:        conn,
		handler:     handler,
		send:        make(chan protocol.Envelope, sendBuffer),
		closed:      make(chan struct{}),
		identity:    identity,
		displayName: displayName,
		connectedAt: time.Now(),
	}
	c.lastHeartbeat.set(time.Now())
	return c
}

// Identity returns the validated identity bound to this connection
func (c *Client) Identity() string { return c.identity }

// DisplayName returns the display name carried by the connection token
func (c *Client) DisplayName() string { return c.displayName }

// Start begins the read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Send queues an envelope for delivery. Returns false if the client is
// closed or its buffer is full; delivery is best-effort either way.
func (c *Client) Send(env protocol.Envelope) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// SendError is a convenience for queuing a typed error frame
func (c *Client) SendError(code, message string) {
	c.Send(protocol.NewError(code, message))
}

// Close tears the connection down once; safe to call from any goroutine
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
		c.registry.handleDisconnect(c)
	})
}

// readPump pumps messages from the websocket connection to the handler
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastHeartbeat.set(time.Now())
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.registry.log.Debug("WebSocket read error", "identity", c.identity, "error", err)
			}
			return
		}

		now := time.Now()
		if now.Sub(c.lastMsgAt) < rateLimitInterval {
			c.SendError(protocol.CodeRateLimited, "too many messages")
			continue
		}
		c.lastMsgAt = now

		env, err := protocol.Decode(message)
		if err != nil {
			c.SendError(protocol.CodeInvalidMessage, "malformed message")
			continue
		}

		c.handler.HandleMessage(c, env)
	}
}

// writePump pumps messages from the send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(env)
			if err != nil {
				c.registry.log.Error("Failed to marshal outbound frame", "type", env.Type, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
