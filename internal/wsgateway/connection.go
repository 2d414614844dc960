package wsgateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// sendBuffer is the number of outbound messages queued per connection
const sendBuffer = 256

// Connection represents a WebSocket connection with a client.
// All writes to Conn happen on the hub's write pump; everything else
// enqueues on Send.
type Connection struct {
	ID            string
	UserID        string
	Conn          *websocket.Conn
	Send          chan []byte
	Subscriptions map[string]bool // symbol -> subscribed
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	lastPong      time.Time
	createdAt     time.Time
}

// NewConnection creates a new WebSocket connection
func NewConnection(id string, userID string, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:            id,
		UserID:        userID,
		Conn:          conn,
		Send:          make(chan []byte, sendBuffer),
		Subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
		createdAt:     time.Now(),
		lastPong:      time.Now(),
	}
}

// Subscribe subscribes to notifications for a symbol
func (c *Connection) Subscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Subscriptions[models.NormalizeSymbol(symbol)] = true
}

// Unsubscribe unsubscribes from notifications for a symbol
func (c *Connection) Unsubscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Subscriptions, models.NormalizeSymbol(symbol))
}

// IsSubscribed checks if the connection is subscribed to a symbol
func (c *Connection) IsSubscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Subscriptions[models.NormalizeSymbol(symbol)]
}

// ShouldReceive reports whether a notification is delivered to this
// connection. A connection without subscriptions receives everything,
// and system notifications without a symbol go to all connections.
func (c *Connection) ShouldReceive(n *models.Notification) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.Subscriptions) == 0 || n.Symbol == "" {
		return true
	}
	return c.Subscriptions[n.Symbol]
}

// UpdateLastPong updates the last pong time
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last pong time
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Done is closed when the connection is closed
func (c *Connection) Done() <-chan struct{} {
	if c.ctx == nil {
		return nil
	}
	return c.ctx.Done()
}

// Close closes the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

// SendNotification queues a notification, waiting up to one second for room
func (c *Connection) SendNotification(n *models.Notification) error {
	data, err := json.Marshal(ServerMessage{Type: string(MessageTypeNotification), Data: n})
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	case <-c.Done():
		return c.ctx.Err()
	case <-time.After(1 * time.Second):
		logger.Warn("Failed to send notification, channel full",
			logger.String("connection_id", c.ID),
			logger.String("user_id", c.UserID),
		)
		return errSendBufferFull
	}
}

// SendError queues an error message, dropping it if the buffer is full
func (c *Connection) SendError(code string, message string) error {
	return c.enqueue(ServerMessage{
		Type:    string(MessageTypeError),
		Code:    code,
		Message: message,
	})
}

// enqueue queues a control message without blocking
func (c *Connection) enqueue(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	case <-c.Done():
		return c.ctx.Err()
	default:
		return errSendBufferFull
	}
}
