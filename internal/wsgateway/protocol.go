package wsgateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

var errSendBufferFull = errors.New("send buffer full")

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSubscribe    MessageType = "subscribe"
	MessageTypeUnsubscribe  MessageType = "unsubscribe"
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
	MessageTypeSuccess      MessageType = "success"
	MessageTypeError        MessageType = "error"
	MessageTypeNotification MessageType = "notification"
)

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type    string          `json:"type"`
	Symbol  string          `json:"symbol,omitempty"`
	Symbols []string        `json:"symbols,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ServerMessage represents a message to the client
type ServerMessage struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandleClientMessage handles a message from the client
func (c *Connection) HandleClientMessage(msg *ClientMessage) error {
	symbols := msg.Symbols
	if msg.Symbol != "" {
		symbols = append([]string{msg.Symbol}, symbols...)
	}

	switch MessageType(msg.Type) {
	case MessageTypeSubscribe:
		if len(symbols) == 0 {
			return c.SendError("invalid_request", "symbol or symbols field required")
		}
		for _, symbol := range symbols {
			c.Subscribe(symbol)
		}
		logger.Debug("Client subscribed",
			logger.String("connection_id", c.ID),
			logger.String("user_id", c.UserID),
			logger.Strings("symbols", symbols),
		)
		return c.SendSuccess("subscribed", map[string]interface{}{"symbols": symbols})

	case MessageTypeUnsubscribe:
		if len(symbols) == 0 {
			return c.SendError("invalid_request", "symbol or symbols field required")
		}
		for _, symbol := range symbols {
			c.Unsubscribe(symbol)
		}
		logger.Debug("Client unsubscribed",
			logger.String("connection_id", c.ID),
			logger.String("user_id", c.UserID),
			logger.Strings("symbols", symbols),
		)
		return c.SendSuccess("unsubscribed", map[string]interface{}{"symbols": symbols})

	case MessageTypePing:
		return c.SendPong()

	default:
		return c.SendError("unknown_message_type", fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

// SendSuccess sends a success message to the client
func (c *Connection) SendSuccess(action string, data interface{}) error {
	return c.enqueue(ServerMessage{
		Type: string(MessageTypeSuccess),
		Data: map[string]interface{}{
			"action": action,
			"data":   data,
		},
	})
}

// SendPong sends a pong message to the client
func (c *Connection) SendPong() error {
	return c.enqueue(ServerMessage{Type: string(MessageTypePong)})
}
