package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/renbarn/match-server/internal/auth"
	"github.com/renbarn/match-server/pkg/events"
	"github.com/renbarn/match-server/pkg/messages"
)

const pingInterval = 30 * time.Second

// Connection is one client websocket. The identity field is written
// only by the hub goroutine after a successful handshake.
type Connection struct {
	ID      uuid.UUID
	ws      *websocket.Conn // The underlying Websocket connection
	hub     *Hub
	send    chan []byte // Buffered channel of outbound messages.
	writeMu sync.Mutex  // Mutex to protect concurrent writes to ws.

	sendMu     sync.Mutex // guards send against SendJSON racing closeSend
	sendClosed bool

	identity *auth.Identity

	publisher *events.Publisher
	logger    *zap.Logger
}

// NewConnection wraps a freshly upgraded websocket.
func NewConnection(
	ws *websocket.Conn,
	hub *Hub,
	publisher *events.Publisher,
	logger *zap.Logger,
) *Connection {
	return &Connection{
		ID:        uuid.New(),
		ws:        ws,
		hub:       hub,
		send:      make(chan []byte, 256), // buffered for outgoing messages
		publisher: publisher,
		logger:    logger,
	}
}

// ReadPump handles inbound messages from the client
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()

		c.publisher.Publish(events.Event{
			Type: events.EventConnectionClosed,
			Payload: map[string]string{
				"connection_id": c.ID.String(),
			},
		})
	}()

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("read error", zap.Error(err))
			}
			break
		}

		// We only handle text
		if msgType != websocket.TextMessage {
			continue
		}

		var inbound messages.InboundMessage
		if err := json.Unmarshal(msg, &inbound); err != nil {
			c.logger.Error("failed to parse inbound JSON", zap.Error(err))
			c.SendJSON(messages.OutboundMessage{
				Type:    messages.KindError,
				Payload: messages.ErrorPayload{Message: "invalid message format"},
			})
			continue
		}

		c.hub.inbound <- InboundHubMessage{
			Conn:    c,
			Message: inbound,
		}
	}
}

// WritePump handles outbound messages to the client and keeps the
// connection alive with periodic pings.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	ping, _ := json.Marshal(messages.OutboundMessage{Type: messages.KindPing})

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Channel closed
				c.logger.Debug(
					"send channel closed for connection",
					zap.String("connection_id", c.ID.String()),
				)
				return
			}
			if err := c.write(message); err != nil {
				c.logger.Error("write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.write(ping); err != nil {
				return
			}
		}
	}
}

func (c *Connection) write(message []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, message)
}

// SendJSON is a helper for sending JSON to this connection. Delivery
// is best-effort: a full send buffer drops the message rather than
// stalling the caller.
func (c *Connection) SendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("error marshaling JSON", zap.Error(err))
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping message",
			zap.String("connection_id", c.ID.String()))
	}
}

// closeSend shuts the outbound channel. A session may still hold a
// SendFunc for this connection; late sends become no-ops instead of
// panics.
func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}
