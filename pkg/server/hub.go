package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/renbarn/match-server/internal/auth"
	"github.com/renbarn/match-server/pkg/config"
	"github.com/renbarn/match-server/pkg/engine"
	"github.com/renbarn/match-server/pkg/events"
	"github.com/renbarn/match-server/pkg/game"
	"github.com/renbarn/match-server/pkg/matchmaking"
	"github.com/renbarn/match-server/pkg/messages"
	"github.com/renbarn/match-server/pkg/protocol"
	"github.com/renbarn/match-server/pkg/rating"
	"github.com/renbarn/match-server/pkg/registry"
)

const authTimeout = 2 * time.Second

// InboundHubMessage are the messages that the hub receives
type InboundHubMessage struct {
	Conn    *Connection             // who sent it
	Message messages.InboundMessage // raw JSON envelope
}

// Hub keeps track of all active connections and routes inbound
// messages: matchmaking commands to the queue, game commands to the
// player's session. It never blocks on an engine call; those run
// inside each session's own loop.
type Hub struct {
	connections map[*Connection]bool // Registered connections
	players     map[string]*Connection

	register   chan *Connection       // Incoming registration
	unregister chan *Connection       // Incoming unregistration
	inbound    chan InboundHubMessage // Channel of inbound messages the hub routes

	shutdown chan struct{}

	authenticator auth.Authenticator
	queue         *matchmaking.Queue
	directory     *registry.Directory
	settler       rating.Settler

	cfg       *config.Config
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewHub creates a new hub. The matchmaking queue is owned by the hub
// because pairing needs the hub's session wiring.
func NewHub(
	cfg *config.Config,
	authenticator auth.Authenticator,
	directory *registry.Directory,
	settler rating.Settler,
	publisher *events.Publisher,
	logger *zap.Logger,
) *Hub {
	h := &Hub{
		connections:   make(map[*Connection]bool),
		players:       make(map[string]*Connection),
		register:      make(chan *Connection),
		unregister:    make(chan *Connection),
		inbound:       make(chan InboundHubMessage),
		shutdown:      make(chan struct{}),
		authenticator: authenticator,
		directory:     directory,
		settler:       settler,
		cfg:           cfg,
		publisher:     publisher,
		logger:        logger,
	}

	h.queue = matchmaking.NewQueue(cfg.QueueStaleAfter, h.createSession, h.notifyEvicted, logger)
	return h
}

// Run is the main execution of the hub
func (h *Hub) Run() {
	h.queue.StartSweeper(h.cfg.QueueSweepInterval)

	for {
		select {
		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case msg := <-h.inbound:
			h.handleInbound(msg)

		case <-h.shutdown:
			return
		}
	}
}

func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.shutdown:
	}
}

// Shutdown stops the hub loop and every active session.
func (h *Hub) Shutdown() {
	close(h.shutdown)
	h.queue.Close()
	h.directory.Shutdown()
}

func (h *Hub) registerConnection(conn *Connection) {
	h.connections[conn] = true
	h.logger.Info("connection registered",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("total", len(h.connections)))
}

func (h *Hub) unregisterConnection(conn *Connection) {
	if _, ok := h.connections[conn]; !ok {
		return
	}
	delete(h.connections, conn)
	conn.closeSend()

	if conn.identity == nil {
		return
	}

	playerID := conn.identity.ID
	// A reconnect may already have replaced this player's connection.
	if h.players[playerID] != conn {
		return
	}
	delete(h.players, playerID)

	if h.queue.Cancel(playerID) {
		h.logger.Info("removed disconnected player from queue",
			zap.String("player_id", playerID))
		return
	}

	if session, ok := h.directory.ByPlayer(playerID); ok {
		// The session starts the reconnect grace timer; the engine
		// keeps running.
		if err := session.Detach(playerID); err != nil {
			h.logger.Warn("detach failed", zap.Error(err))
		}
	}
}

// handleInbound decodes and routes one client message.
func (h *Hub) handleInbound(msg InboundHubMessage) {
	conn := msg.Conn

	switch msg.Message.Type {
	case messages.KindHandshake:
		h.handleHandshake(conn, msg.Message.Payload)

	case messages.KindPing:
		conn.SendJSON(messages.OutboundMessage{Type: messages.KindPong})

	case messages.KindPong:
		// Keep-alive reply to our own ping.

	case messages.KindFindGame:
		h.handleFindGame(conn)

	case messages.KindCancelSearch:
		h.handleCancelSearch(conn)

	case messages.KindMove:
		var payload messages.MovePayload
		if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
			h.sendError(conn, "invalid move payload")
			return
		}
		h.withSession(conn, func(s *game.Session, playerID string) error {
			return s.Move(playerID, payload.Move)
		})

	case messages.KindResign:
		h.withSession(conn, (*game.Session).Resign)

	case messages.KindOfferDraw:
		h.withSession(conn, (*game.Session).OfferDraw)

	case messages.KindAcceptDraw:
		h.withSession(conn, (*game.Session).AcceptDraw)

	case messages.KindDeclineDraw:
		h.withSession(conn, (*game.Session).DeclineDraw)

	case messages.KindCancelDrawOffer:
		h.withSession(conn, (*game.Session).CancelDrawOffer)

	default:
		// Unknown kinds are acknowledged, never fatal to the
		// connection.
		h.sendError(conn, "unknown message type")
	}
}

func (h *Hub) handleHandshake(conn *Connection, payload json.RawMessage) {
	var hs messages.HandshakePayload
	if err := json.Unmarshal(payload, &hs); err != nil || hs.Token == "" {
		h.sendError(conn, "invalid handshake payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	identity, err := h.authenticator.Authenticate(ctx, hs.Token)
	if err != nil {
		h.logger.Warn("authentication failed",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err))
		h.sendError(conn, "not authenticated")
		return
	}

	conn.identity = &identity
	h.players[identity.ID] = conn

	conn.SendJSON(messages.OutboundMessage{
		Type: messages.KindHandshakeAck,
		Payload: messages.HandshakeAckPayload{
			PlayerID: identity.ID,
			Name:     identity.Name,
			Rating:   identity.Rating,
		},
	})

	// Reconnection: re-attach and replay the current snapshot.
	if session, ok := h.directory.ByPlayer(identity.ID); ok {
		if err := session.Attach(identity.ID, h.sendFunc(conn)); err != nil {
			h.logger.Warn("attach failed", zap.Error(err))
		}
	}
}

func (h *Hub) handleFindGame(conn *Connection) {
	identity, ok := h.requireIdentity(conn)
	if !ok {
		return
	}

	if h.playerBusy(identity.ID) {
		h.sendError(conn, "already in a game")
		return
	}

	pos := h.queue.Enqueue(game.Identity(*identity), h.sendFunc(conn))
	if pos > 0 {
		conn.SendJSON(messages.OutboundMessage{
			Type:    messages.KindQueued,
			Payload: messages.QueuedPayload{Position: pos},
		})
	}
}

func (h *Hub) handleCancelSearch(conn *Connection) {
	identity, ok := h.requireIdentity(conn)
	if !ok {
		return
	}

	// If a pairing completed first, the pairing wins; the player gets
	// a game_start instead of a cancellation confirmation. Cancelling
	// twice is a no-op.
	if h.queue.Cancel(identity.ID) {
		conn.SendJSON(messages.OutboundMessage{Type: messages.KindSearchCancelled})
	}
}

// playerBusy reports whether the player belongs to a live session.
// Finished sessions stay in the directory for the retention window so
// late reconnects can read the result; they do not block a new search.
func (h *Hub) playerBusy(playerID string) bool {
	session, ok := h.directory.ByPlayer(playerID)
	return ok && !session.Finished()
}

func (h *Hub) withSession(conn *Connection, op func(*game.Session, string) error) {
	identity, ok := h.requireIdentity(conn)
	if !ok {
		return
	}
	session, ok := h.directory.ByPlayer(identity.ID)
	if !ok {
		h.sendError(conn, "no active game")
		return
	}
	if err := op(session, identity.ID); err != nil {
		h.sendError(conn, err.Error())
	}
}

// createSession runs under the queue lock: both entries are claimed
// and the session is registered in the same step.
func (h *Hub) createSession(first, second matchmaking.Entry, firstSide, secondSide protocol.Side) {
	white, black := first, second
	if firstSide == protocol.Black {
		white, black = second, first
	}

	params := game.Params{
		ID:          uuid.New(),
		White:       white.Identity,
		Black:       black.Identity,
		WhiteSend:   white.Send,
		BlackSend:   black.Send,
		GracePeriod: h.cfg.ReconnectGrace,
		Factory:     h.driverFactory(),
		Settler:     h.settler,
		Publisher:   h.publisher,
		Logger:      h.logger,
	}

	session := game.NewSession(params)
	h.directory.Add(session)
	go session.Run()

	h.logger.Info("players paired",
		zap.String("session_id", session.ID.String()),
		zap.String("white", white.Identity.Name),
		zap.String("black", black.Identity.Name))
}

func (h *Hub) driverFactory() game.DriverFactory {
	return func() (game.Driver, error) {
		inst, err := engine.New(h.cfg.EnginePath, h.cfg.EngineArgs, h.cfg.EngineReplyTimeout, h.logger)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}
}

func (h *Hub) notifyEvicted(entry matchmaking.Entry) {
	if entry.Send != nil {
		entry.Send(messages.OutboundMessage{
			Type:    messages.KindError,
			Payload: messages.ErrorPayload{Message: "matchmaking timed out, please search again"},
		})
	}
}

func (h *Hub) sendFunc(conn *Connection) game.SendFunc {
	return func(msg messages.OutboundMessage) {
		conn.SendJSON(msg)
	}
}

func (h *Hub) requireIdentity(conn *Connection) (*auth.Identity, bool) {
	if conn.identity == nil {
		h.sendError(conn, "not authenticated")
		return nil, false
	}
	return conn.identity, true
}

func (h *Hub) sendError(conn *Connection, text string) {
	conn.SendJSON(messages.OutboundMessage{
		Type:    messages.KindError,
		Payload: messages.ErrorPayload{Message: text},
	})
}
