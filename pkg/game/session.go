package game

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/renbarn/match-server/pkg/events"
	"github.com/renbarn/match-server/pkg/messages"
	"github.com/renbarn/match-server/pkg/protocol"
	"github.com/renbarn/match-server/pkg/rating"
)

type commandKind int

const (
	cmdMove commandKind = iota
	cmdResign
	cmdOfferDraw
	cmdAcceptDraw
	cmdDeclineDraw
	cmdCancelDrawOffer
	cmdAttach
	cmdDetach
	cmdGraceExpired
	cmdStop
)

type command struct {
	kind     commandKind
	playerID string
	move     string
	send     SendFunc
}

// ErrSessionBusy is reported when a session's command queue is full,
// which only happens while its engine is stuck in a request.
var ErrSessionBusy = errors.New("session busy")

// Params carries everything a new session needs.
type Params struct {
	ID              uuid.UUID
	White, Black    Identity
	WhiteSend       SendFunc
	BlackSend       SendFunc
	InitialPosition string
	GracePeriod     time.Duration
	Factory         DriverFactory
	Settler         rating.Settler
	Publisher       *events.Publisher
	Logger          *zap.Logger
}

// Session is one game between two players, driven by one engine
// process. All state below the commands channel is owned by the run
// loop goroutine.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	commands chan command
	done     chan struct{}
	terminal atomic.Bool

	factory   DriverFactory
	settler   rating.Settler
	publisher *events.Publisher
	logger    *zap.Logger

	initialPosition string
	gracePeriod     time.Duration

	// run-loop state
	driver      Driver
	status      Status
	board       string
	nextTurn    protocol.Side
	legalMoves  []string
	history     []string
	drawOfferBy protocol.Side
	slots       map[protocol.Side]*slot
	result      *Result
	graceTimers map[string]*time.Timer
	finishedAt  time.Time
}

// NewSession creates the session in the waiting state. Run must be
// called exactly once to spawn the engine and start processing.
func NewSession(p Params) *Session {
	s := &Session{
		ID:              p.ID,
		CreatedAt:       time.Now(),
		commands:        make(chan command, 32),
		done:            make(chan struct{}),
		factory:         p.Factory,
		settler:         p.Settler,
		publisher:       p.Publisher,
		logger:          p.Logger.With(zap.String("session_id", p.ID.String())),
		initialPosition: p.InitialPosition,
		gracePeriod:     p.GracePeriod,
		status:          StatusWaiting,
		graceTimers:     make(map[string]*time.Timer),
		slots: map[protocol.Side]*slot{
			protocol.White: {identity: p.White, side: protocol.White, send: p.WhiteSend},
			protocol.Black: {identity: p.Black, side: protocol.Black, send: p.BlackSend},
		},
	}
	return s
}

// Players returns the two player ids.
func (s *Session) Players() (string, string) {
	return s.slots[protocol.White].identity.ID, s.slots[protocol.Black].identity.ID
}

// Run spawns the engine and processes commands until Stop. It is the
// only goroutine that touches session state.
func (s *Session) Run() {
	s.publisher.Publish(events.Event{
		Type:      events.EventSessionCreated,
		SessionID: s.ID.String(),
	})

	s.spawn()

	for cmd := range s.commands {
		if cmd.kind == cmdStop {
			break
		}
		s.dispatch(cmd)
	}

	s.shutdown()
}

func (s *Session) spawn() {
	s.status = StatusSpawning

	driver, err := s.factory()
	if err != nil {
		s.logger.Error("engine failed to start", zap.Error(err))
		s.finish(OutcomeAborted, ReasonEngineFailure)
		return
	}
	s.driver = driver

	reply, err := driver.Start(s.initialPosition)
	if err != nil {
		s.logger.Error("engine init failed", zap.Error(err))
		s.finish(OutcomeAborted, ReasonEngineFailure)
		return
	}

	s.applyReply(reply)
	s.status = StatusOngoing

	for side, sl := range s.slots {
		s.sendTo(sl, messages.OutboundMessage{
			Type:    messages.KindGameStart,
			Payload: s.startPayload(side),
		})
	}

	s.logger.Info("game started",
		zap.String("white", s.slots[protocol.White].identity.Name),
		zap.String("black", s.slots[protocol.Black].identity.Name))
}

func (s *Session) dispatch(cmd command) {
	switch cmd.kind {
	case cmdMove:
		s.handleMove(cmd.playerID, cmd.move)
	case cmdResign:
		s.handleResign(cmd.playerID)
	case cmdOfferDraw:
		s.handleOfferDraw(cmd.playerID)
	case cmdAcceptDraw:
		s.handleAcceptDraw(cmd.playerID)
	case cmdDeclineDraw:
		s.handleDeclineDraw(cmd.playerID)
	case cmdCancelDrawOffer:
		s.handleCancelDrawOffer(cmd.playerID)
	case cmdAttach:
		s.handleAttach(cmd.playerID, cmd.send)
	case cmdDetach:
		s.handleDetach(cmd.playerID)
	case cmdGraceExpired:
		s.handleGraceExpired(cmd.playerID)
	}
}

func (s *Session) handleMove(playerID, move string) {
	sl := s.slotFor(playerID)
	if sl == nil {
		return
	}
	if !s.active() {
		s.sendError(sl, "no active game")
		return
	}
	if s.nextTurn != sl.side {
		s.sendError(sl, "not your turn")
		return
	}
	// Reject locally when the mismatch is detectable from the cached
	// legal-move list; otherwise the engine is the arbiter.
	if len(s.legalMoves) > 0 && !contains(s.legalMoves, move) {
		s.sendError(sl, "illegal move")
		return
	}

	reply, err := s.driver.SubmitMove(s.board, move)
	if err != nil {
		s.logger.Error("engine request failed", zap.String("move", move), zap.Error(err))
		s.finish(OutcomeAborted, ReasonEngineFailure)
		return
	}
	if reply.Faulted() {
		s.sendError(sl, "illegal move")
		return
	}

	s.applyReply(reply)
	s.history = append(s.history, move)

	s.broadcast(messages.OutboundMessage{
		Type: messages.KindMoveUpdate,
		Payload: messages.MoveUpdatePayload{
			SessionID:   s.ID.String(),
			Board:       s.board,
			NextTurn:    string(s.nextTurn),
			LegalMoves:  s.legalMoves,
			LastMove:    move,
			MoveHistory: s.history,
		},
	})

	if winner, ok := reply.WinnerSide(); ok {
		s.finishDecisive(winner, ReasonCheckmate)
		return
	}
	if reply.Drawn() {
		s.finish(OutcomeDraw, ReasonStalemate)
	}
}

func (s *Session) handleResign(playerID string) {
	sl := s.slotFor(playerID)
	if sl == nil || !s.active() {
		return
	}
	s.finishDecisive(sl.side.Opponent(), ReasonResignation)
}

func (s *Session) handleOfferDraw(playerID string) {
	sl := s.slotFor(playerID)
	if sl == nil || !s.active() {
		return
	}
	if s.status == StatusDrawPending {
		s.sendError(sl, "a draw offer is already pending")
		return
	}
	if s.nextTurn != sl.side {
		s.sendError(sl, "you can only offer a draw on your turn")
		return
	}

	s.status = StatusDrawPending
	s.drawOfferBy = sl.side
	s.sendTo(s.slots[sl.side.Opponent()], messages.OutboundMessage{
		Type:    messages.KindDrawOffer,
		Payload: messages.DrawOfferPayload{By: string(sl.side)},
	})
}

func (s *Session) handleAcceptDraw(playerID string) {
	sl := s.slotFor(playerID)
	if sl == nil || s.status != StatusDrawPending || sl.side == s.drawOfferBy {
		return
	}
	s.finish(OutcomeDraw, ReasonAgreement)
}

func (s *Session) handleDeclineDraw(playerID string) {
	sl := s.slotFor(playerID)
	// Declining with no offer pending is a no-op, not an error.
	if sl == nil || s.status != StatusDrawPending || sl.side == s.drawOfferBy {
		return
	}
	offerer := s.drawOfferBy
	s.status = StatusOngoing
	s.drawOfferBy = ""
	s.sendTo(s.slots[offerer], messages.OutboundMessage{Type: messages.KindDrawDeclined})
}

func (s *Session) handleCancelDrawOffer(playerID string) {
	sl := s.slotFor(playerID)
	if sl == nil || s.status != StatusDrawPending || sl.side != s.drawOfferBy {
		return
	}
	s.status = StatusOngoing
	s.drawOfferBy = ""
	s.sendTo(s.slots[sl.side.Opponent()], messages.OutboundMessage{Type: messages.KindDrawOfferCancelled})
}

func (s *Session) handleAttach(playerID string, send SendFunc) {
	sl := s.slotFor(playerID)
	if sl == nil {
		return
	}
	sl.send = send

	if timer, ok := s.graceTimers[playerID]; ok {
		timer.Stop()
		delete(s.graceTimers, playerID)
	}

	// Replay the current snapshot so the client resumes without
	// replaying full history.
	switch {
	case s.active():
		s.sendTo(sl, messages.OutboundMessage{
			Type:    messages.KindGameStart,
			Payload: s.startPayload(sl.side),
		})
		if s.status == StatusDrawPending && s.drawOfferBy != sl.side {
			s.sendTo(sl, messages.OutboundMessage{
				Type:    messages.KindDrawOffer,
				Payload: messages.DrawOfferPayload{By: string(s.drawOfferBy)},
			})
		}
	case s.result != nil:
		s.sendTo(sl, s.gameOverMessage())
	}
}

func (s *Session) handleDetach(playerID string) {
	sl := s.slotFor(playerID)
	if sl == nil {
		return
	}
	sl.send = nil

	if !s.active() {
		return
	}

	s.sendTo(s.slots[sl.side.Opponent()], messages.OutboundMessage{
		Type: messages.KindOpponentDisconnected,
		Payload: messages.OpponentDisconnectedPayload{
			GraceSeconds: int(s.gracePeriod.Seconds()),
		},
	})

	if timer, ok := s.graceTimers[playerID]; ok {
		timer.Stop()
	}
	s.graceTimers[playerID] = time.AfterFunc(s.gracePeriod, func() {
		// The queue only fills while the engine is stuck in a request;
		// keep retrying so the forfeit is not lost. enqueue returns nil
		// once the session is done.
		for s.enqueue(command{kind: cmdGraceExpired, playerID: playerID}) != nil {
			s.logger.Warn("command queue full, retrying forfeit",
				zap.String("player_id", playerID))
			time.Sleep(50 * time.Millisecond)
		}
	})
}

func (s *Session) handleGraceExpired(playerID string) {
	sl := s.slotFor(playerID)
	if sl == nil || sl.send != nil || !s.active() {
		return
	}
	s.logger.Info("reconnect grace expired", zap.String("player_id", playerID))
	s.finishDecisive(sl.side.Opponent(), ReasonAbandonment)
}

func (s *Session) finishDecisive(winner protocol.Side, reason string) {
	if winner == protocol.White {
		s.finish(OutcomeWhiteWins, reason)
	} else {
		s.finish(OutcomeBlackWins, reason)
	}
}

// finish settles the result, terminates the engine and notifies both
// players. It is idempotent through the status check in callers: a
// finished session never re-enters finish.
func (s *Session) finish(outcome Outcome, reason string) {
	s.status = StatusFinished
	s.finishedAt = time.Now()
	s.terminal.Store(true)

	for id, timer := range s.graceTimers {
		timer.Stop()
		delete(s.graceTimers, id)
	}

	if s.driver != nil {
		s.driver.Terminate()
	}

	deltas := map[string]int{}
	if outcome != OutcomeAborted && s.settler != nil {
		white := s.slots[protocol.White].identity
		black := s.slots[protocol.Black].identity
		dw, db := s.settler.Settle(
			rating.Rated{ID: white.ID, Rating: white.Rating},
			rating.Rated{ID: black.ID, Rating: black.Rating},
			rating.Result(outcome),
		)
		deltas[string(protocol.White)] = dw
		deltas[string(protocol.Black)] = db
	}

	s.result = &Result{Outcome: outcome, Reason: reason, RatingDeltas: deltas}

	s.broadcast(s.gameOverMessage())

	s.logger.Info("game finished",
		zap.String("outcome", string(outcome)),
		zap.String("reason", reason))

	whiteID, blackID := s.Players()
	s.publisher.Publish(events.Event{
		Type:      events.EventSessionFinished,
		SessionID: s.ID.String(),
		Payload: FinishedEvent{
			SessionID:  s.ID.String(),
			WhiteID:    whiteID,
			BlackID:    blackID,
			Result:     *s.result,
			Moves:      append([]string(nil), s.history...),
			StartedAt:  s.CreatedAt,
			FinishedAt: s.finishedAt,
		},
	})
}

func (s *Session) shutdown() {
	if s.active() || s.status == StatusSpawning {
		s.finish(OutcomeAborted, ReasonShutdown)
	}
	s.status = StatusClosed
	s.terminal.Store(true)
	close(s.done)
	s.publisher.Publish(events.Event{
		Type:      events.EventSessionClosed,
		SessionID: s.ID.String(),
	})
}

// Status-related helpers.

func (s *Session) active() bool {
	return s.status == StatusOngoing || s.status == StatusDrawPending
}

func (s *Session) slotFor(playerID string) *slot {
	for _, sl := range s.slots {
		if sl.identity.ID == playerID {
			return sl
		}
	}
	return nil
}

func (s *Session) applyReply(reply protocol.Reply) {
	s.board = reply.Board
	if side, ok := protocol.SideFromToken(reply.NextPlayer); ok {
		s.nextTurn = side
	}
	s.legalMoves = reply.LegalNextMoves
}

func (s *Session) startPayload(side protocol.Side) messages.GameStartPayload {
	opp := s.slots[side.Opponent()].identity
	return messages.GameStartPayload{
		SessionID:      s.ID.String(),
		Side:           string(side),
		OpponentName:   opp.Name,
		OpponentRating: opp.Rating,
		Board:          s.board,
		NextTurn:       string(s.nextTurn),
		LegalMoves:     s.legalMoves,
		MoveHistory:    s.history,
	}
}

func (s *Session) gameOverMessage() messages.OutboundMessage {
	payload := messages.GameOverPayload{
		Winner: string(s.result.Outcome),
		Reason: s.result.Reason,
	}
	if len(s.result.RatingDeltas) > 0 {
		payload.RatingDeltas = s.result.RatingDeltas
	}
	return messages.OutboundMessage{Type: messages.KindGameOver, Payload: payload}
}

// Outbound delivery: best-effort, a missing connection is skipped.

func (s *Session) broadcast(msg messages.OutboundMessage) {
	for _, sl := range s.slots {
		s.sendTo(sl, msg)
	}
}

func (s *Session) sendTo(sl *slot, msg messages.OutboundMessage) {
	if sl.send != nil {
		sl.send(msg)
	}
}

func (s *Session) sendError(sl *slot, text string) {
	s.sendTo(sl, messages.OutboundMessage{
		Type:    messages.KindError,
		Payload: messages.ErrorPayload{Message: text},
	})
}

func contains(moves []string, move string) bool {
	for _, m := range moves {
		if m == move {
			return true
		}
	}
	return false
}

// Public command API. Each call enqueues onto the session's run loop
// and returns immediately; ErrSessionBusy means the queue is full.

func (s *Session) Move(playerID, move string) error {
	return s.enqueue(command{kind: cmdMove, playerID: playerID, move: move})
}

func (s *Session) Resign(playerID string) error {
	return s.enqueue(command{kind: cmdResign, playerID: playerID})
}

func (s *Session) OfferDraw(playerID string) error {
	return s.enqueue(command{kind: cmdOfferDraw, playerID: playerID})
}

func (s *Session) AcceptDraw(playerID string) error {
	return s.enqueue(command{kind: cmdAcceptDraw, playerID: playerID})
}

func (s *Session) DeclineDraw(playerID string) error {
	return s.enqueue(command{kind: cmdDeclineDraw, playerID: playerID})
}

func (s *Session) CancelDrawOffer(playerID string) error {
	return s.enqueue(command{kind: cmdCancelDrawOffer, playerID: playerID})
}

func (s *Session) Attach(playerID string, send SendFunc) error {
	return s.enqueue(command{kind: cmdAttach, playerID: playerID, send: send})
}

func (s *Session) Detach(playerID string) error {
	return s.enqueue(command{kind: cmdDetach, playerID: playerID})
}

// Stop terminates the session. Idempotent.
func (s *Session) Stop() {
	_ = s.enqueue(command{kind: cmdStop})
}

// Done is closed when the run loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Finished reports whether the session has reached a terminal state.
// Safe to call from any goroutine; the directory keeps finished
// sessions around for the retention window, and callers use this to
// tell result-replay entries from live games.
func (s *Session) Finished() bool {
	return s.terminal.Load()
}

func (s *Session) enqueue(cmd command) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return nil
	default:
		return ErrSessionBusy
	}
}
