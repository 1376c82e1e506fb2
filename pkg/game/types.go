// Package game holds the per-game session: the authoritative state
// snapshot, the two player slots and the engine process driving the
// rules. All mutations to one session go through its own run loop, so
// no two operations on the same session ever race.
package game

import (
	"time"

	"github.com/renbarn/match-server/pkg/messages"
	"github.com/renbarn/match-server/pkg/protocol"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusSpawning    Status = "spawning"
	StatusOngoing     Status = "ongoing"
	StatusDrawPending Status = "draw_pending"
	StatusFinished    Status = "finished"
	StatusClosed      Status = "closed"
)

// Outcome is the settled result of a session.
type Outcome string

const (
	OutcomeWhiteWins Outcome = "white"
	OutcomeBlackWins Outcome = "black"
	OutcomeDraw      Outcome = "draw"
	OutcomeAborted   Outcome = "aborted"
)

// End reasons surfaced to clients in game_over.
const (
	ReasonCheckmate     = "checkmate"
	ReasonStalemate     = "stalemate"
	ReasonResignation   = "resignation"
	ReasonAgreement     = "agreement"
	ReasonAbandonment   = "abandonment"
	ReasonEngineFailure = "engine_failure"
	ReasonShutdown      = "server_shutdown"
)

// Identity is the immutable player snapshot taken at pairing time.
type Identity struct {
	ID     string
	Name   string
	Rating int
}

// SendFunc delivers one message to a player's connection. Best-effort;
// a nil SendFunc means the player is currently disconnected.
type SendFunc func(messages.OutboundMessage)

// Result is the final outcome of a finished session.
type Result struct {
	Outcome      Outcome
	Reason       string
	RatingDeltas map[string]int // keyed by side, empty for aborted games
}

// FinishedEvent is the payload published when a session settles, with
// everything a subscriber needs to archive the game.
type FinishedEvent struct {
	SessionID  string
	WhiteID    string
	BlackID    string
	Result     Result
	Moves      []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Driver is the session's view of its engine instance. *engine.Instance
// satisfies it; tests substitute a scripted driver.
type Driver interface {
	Start(initialPosition string) (protocol.Reply, error)
	SubmitMove(board, move string) (protocol.Reply, error)
	Terminate()
}

// DriverFactory spawns the engine process for one session.
type DriverFactory func() (Driver, error)

// slot is one player's seat in the session.
type slot struct {
	identity Identity
	side     protocol.Side
	send     SendFunc
}
