// Package protocol implements the line-delimited JSON contract spoken
// between the server and a spawned game-engine process. Each request is
// one JSON object on one line; the engine answers with exactly one
// reply line.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Engine-side commands.
const (
	CommandInit = "init"
	CommandMove = "move"
)

// TerminateSentinel is written in the Error field of a request to ask
// the engine process to exit cleanly.
const TerminateSentinel = "terminate"

// ErrMalformedReply signals a reply line that could not be decoded.
// The session treats this as fatal; engine state is not recoverable
// mid-protocol.
var ErrMalformedReply = errors.New("malformed engine reply")

// Request is one engine request line.
type Request struct {
	Command string `json:"command"`
	Board   string `json:"board"`
	Move    string `json:"move"`
	Error   string `json:"error,omitempty"`
}

// Reply is one engine reply line. A non-empty Error marks the move
// invalid or the process faulted.
type Reply struct {
	Error          string   `json:"error"`
	Winner         string   `json:"winner"`
	Board          string   `json:"board"`
	NextPlayer     string   `json:"next_player"`
	LegalNextMoves []string `json:"legal_next_moves"`
}

// Side is a session-side color. The engine itself only knows
// "player1" and "player2"; the mapping is fixed for every session:
// player1 is always White, player2 is always Black.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

// Engine-side player tokens.
const (
	tokenPlayer1 = "player1"
	tokenPlayer2 = "player2"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

// Token returns the engine-side token for the side.
func (s Side) Token() string {
	if s == White {
		return tokenPlayer1
	}
	return tokenPlayer2
}

// SideFromToken maps an engine player token to a side. The empty token
// reports ok=false; that is how the engine signals "no winner yet".
func SideFromToken(token string) (Side, bool) {
	switch token {
	case tokenPlayer1:
		return White, true
	case tokenPlayer2:
		return Black, true
	default:
		return "", false
	}
}

// EncodeRequest serializes a request as a single newline-terminated
// line ready to be written to the engine's input stream.
func EncodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return append(data, '\n'), nil
}

// EncodeTerminate builds the terminate sentinel line.
func EncodeTerminate() []byte {
	data, _ := json.Marshal(Request{Error: TerminateSentinel})
	return append(data, '\n')
}

// DecodeReply parses one reply line. Trailing newline and surrounding
// whitespace are tolerated; anything that is not a JSON object with
// the expected shape is ErrMalformedReply.
func DecodeReply(line []byte) (Reply, error) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return Reply{}, fmt.Errorf("%w: empty line", ErrMalformedReply)
	}

	var reply Reply
	if err := json.Unmarshal([]byte(trimmed), &reply); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	if reply.NextPlayer != "" {
		if _, ok := SideFromToken(reply.NextPlayer); !ok {
			return Reply{}, fmt.Errorf("%w: unknown next_player %q", ErrMalformedReply, reply.NextPlayer)
		}
	}
	if reply.Winner != "" {
		if _, ok := SideFromToken(reply.Winner); !ok {
			return Reply{}, fmt.Errorf("%w: unknown winner %q", ErrMalformedReply, reply.Winner)
		}
	}

	return reply, nil
}

// Faulted reports whether the reply carries an engine-side error.
func (r Reply) Faulted() bool {
	return r.Error != ""
}

// WinnerSide returns the winning side for a decisive terminal reply.
func (r Reply) WinnerSide() (Side, bool) {
	return SideFromToken(r.Winner)
}

// Drawn reports whether the reply describes a terminal drawn position:
// no winner and no legal continuation for the side to move.
func (r Reply) Drawn() bool {
	return r.Winner == "" && len(r.LegalNextMoves) == 0
}
