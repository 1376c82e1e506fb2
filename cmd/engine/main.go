// Package main is a reference game-logic process. It speaks the
// line-delimited JSON protocol on stdin/stdout: one request line in,
// one reply line out, no state kept between requests. The server
// spawns one of these per game.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/corentings/chess/v2"

	"github.com/renbarn/match-server/pkg/protocol"
)

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := bufio.NewWriter(os.Stdout)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			writeReply(out, protocol.Reply{Error: "malformed request"})
			continue
		}

		if req.Error == protocol.TerminateSentinel {
			return
		}

		writeReply(out, handle(req))
	}
}

func handle(req protocol.Request) protocol.Reply {
	switch req.Command {
	case protocol.CommandInit:
		game, err := buildGame(req.Board)
		if err != nil {
			return protocol.Reply{Error: err.Error()}
		}
		return describe(game)

	case protocol.CommandMove:
		game, err := buildGame(req.Board)
		if err != nil {
			return protocol.Reply{Error: err.Error()}
		}
		if err := game.PushNotationMove(req.Move, chess.UCINotation{}, nil); err != nil {
			return protocol.Reply{Error: "invalid move"}
		}
		return describe(game)

	default:
		return protocol.Reply{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func buildGame(board string) (*chess.Game, error) {
	if strings.TrimSpace(board) == "" || board == "startpos" {
		return chess.NewGame(), nil
	}
	option, err := chess.FEN(board)
	if err != nil {
		return nil, fmt.Errorf("parse board: %w", err)
	}
	return chess.NewGame(option), nil
}

func describe(game *chess.Game) protocol.Reply {
	pos := game.Position()

	reply := protocol.Reply{
		Board:      game.FEN(),
		NextPlayer: sideToken(pos.Turn()),
	}

	switch game.Outcome() {
	case chess.WhiteWon:
		reply.Winner = protocol.White.Token()
	case chess.BlackWon:
		reply.Winner = protocol.Black.Token()
	case chess.Draw:
		// Terminal draw: no winner, no legal continuation.
		return reply
	}

	if reply.Winner != "" {
		return reply
	}

	uci := chess.UCINotation{}
	for _, mv := range game.ValidMoves() {
		reply.LegalNextMoves = append(reply.LegalNextMoves, uci.Encode(pos, &mv))
	}
	return reply
}

func sideToken(c chess.Color) string {
	if c == chess.White {
		return protocol.White.Token()
	}
	return protocol.Black.Token()
}

func writeReply(out *bufio.Writer, reply protocol.Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		data = []byte(`{"error":"internal encode failure"}`)
	}
	out.Write(data)
	out.WriteByte('\n')
	out.Flush()
}
