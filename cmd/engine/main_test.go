package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renbarn/match-server/pkg/protocol"
)

func TestInitFromStandardPosition(t *testing.T) {
	reply := handle(protocol.Request{Command: protocol.CommandInit})
	require.Empty(t, reply.Error)

	assert.Equal(t, "player1", reply.NextPlayer)
	assert.Len(t, reply.LegalNextMoves, 20)
	assert.Contains(t, reply.LegalNextMoves, "e2e4")
	assert.Empty(t, reply.Winner)
	assert.False(t, reply.Drawn())
}

func TestQuickestMateIsDecisive(t *testing.T) {
	reply := handle(protocol.Request{Command: protocol.CommandInit})
	require.Empty(t, reply.Error)

	for _, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		reply = handle(protocol.Request{
			Command: protocol.CommandMove,
			Board:   reply.Board,
			Move:    mv,
		})
		require.Empty(t, reply.Error, "move %s rejected", mv)
	}

	side, ok := reply.WinnerSide()
	require.True(t, ok)
	assert.Equal(t, protocol.Black, side)
	assert.Empty(t, reply.LegalNextMoves)
}

func TestStalemateIsDrawn(t *testing.T) {
	reply := handle(protocol.Request{
		Command: protocol.CommandInit,
		Board:   "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1",
	})
	require.Empty(t, reply.Error)

	assert.Empty(t, reply.Winner)
	assert.True(t, reply.Drawn())
}

func TestIllegalMoveRejected(t *testing.T) {
	init := handle(protocol.Request{Command: protocol.CommandInit})
	require.Empty(t, init.Error)

	reply := handle(protocol.Request{
		Command: protocol.CommandMove,
		Board:   init.Board,
		Move:    "e2e5",
	})
	assert.Equal(t, "invalid move", reply.Error)
}

func TestBadRequestsRejected(t *testing.T) {
	reply := handle(protocol.Request{Command: protocol.CommandInit, Board: "not a position"})
	assert.NotEmpty(t, reply.Error)

	reply = handle(protocol.Request{Command: "quit"})
	assert.NotEmpty(t, reply.Error)
}
