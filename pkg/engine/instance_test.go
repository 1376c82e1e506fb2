package engine

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/renbarn/match-server/pkg/protocol"
)

// scriptedEngine plays the process side of the protocol over in-memory
// pipes so tests never spawn anything.
type scriptedEngine struct {
	inst     *Instance
	requests *bufio.Scanner
	replies  *io.PipeWriter
}

func newScriptedEngine(t *testing.T, replyTimeout time.Duration) *scriptedEngine {
	t.Helper()

	reqR, reqW := io.Pipe()
	repR, repW := io.Pipe()

	t.Cleanup(func() {
		reqR.Close()
		repW.Close()
	})

	return &scriptedEngine{
		inst:     newInstance(reqW, repR, replyTimeout, zap.NewNop()),
		requests: bufio.NewScanner(reqR),
		replies:  repW,
	}
}

// respond consumes the next request line and answers it. Runs in its
// own goroutine because pipe writes block until the other side reads.
func (s *scriptedEngine) respond(t *testing.T, want string, reply string) {
	t.Helper()
	go func() {
		if !s.requests.Scan() {
			return
		}
		var req protocol.Request
		if err := json.Unmarshal(s.requests.Bytes(), &req); err != nil {
			t.Errorf("bad request line %q: %v", s.requests.Text(), err)
			return
		}
		if req.Command != want {
			t.Errorf("got command %q, want %q", req.Command, want)
			return
		}
		io.WriteString(s.replies, reply+"\n")
	}()
}

func TestStartInitExchange(t *testing.T) {
	s := newScriptedEngine(t, time.Second)
	s.respond(t, protocol.CommandInit,
		`{"error":"","winner":"","board":"start-fen","next_player":"player1","legal_next_moves":["e2e4","d2d4"]}`)

	reply, err := s.inst.Start("")
	require.NoError(t, err)

	assert.Equal(t, "start-fen", reply.Board)
	assert.Equal(t, "player1", reply.NextPlayer)
	assert.Len(t, reply.LegalNextMoves, 2)
	assert.True(t, s.inst.Alive())
}

func TestStartRejected(t *testing.T) {
	s := newScriptedEngine(t, time.Second)
	s.respond(t, protocol.CommandInit, `{"error":"bad position","winner":"","board":"","next_player":""}`)

	_, err := s.inst.Start("garbage")
	require.Error(t, err)

	var startErr *StartError
	assert.ErrorAs(t, err, &startErr)
}

func TestSubmitMove(t *testing.T) {
	s := newScriptedEngine(t, time.Second)
	s.respond(t, protocol.CommandMove,
		`{"error":"","winner":"","board":"after-fen","next_player":"player2","legal_next_moves":["e7e5"]}`)

	reply, err := s.inst.SubmitMove("start-fen", "e2e4")
	require.NoError(t, err)

	assert.Equal(t, "after-fen", reply.Board)
	assert.Equal(t, "player2", reply.NextPlayer)
}

func TestSubmitMoveMalformedReply(t *testing.T) {
	s := newScriptedEngine(t, time.Second)
	s.respond(t, protocol.CommandMove, `this is not json`)

	_, err := s.inst.SubmitMove("start-fen", "e2e4")
	assert.ErrorIs(t, err, protocol.ErrMalformedReply)
}

func TestSubmitMoveTimeout(t *testing.T) {
	s := newScriptedEngine(t, 50*time.Millisecond)
	go func() {
		s.requests.Scan() // swallow the request, never answer
	}()

	_, err := s.inst.SubmitMove("start-fen", "e2e4")
	assert.ErrorIs(t, err, ErrUnresponsive)
}

func TestSubmitMoveStreamClosed(t *testing.T) {
	s := newScriptedEngine(t, time.Second)
	go func() {
		s.requests.Scan()
		s.replies.Close()
	}()

	_, err := s.inst.SubmitMove("start-fen", "e2e4")
	assert.ErrorIs(t, err, ErrUnresponsive)
}

func TestSubmitMoveReplyRacesExit(t *testing.T) {
	s := newScriptedEngine(t, time.Second)
	go func() {
		s.requests.Scan()
		// Final reply followed immediately by process exit; the reply
		// must still win.
		io.WriteString(s.replies, `{"error":"","winner":"player1","board":"final","next_player":"player2"}`+"\n")
		time.Sleep(10 * time.Millisecond)
		close(s.inst.exited)
	}()

	reply, err := s.inst.SubmitMove("fen", "h5f7")
	require.NoError(t, err)
	assert.Equal(t, "final", reply.Board)

	side, ok := reply.WinnerSide()
	require.True(t, ok)
	assert.Equal(t, protocol.White, side)
}

func TestTerminateSendsSentinel(t *testing.T) {
	s := newScriptedEngine(t, time.Second)

	sentinel := make(chan protocol.Request, 1)
	go func() {
		if s.requests.Scan() {
			var req protocol.Request
			if json.Unmarshal(s.requests.Bytes(), &req) == nil {
				sentinel <- req
			}
		}
	}()

	s.inst.Terminate()
	s.inst.Terminate() // second call is a no-op

	select {
	case req := <-sentinel:
		assert.Equal(t, protocol.TerminateSentinel, req.Error)
	case <-time.After(time.Second):
		t.Fatal("terminate sentinel never written")
	}

	_, err := s.inst.SubmitMove("fen", "e2e4")
	assert.ErrorIs(t, err, ErrTerminated)
	assert.False(t, s.inst.Alive())
}
