// Package engine owns one spawned game-logic process per game and
// drives its request/reply protocol. An Instance never has more than
// one outstanding request; callers are serialized by the instance's
// own mutex, and every request is one line out, one line in.
package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/renbarn/match-server/pkg/protocol"
)

// ErrUnresponsive signals that the process failed to answer a request
// within the reply timeout or exited mid-request. The session treats
// this as fatal; the process is never retried.
var ErrUnresponsive = errors.New("engine unresponsive")

// ErrTerminated is returned for requests submitted after Terminate.
var ErrTerminated = errors.New("engine terminated")

// StartError wraps failures to launch the process or to complete the
// init exchange.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return "engine start: " + e.Err.Error() }
func (e *StartError) Unwrap() error { return e.Err }

const (
	killGrace      = 2 * time.Second
	exitDrainGrace = 100 * time.Millisecond
)

// Instance is the server's handle to one engine process.
type Instance struct {
	ID uuid.UUID

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu           sync.Mutex // serializes the request/reply cycle
	replyTimeout time.Duration

	lines  chan []byte
	exited chan struct{}

	terminateOnce sync.Once
	terminated    bool

	logger *zap.Logger
}

// New launches the engine process. The returned instance has not yet
// been initialized; call Start to run the init exchange.
func New(path string, args []string, replyTimeout time.Duration, logger *zap.Logger) (*Instance, error) {
	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &StartError{Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &StartError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &StartError{Err: fmt.Errorf("spawn: %w", err)}
	}

	inst := newInstance(stdin, stdout, replyTimeout, logger)
	inst.cmd = cmd

	go func() {
		_ = cmd.Wait()
		close(inst.exited)
	}()

	return inst, nil
}

// newInstance wires an instance over raw streams. Tests use this to
// script the process side without spawning anything.
func newInstance(stdin io.WriteCloser, stdout io.Reader, replyTimeout time.Duration, logger *zap.Logger) *Instance {
	inst := &Instance{
		ID:           uuid.New(),
		stdin:        stdin,
		replyTimeout: replyTimeout,
		lines:        make(chan []byte, 1),
		exited:       make(chan struct{}),
		logger:       logger,
	}
	go inst.readLoop(stdout)
	return inst
}

// readLoop reassembles full lines from the process output. Partial
// lines are buffered and never surfaced until complete.
func (e *Instance) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		// Buffer the line even when the process has already exited; a
		// final reply written right before exit must not be dropped.
		select {
		case e.lines <- line:
			continue
		default:
		}
		select {
		case e.lines <- line:
		case <-e.exited:
			return
		}
	}
	close(e.lines)
}

// Start runs the init exchange for the requested starting position.
// An empty position asks the engine for its default start state.
func (e *Instance) Start(initialPosition string) (protocol.Reply, error) {
	reply, err := e.exchange(protocol.Request{
		Command: protocol.CommandInit,
		Board:   initialPosition,
	})
	if err != nil {
		return protocol.Reply{}, &StartError{Err: err}
	}
	if reply.Faulted() {
		return protocol.Reply{}, &StartError{Err: fmt.Errorf("init rejected: %s", reply.Error)}
	}
	return reply, nil
}

// SubmitMove sends one move for the given board state and blocks until
// the reply line arrives or the reply timeout elapses.
func (e *Instance) SubmitMove(board, move string) (protocol.Reply, error) {
	return e.exchange(protocol.Request{
		Command: protocol.CommandMove,
		Board:   board,
		Move:    move,
	})
}

func (e *Instance) exchange(req protocol.Request) (protocol.Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminated {
		return protocol.Reply{}, ErrTerminated
	}

	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return protocol.Reply{}, err
	}
	if _, err := e.stdin.Write(data); err != nil {
		return protocol.Reply{}, fmt.Errorf("%w: write: %v", ErrUnresponsive, err)
	}

	timer := time.NewTimer(e.replyTimeout)
	defer timer.Stop()

	select {
	case line, ok := <-e.lines:
		if !ok {
			return protocol.Reply{}, fmt.Errorf("%w: output stream closed", ErrUnresponsive)
		}
		return protocol.DecodeReply(line)
	case <-e.exited:
		// The process may have answered just before exiting; give the
		// read loop a moment to surface that line.
		select {
		case line, ok := <-e.lines:
			if ok {
				return protocol.DecodeReply(line)
			}
		case <-time.After(exitDrainGrace):
		}
		return protocol.Reply{}, fmt.Errorf("%w: process exited", ErrUnresponsive)
	case <-timer.C:
		return protocol.Reply{}, fmt.Errorf("%w: no reply within %s", ErrUnresponsive, e.replyTimeout)
	}
}

// Alive reports whether the process is still running.
func (e *Instance) Alive() bool {
	select {
	case <-e.exited:
		return false
	default:
		return !e.terminated
	}
}

// Terminate asks the process to exit via the terminate sentinel, then
// kills it if it has not gone away within a short grace period. Safe to
// call more than once; only the first call does anything.
func (e *Instance) Terminate() {
	e.terminateOnce.Do(func() {
		e.mu.Lock()
		e.terminated = true
		_, writeErr := e.stdin.Write(protocol.EncodeTerminate())
		_ = e.stdin.Close()
		e.mu.Unlock()

		if writeErr != nil && e.logger != nil {
			e.logger.Debug("terminate sentinel write failed", zap.Error(writeErr))
		}

		if e.cmd == nil {
			return
		}

		select {
		case <-e.exited:
		case <-time.After(killGrace):
			if e.logger != nil {
				e.logger.Warn("engine ignored terminate, killing",
					zap.String("engine_id", e.ID.String()))
			}
			_ = e.cmd.Process.Kill()
			<-e.exited
		}
	})
}
