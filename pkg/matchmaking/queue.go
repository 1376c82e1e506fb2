// Package matchmaking pairs waiting players into new game sessions,
// first-in-first-out.
package matchmaking

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/renbarn/match-server/pkg/game"
	"github.com/renbarn/match-server/pkg/protocol"
)

// Entry is one waiting player.
type Entry struct {
	Identity   game.Identity
	Send       game.SendFunc
	EnqueuedAt time.Time
}

// PairFunc is invoked when two players are matched. It runs under the
// queue lock so a concurrent pairing or cancel cannot claim either
// entry; it must not block on the engine.
type PairFunc func(first, second Entry, firstSide, secondSide protocol.Side)

// EvictFunc is invoked for entries removed as stale.
type EvictFunc func(Entry)

// Queue holds waiting players. Pairing policy is strict FIFO; there is
// no rating-based matching.
type Queue struct {
	mu      sync.Mutex
	waiting []Entry
	queued  map[string]bool

	// lastSide remembers each player's side from their previous game,
	// a fairness heuristic for assignment.
	lastSide map[string]protocol.Side

	staleAfter time.Duration
	pair       PairFunc
	evict      EvictFunc
	logger     *zap.Logger

	stop chan struct{}
	once sync.Once
}

// NewQueue creates an empty queue.
func NewQueue(staleAfter time.Duration, pair PairFunc, evict EvictFunc, logger *zap.Logger) *Queue {
	return &Queue{
		queued:     make(map[string]bool),
		lastSide:   make(map[string]protocol.Side),
		staleAfter: staleAfter,
		pair:       pair,
		evict:      evict,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Enqueue appends a player to the back of the queue and pairs
// immediately when two entries are present. An already-queued player
// is accepted idempotently, not as an error. Returns the player's
// position among the waiting entries, or 0 when the request was
// satisfied by an immediate pairing.
func (q *Queue) Enqueue(identity game.Identity, send game.SendFunc) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.queued[identity.ID] {
		return q.position(identity.ID)
	}

	q.waiting = append(q.waiting, Entry{
		Identity:   identity,
		Send:       send,
		EnqueuedAt: time.Now(),
	})
	q.queued[identity.ID] = true

	q.logger.Debug("player queued",
		zap.String("player_id", identity.ID),
		zap.Int("waiting", len(q.waiting)))

	q.pairLocked()
	return q.position(identity.ID)
}

// Cancel removes the entry if still queued. Reports whether anything
// was removed; cancelling twice is a no-op. If a pairing completed
// first, the pairing wins and Cancel reports false.
func (q *Queue) Cancel(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.queued[playerID] {
		return false
	}
	q.removeLocked(playerID)
	return true
}

// Len reports the number of waiting players.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// StartSweeper evicts stale entries periodically until Close.
func (q *Queue) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.evictStale()
			case <-q.stop:
				return
			}
		}
	}()
}

// Close stops the sweeper.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.stop) })
}

func (q *Queue) evictStale() {
	q.mu.Lock()
	var evicted []Entry
	kept := q.waiting[:0]
	cutoff := time.Now().Add(-q.staleAfter)
	for _, e := range q.waiting {
		if e.EnqueuedAt.Before(cutoff) {
			evicted = append(evicted, e)
			delete(q.queued, e.Identity.ID)
		} else {
			kept = append(kept, e)
		}
	}
	q.waiting = kept
	q.mu.Unlock()

	for _, e := range evicted {
		q.logger.Info("removed stale matchmaking entry",
			zap.String("player_id", e.Identity.ID))
		if q.evict != nil {
			q.evict(e)
		}
	}
}

// pairLocked matches the two longest-waiting entries. Removal and
// session creation happen in the same step, under the lock.
func (q *Queue) pairLocked() {
	for len(q.waiting) >= 2 {
		first, second := q.waiting[0], q.waiting[1]
		q.waiting = q.waiting[2:]
		delete(q.queued, first.Identity.ID)
		delete(q.queued, second.Identity.ID)

		firstSide := q.sideForLocked(first.Identity.ID)
		secondSide := firstSide.Opponent()
		q.lastSide[first.Identity.ID] = firstSide
		q.lastSide[second.Identity.ID] = secondSide

		q.pair(first, second, firstSide, secondSide)
	}
}

// sideForLocked flips the player's remembered side where known, else
// picks at random. Fairness heuristic, not a correctness requirement.
func (q *Queue) sideForLocked(playerID string) protocol.Side {
	if last, ok := q.lastSide[playerID]; ok {
		return last.Opponent()
	}
	if rand.Intn(2) == 0 {
		return protocol.White
	}
	return protocol.Black
}

func (q *Queue) removeLocked(playerID string) {
	delete(q.queued, playerID)
	for i, e := range q.waiting {
		if e.Identity.ID == playerID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

func (q *Queue) position(playerID string) int {
	for i, e := range q.waiting {
		if e.Identity.ID == playerID {
			return i + 1
		}
	}
	return 0
}
