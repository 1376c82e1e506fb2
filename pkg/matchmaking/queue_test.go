package matchmaking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/renbarn/match-server/pkg/game"
	"github.com/renbarn/match-server/pkg/protocol"
)

type pairing struct {
	first, second string
	firstSide     protocol.Side
}

func collectPairs(pairs *[]pairing) PairFunc {
	return func(first, second Entry, firstSide, _ protocol.Side) {
		*pairs = append(*pairs, pairing{
			first:     first.Identity.ID,
			second:    second.Identity.ID,
			firstSide: firstSide,
		})
	}
}

func TestEnqueuePairsFIFO(t *testing.T) {
	var pairs []pairing
	q := NewQueue(time.Minute, collectPairs(&pairs), nil, zap.NewNop())

	assert.Equal(t, 1, q.Enqueue(game.Identity{ID: "a"}, nil))
	require.Len(t, pairs, 0)

	// The second player pairs immediately. No waiting position: the
	// caller sends game_start, not a queued confirmation.
	assert.Equal(t, 0, q.Enqueue(game.Identity{ID: "b"}, nil))
	require.Len(t, pairs, 1)
	assert.Equal(t, "a", pairs[0].first)
	assert.Equal(t, "b", pairs[0].second)
	assert.Equal(t, 0, q.Len())

	// Third player waits for a fourth.
	assert.Equal(t, 1, q.Enqueue(game.Identity{ID: "c"}, nil))
	assert.Equal(t, 1, q.Len())

	assert.Equal(t, 0, q.Enqueue(game.Identity{ID: "d"}, nil))
	require.Len(t, pairs, 2)
	assert.Equal(t, "c", pairs[1].first)
	assert.Equal(t, "d", pairs[1].second)
}

func TestEnqueueIdempotent(t *testing.T) {
	var pairs []pairing
	q := NewQueue(time.Minute, collectPairs(&pairs), nil, zap.NewNop())

	assert.Equal(t, 1, q.Enqueue(game.Identity{ID: "a"}, nil))
	assert.Equal(t, 1, q.Enqueue(game.Identity{ID: "a"}, nil))
	assert.Equal(t, 1, q.Len())
	assert.Len(t, pairs, 0)
}

func TestCancel(t *testing.T) {
	var pairs []pairing
	q := NewQueue(time.Minute, collectPairs(&pairs), nil, zap.NewNop())

	q.Enqueue(game.Identity{ID: "a"}, nil)
	assert.True(t, q.Cancel("a"))
	assert.False(t, q.Cancel("a"))
	assert.Equal(t, 0, q.Len())

	// The cancelled player does not get paired; the next two do.
	q.Enqueue(game.Identity{ID: "b"}, nil)
	assert.Len(t, pairs, 0)

	q.Enqueue(game.Identity{ID: "c"}, nil)
	require.Len(t, pairs, 1)
	assert.Equal(t, "b", pairs[0].first)
	assert.Equal(t, "c", pairs[0].second)
}

func TestSideAlternatesBetweenGames(t *testing.T) {
	var pairs []pairing
	q := NewQueue(time.Minute, collectPairs(&pairs), nil, zap.NewNop())

	q.Enqueue(game.Identity{ID: "a"}, nil)
	q.Enqueue(game.Identity{ID: "b"}, nil)
	require.Len(t, pairs, 1)
	firstSide := pairs[0].firstSide

	// Same pair again: a's side flips.
	q.Enqueue(game.Identity{ID: "a"}, nil)
	q.Enqueue(game.Identity{ID: "b"}, nil)
	require.Len(t, pairs, 2)
	assert.Equal(t, firstSide.Opponent(), pairs[1].firstSide)
}

func TestStaleEntriesEvicted(t *testing.T) {
	evicted := make(chan Entry, 1)
	q := NewQueue(30*time.Millisecond, nil, func(e Entry) { evicted <- e }, zap.NewNop())
	defer q.Close()

	q.Enqueue(game.Identity{ID: "a"}, nil)
	q.StartSweeper(10 * time.Millisecond)

	select {
	case e := <-evicted:
		assert.Equal(t, "a", e.Identity.ID)
	case <-time.After(time.Second):
		t.Fatal("stale entry never evicted")
	}
	assert.Equal(t, 0, q.Len())

	// An evicted player can queue again.
	assert.Equal(t, 1, q.Enqueue(game.Identity{ID: "a"}, nil))
}
