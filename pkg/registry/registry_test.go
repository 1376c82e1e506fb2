package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/renbarn/match-server/pkg/events"
	"github.com/renbarn/match-server/pkg/game"
)

func newTestSession(pub *events.Publisher, whiteID, blackID string) *game.Session {
	return game.NewSession(game.Params{
		ID:        uuid.New(),
		White:     game.Identity{ID: whiteID},
		Black:     game.Identity{ID: blackID},
		Factory:   func() (game.Driver, error) { return nil, errors.New("no engine") },
		Publisher: pub,
		Logger:    zap.NewNop(),
	})
}

func TestAddAndLookup(t *testing.T) {
	d := NewDirectory(zap.NewNop())
	pub := events.NewPublisher()

	s := newTestSession(pub, "w1", "b1")
	d.Add(s)

	got, ok := d.BySession(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	got, ok = d.ByPlayer("w1")
	require.True(t, ok)
	assert.Same(t, s, got)

	got, ok = d.ByPlayer("b1")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = d.ByPlayer("stranger")
	assert.False(t, ok)

	assert.Equal(t, 1, d.Len())
}

func TestRemoveClearsPlayerIndex(t *testing.T) {
	d := NewDirectory(zap.NewNop())
	pub := events.NewPublisher()

	s := newTestSession(pub, "w1", "b1")
	d.Add(s)
	d.Remove(s.ID)

	assert.Equal(t, 0, d.Len())
	_, ok := d.ByPlayer("w1")
	assert.False(t, ok)
	_, ok = d.ByPlayer("b1")
	assert.False(t, ok)

	d.Remove(s.ID) // removing twice is safe
}

func TestPlayerIndexSurvivesUnrelatedRemove(t *testing.T) {
	d := NewDirectory(zap.NewNop())
	pub := events.NewPublisher()

	first := newTestSession(pub, "w1", "b1")
	d.Add(first)
	d.Remove(first.ID)

	// Player re-enters a new session; removing the stale id must not
	// clobber the fresh mapping.
	second := newTestSession(pub, "w1", "b2")
	d.Add(second)
	d.Remove(first.ID)

	got, ok := d.ByPlayer("w1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestJanitorRemovesFinishedSessions(t *testing.T) {
	d := NewDirectory(zap.NewNop())
	pub := events.NewPublisher()
	d.StartJanitor(pub, 20*time.Millisecond)

	// The factory fails, so the session finishes immediately on Run.
	s := newTestSession(pub, "w1", "b1")
	d.Add(s)
	go s.Run()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("janitor never stopped the session")
	}

	assert.Eventually(t, func() bool { return d.Len() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestShutdownStopsEverySession(t *testing.T) {
	d := NewDirectory(zap.NewNop())
	pub := events.NewPublisher()

	first := newTestSession(pub, "w1", "b1")
	second := newTestSession(pub, "w2", "b2")
	d.Add(first)
	d.Add(second)
	go first.Run()
	go second.Run()

	d.Shutdown()

	for _, s := range []*game.Session{first, second} {
		select {
		case <-s.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("session still running after shutdown")
		}
	}
	assert.Equal(t, 0, d.Len())
}
