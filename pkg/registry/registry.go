// Package registry is the process-wide session directory: session id
// to session, player id to session. Entries are created on pairing and
// removed after result settlement and the retention window.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/renbarn/match-server/pkg/events"
	"github.com/renbarn/match-server/pkg/game"
)

// Directory maps sessions and players. Locks are scoped to individual
// insert/remove/lookup operations, never held across an engine call.
type Directory struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*game.Session
	byPlayer map[string]uuid.UUID

	logger *zap.Logger
}

// NewDirectory creates an empty directory.
func NewDirectory(logger *zap.Logger) *Directory {
	return &Directory{
		sessions: make(map[uuid.UUID]*game.Session),
		byPlayer: make(map[string]uuid.UUID),
		logger:   logger,
	}
}

// Add registers a session and both its players.
func (d *Directory) Add(s *game.Session) {
	whiteID, blackID := s.Players()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.ID] = s
	d.byPlayer[whiteID] = s.ID
	d.byPlayer[blackID] = s.ID
}

// BySession returns a session by id.
func (d *Directory) BySession(id uuid.UUID) (*game.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	return s, ok
}

// ByPlayer returns the session a player belongs to, if any. A player
// slot belongs to at most one active session at a time.
func (d *Directory) ByPlayer(playerID string) (*game.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	s, ok := d.sessions[id]
	return s, ok
}

// Remove deletes the session and its player index entries.
func (d *Directory) Remove(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	if !ok {
		return
	}
	delete(d.sessions, id)
	whiteID, blackID := s.Players()
	if d.byPlayer[whiteID] == id {
		delete(d.byPlayer, whiteID)
	}
	if d.byPlayer[blackID] == id {
		delete(d.byPlayer, blackID)
	}
}

// Len reports the number of registered sessions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// All snapshots the registered sessions.
func (d *Directory) All() []*game.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*game.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

// StartJanitor removes finished sessions once the retention window has
// passed, keeping the entry around long enough for late reconnects to
// see the result.
func (d *Directory) StartJanitor(publisher *events.Publisher, retention time.Duration) {
	publisher.Subscribe(events.EventSessionFinished, func(event events.Event) {
		id, err := uuid.Parse(event.SessionID)
		if err != nil {
			d.logger.Error("invalid session id in finished event", zap.Error(err))
			return
		}
		time.AfterFunc(retention, func() {
			s, ok := d.BySession(id)
			if !ok {
				return
			}
			d.Remove(id)
			s.Stop()
			d.logger.Info("session closed", zap.String("session_id", id.String()))
		})
	})
}

// Shutdown stops every registered session.
func (d *Directory) Shutdown() {
	for _, s := range d.All() {
		d.Remove(s.ID)
		s.Stop()
	}
}
