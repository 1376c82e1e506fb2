// Package auth validates session tokens against the external account
// store and resolves them to player identities.
package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrInvalidToken is returned for unknown or expired session tokens.
var ErrInvalidToken = errors.New("invalid session token")

// Identity is the player identity a valid token resolves to.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

// Authenticator checks a session token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// MemoryStore is an in-process token store for single-node runs and
// tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Identity)}
}

// Put registers a token.
func (s *MemoryStore) Put(token string, identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = identity
}

// Revoke removes a token.
func (s *MemoryStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// Authenticate resolves a token to an identity.
func (s *MemoryStore) Authenticate(_ context.Context, token string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.tokens[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return identity, nil
}
