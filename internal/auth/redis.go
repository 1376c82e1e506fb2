package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionTTL = 10 * time.Minute

// RedisStore resolves tokens against the shared session database the
// account service writes to. Lookups refresh the session TTL, so an
// active player is never logged out mid-game.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: sessionTTL}
}

func (s *RedisStore) key(token string) string {
	return "session:" + strings.TrimSpace(token)
}

// Put registers a token with the configured TTL.
func (s *RedisStore) Put(ctx context.Context, token string, identity Identity) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(token), raw, s.ttl).Err()
}

// Revoke deletes a token.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, s.key(token)).Err()
}

// Authenticate resolves a token to an identity and refreshes its TTL.
func (s *RedisStore) Authenticate(ctx context.Context, token string) (Identity, error) {
	raw, err := s.rdb.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, ErrInvalidToken
	}
	if err != nil {
		return Identity{}, err
	}

	var identity Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return Identity{}, ErrInvalidToken
	}

	_ = s.rdb.Expire(ctx, s.key(token), s.ttl).Err()
	return identity, nil
}
