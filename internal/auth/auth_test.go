package auth

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Authenticate(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)

	store.Put("tok-1", Identity{ID: "p1", Name: "Alice", Rating: 1400})

	identity, err := store.Authenticate(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", identity.ID)
	assert.Equal(t, "Alice", identity.Name)
	assert.Equal(t, 1400, identity.Rating)

	store.Revoke("tok-1")
	_, err = store.Authenticate(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Authenticate(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, store.Put(ctx, "tok-1", Identity{ID: "p1", Name: "Alice", Rating: 1400}))

	identity, err := store.Authenticate(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "p1", Name: "Alice", Rating: 1400}, identity)

	require.NoError(t, store.Revoke(ctx, "tok-1"))
	_, err = store.Authenticate(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tok-1", Identity{ID: "p1"}))

	// Session key expires after the TTL elapses with no lookups.
	mr.FastForward(sessionTTL + 1)
	_, err := store.Authenticate(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRedisStoreLookupRefreshesTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tok-1", Identity{ID: "p1"}))

	// Lookups midway through the window keep the session alive.
	mr.FastForward(sessionTTL / 2)
	_, err := store.Authenticate(ctx, "tok-1")
	require.NoError(t, err)

	mr.FastForward(sessionTTL / 2)
	_, err = store.Authenticate(ctx, "tok-1")
	assert.NoError(t, err)
}

func TestRedisStoreGarbageValue(t *testing.T) {
	store, mr := newRedisStore(t)

	mr.Set("session:tok-1", "not json")
	_, err := store.Authenticate(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
