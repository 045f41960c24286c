package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStoreWithClient(client)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestHeartbeatSetsTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Heartbeat(ctx, "worker-1", time.Minute))

	alive, err := store.IsAlive(ctx, "worker-1")
	require.NoError(t, err)
	assert.True(t, alive)

	ttl := mr.TTL("docforge:worker:alive:worker-1")
	assert.Equal(t, time.Minute, ttl)
}

func TestLivenessExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Heartbeat(ctx, "worker-1", time.Minute))
	mr.FastForward(2 * time.Minute)

	alive, err := store.IsAlive(ctx, "worker-1")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestLockMutualExclusion(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.AcquireLock(ctx, "jobs:recovery", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := store.AcquireLock(ctx, "jobs:recovery", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, first.Release(ctx))

	third, err := store.AcquireLock(ctx, "jobs:recovery", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestLockReleaseIsTokenChecked(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	held, err := store.AcquireLock(ctx, "jobs:recovery", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	// Simulate expiry plus reacquisition by another worker.
	mr.FastForward(2 * time.Minute)
	other, err := store.AcquireLock(ctx, "jobs:recovery", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, other)

	// The stale holder's release must not free the new holder's lock.
	require.NoError(t, held.Release(ctx))

	again, err := store.AcquireLock(ctx, "jobs:recovery", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestLockExpiresOnItsOwn(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	held, err := store.AcquireLock(ctx, "jobs:recovery", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, held)

	mr.FastForward(time.Minute)

	next, err := store.AcquireLock(ctx, "jobs:recovery", 30*time.Second)
	require.NoError(t, err)
	assert.NotNil(t, next)
}
