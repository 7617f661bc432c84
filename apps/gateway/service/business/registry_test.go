package business

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackedConnection(r *Registry) (*Connection, *fakeSocket) {
	socket := newFakeSocket()
	conn := NewConnection(socket, 1000)
	r.Track(conn)
	return conn, socket
}

func TestRegistry_RegisterRequiresTracking(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(2)

	conn := NewConnection(newFakeSocket(), 1000)
	_, err := r.Register(ctx, conn, &Identity{ID: "u1", IsActive: true})

	require.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestRegistry_RegisterAttachesIdentity(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(2)

	conn, _ := trackedConnection(r)
	evicted, err := r.Register(ctx, conn, &Identity{ID: "u1", IsActive: true})

	require.NoError(t, err)
	assert.Nil(t, evicted)
	assert.Equal(t, "u1", conn.UserID())
	assert.Len(t, r.SocketsFor("u1"), 1)
}

func TestRegistry_EvictsOldestAtCap(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(2)
	identity := &Identity{ID: "u1", IsActive: true}

	first, _ := trackedConnection(r)
	_, err := r.Register(ctx, first, identity)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond) // distinct accept times

	second, _ := trackedConnection(r)
	_, err = r.Register(ctx, second, identity)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	third, _ := trackedConnection(r)
	evicted, err := r.Register(ctx, third, identity)
	require.NoError(t, err)

	// The new connection is always accepted; the oldest one is handed back
	// for teardown.
	require.NotNil(t, evicted)
	assert.Equal(t, first.ID(), evicted.ID())

	conns := r.SocketsFor("u1")
	assert.Len(t, conns, 2)
	for _, c := range conns {
		assert.NotEqual(t, first.ID(), c.ID())
	}

	// The evicted connection is gone from the tracked set too.
	_, ok := r.Get(first.ID())
	assert.False(t, ok)
}

func TestRegistry_FirstConnectionHookFiresOnce(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(5)

	var onlineCount int
	r.onFirstConnection = func(_ context.Context, _ *Identity) { onlineCount++ }

	identity := &Identity{ID: "u1", IsActive: true}
	for range 3 {
		conn, _ := trackedConnection(r)
		_, err := r.Register(ctx, conn, identity)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, onlineCount, "online hook must fire only for the first connection")
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(5)

	var offlineCount int
	r.onLastDisconnect = func(_ context.Context, _ *Identity) { offlineCount++ }

	conn, _ := trackedConnection(r)
	_, err := r.Register(ctx, conn, &Identity{ID: "u1", IsActive: true})
	require.NoError(t, err)

	r.Unregister(ctx, conn.ID())
	r.Unregister(ctx, conn.ID())
	r.Unregister(ctx, "never-existed")

	assert.Equal(t, 1, offlineCount, "offline hook must fire exactly once")
	assert.Equal(t, 0, r.ConnectionCount())
}

func TestRegistry_LastDisconnectOnlyWhenAllGone(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(5)

	var offlineCount int
	r.onLastDisconnect = func(_ context.Context, _ *Identity) { offlineCount++ }

	identity := &Identity{ID: "u1", IsActive: true}
	a, _ := trackedConnection(r)
	b, _ := trackedConnection(r)
	_, err := r.Register(ctx, a, identity)
	require.NoError(t, err)
	_, err = r.Register(ctx, b, identity)
	require.NoError(t, err)

	r.Unregister(ctx, a.ID())
	assert.Equal(t, 0, offlineCount, "user still has a live connection")

	r.Unregister(ctx, b.ID())
	assert.Equal(t, 1, offlineCount)
}

func TestRegistry_SocketsForSkipsDisconnected(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(5)

	identity := &Identity{ID: "u1", IsActive: true}
	conn, socket := trackedConnection(r)
	_, err := r.Register(ctx, conn, identity)
	require.NoError(t, err)

	socket.Disconnect("test")

	assert.Empty(t, r.SocketsFor("u1"))
}

func TestRegistry_StatsCountsOnly(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(5)

	// One unauthenticated, two authenticated connections for one user.
	trackedConnection(r)
	a, _ := trackedConnection(r)
	b, _ := trackedConnection(r)
	identity := &Identity{ID: "u1", IsActive: true}
	_, err := r.Register(ctx, a, identity)
	require.NoError(t, err)
	_, err = r.Register(ctx, b, identity)
	require.NoError(t, err)

	stats := r.snapshotStats()
	assert.Equal(t, 3, stats.Connections)
	assert.Equal(t, 2, stats.Authenticated)
	assert.Equal(t, 1, stats.UsersOnline)
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(100)

	var wg sync.WaitGroup
	for g := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			identity := &Identity{ID: "user", IsActive: true}
			for range 20 {
				conn, _ := trackedConnection(r)
				if _, err := r.Register(ctx, conn, identity); err != nil {
					continue
				}
				if n%2 == 0 {
					r.Unregister(ctx, conn.ID())
				}
			}
		}(g)
	}
	wg.Wait()

	stats := r.snapshotStats()
	assert.Equal(t, stats.Connections, stats.Authenticated)
}
