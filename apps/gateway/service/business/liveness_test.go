package business

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sweepMonitor builds a monitor over the gateway's registry without starting
// the background loop; tests drive Sweep directly.
func sweepMonitor(env *testEnv, interval time.Duration) *LivenessMonitor {
	return NewLivenessMonitor(env.gw.registry, env.gw.closeConnection, interval)
}

func backdateHeartbeat(conn *Connection, age time.Duration) {
	conn.lastHeartbeat.Store(time.Now().Add(-age).Unix())
}

func TestLiveness_SweepEvictsStaleConnections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, defaultTestOptions())
	lm := sweepMonitor(env, time.Second)

	stale, staleSocket := authedConnection(t, env, "u1")
	fresh, freshSocket := authedConnection(t, env, "u2")
	backdateHeartbeat(stale, 10*time.Second)

	lm.Sweep(ctx)

	assert.False(t, staleSocket.Connected())
	assert.Equal(t, CodeHeartbeatTimeout, staleSocket.disconnectReason())
	assert.True(t, freshSocket.Connected())

	_, ok := env.gw.registry.Get(stale.ID())
	assert.False(t, ok)
	_, ok = env.gw.registry.Get(fresh.ID())
	assert.True(t, ok)
}

func TestLiveness_SweepToleratesMissedHeartbeats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, defaultTestOptions())
	lm := sweepMonitor(env, 10*time.Second)

	conn, socket := authedConnection(t, env, "u1")
	// Two missed intervals is still inside the 3x threshold.
	backdateHeartbeat(conn, 20*time.Second)

	lm.Sweep(ctx)

	assert.True(t, socket.Connected())
}

func TestLiveness_SweepIgnoresUnauthenticated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, defaultTestOptions())
	lm := sweepMonitor(env, time.Second)

	socket := newFakeSocket()
	conn, err := env.gw.OnConnect(ctx, socket)
	require.NoError(t, err)
	backdateHeartbeat(conn, time.Hour)

	lm.Sweep(ctx)

	// Pending connections answer to the authentication deadline only.
	assert.True(t, socket.Connected())
}

func TestLiveness_TouchPreventsEviction(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, defaultTestOptions())
	lm := sweepMonitor(env, time.Second)

	conn, socket := authedConnection(t, env, "u1")
	backdateHeartbeat(conn, 10*time.Second)
	conn.Touch()

	lm.Sweep(ctx)

	assert.True(t, socket.Connected())
}

func TestLiveness_TouchNeverMovesBackward(t *testing.T) {
	conn := NewConnection(newFakeSocket(), 1000)
	future := time.Now().Add(time.Hour).Unix()
	conn.lastHeartbeat.Store(future)

	conn.Touch()

	assert.Equal(t, future, conn.LastHeartbeat())
}

func TestLiveness_StopIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx, defaultTestOptions())
	lm := sweepMonitor(env, 10*time.Millisecond)
	lm.Start(ctx)

	lm.Stop()
	lm.Stop()
}
