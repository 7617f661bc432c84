package business

import (
	"context"
	"sync"
	"time"

	"github.com/iscanabdulhalik/swappy-realtime/internal/telemetry"
	"github.com/pitabwire/util"
)

// staleThresholdMultiplier gives clients tolerance for network jitter: a
// connection may miss two heartbeats before it is considered dead.
const staleThresholdMultiplier = 3

// LivenessMonitor periodically evicts authenticated connections that have
// stopped heartbeating. Unauthenticated connections are governed solely by
// the authentication deadline, never by this monitor, which avoids
// double-timeout races. The sweep iterates a registry snapshot and issues
// closes through the shared teardown path without holding any lock that
// would block authentication or room operations.
type LivenessMonitor struct {
	registry *Registry
	closer   closeFunc

	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLivenessMonitor creates a monitor sweeping at the given interval. The
// stale threshold is 3x the interval.
func NewLivenessMonitor(registry *Registry, closer closeFunc, interval time.Duration) *LivenessMonitor {
	return &LivenessMonitor{
		registry: registry,
		closer:   closer,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (lm *LivenessMonitor) Start(ctx context.Context) {
	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()

		ticker := time.NewTicker(lm.interval)
		defer ticker.Stop()

		for {
			select {
			case <-lm.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				lm.Sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (lm *LivenessMonitor) Stop() {
	lm.stopOnce.Do(func() {
		close(lm.stopCh)
	})
	lm.wg.Wait()
}

// Sweep force closes every authenticated connection whose last heartbeat is
// older than the stale threshold. The last-heartbeat timestamp only moves
// forward, so a live connection is never evicted early; a stale one is
// evicted at most one interval late.
func (lm *LivenessMonitor) Sweep(ctx context.Context) {
	now := time.Now().Unix()
	staleAfter := int64(lm.interval.Seconds()) * staleThresholdMultiplier

	evicted := 0
	lm.registry.ForEach(func(conn *Connection) {
		if conn.State() != StateAuthenticated {
			return
		}
		age := now - conn.LastHeartbeat()
		if age <= staleAfter {
			return
		}

		util.Log(ctx).WithFields(map[string]any{
			"conn_id":     conn.ID(),
			"user_id":     conn.UserID(),
			"age_seconds": age,
		}).Warn("evicting stale connection")

		lm.closer(ctx, conn, CodeHeartbeatTimeout)
		evicted++
	})

	if evicted > 0 {
		telemetry.StaleConnectionsCounter.Add(ctx, int64(evicted))
		util.Log(ctx).WithField("count", evicted).Info("liveness sweep evicted stale connections")
	}
}
