package business

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/util"
)

// PresenceTracker derives and broadcasts online/away/offline status to a
// user's social graph. Status lives in process memory only, is advisory and
// is never authoritative across restarts or for access control. Fan out is
// best effort: failures are logged and never fail the primary operation.
type PresenceTracker struct {
	mu       sync.RWMutex
	statuses map[string]PresenceStatus

	graph  SocialGraph
	router *Router
}

// NewPresenceTracker creates a tracker fanning out through the router.
func NewPresenceTracker(graph SocialGraph, router *Router) *PresenceTracker {
	return &PresenceTracker{
		statuses: make(map[string]PresenceStatus),
		graph:    graph,
		router:   router,
	}
}

// SetStatus applies a client supplied status. Implicit connect/disconnect
// transitions take precedence: a status for a user with no live connections
// is ignored.
func (pt *PresenceTracker) SetStatus(ctx context.Context, userID string, status PresenceStatus) {
	if !ValidPresenceStatus(status) {
		util.Log(ctx).WithFields(map[string]any{
			"user_id": userID,
			"status":  string(status),
		}).Debug("ignoring unknown presence status")
		return
	}

	if len(pt.router.registry.SocketsFor(userID)) == 0 {
		return
	}

	pt.mu.Lock()
	pt.statuses[userID] = status
	pt.mu.Unlock()

	pt.broadcast(ctx, userID, status)
}

// HandleUserOnline is the implicit transition fired when the first
// connection for a user registers.
func (pt *PresenceTracker) HandleUserOnline(ctx context.Context, identity *Identity) {
	pt.mu.Lock()
	pt.statuses[identity.ID] = PresenceOnline
	pt.mu.Unlock()

	pt.broadcast(ctx, identity.ID, PresenceOnline)
}

// HandleUserOffline is the implicit transition fired when the last
// connection for a user unregisters.
func (pt *PresenceTracker) HandleUserOffline(ctx context.Context, identity *Identity) {
	pt.mu.Lock()
	delete(pt.statuses, identity.ID)
	pt.mu.Unlock()

	pt.broadcast(ctx, identity.ID, PresenceOffline)
}

// Status returns the tracked status for a user, defaulting to offline.
func (pt *PresenceTracker) Status(userID string) PresenceStatus {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if status, ok := pt.statuses[userID]; ok {
		return status
	}
	return PresenceOffline
}

// broadcast notifies every follower of the user's new status. Followers with
// no live connections are skipped by the router.
func (pt *PresenceTracker) broadcast(ctx context.Context, userID string, status PresenceStatus) {
	followers, err := pt.graph.FollowersOf(ctx, userID)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).
			Warn("could not resolve followers for presence broadcast")
		return
	}

	payload := map[string]any{
		"userId":    userID,
		"status":    string(status),
		"timestamp": time.Now().UnixMilli(),
	}

	for _, follower := range followers {
		pt.router.SendToUser(ctx, follower, EventFriendStatusChanged, payload)
	}
}
