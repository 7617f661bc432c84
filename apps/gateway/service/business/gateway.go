package business

import (
	"context"
	"sync"
	"time"

	"github.com/iscanabdulhalik/swappy-realtime/internal/telemetry"
	"github.com/pitabwire/util"
)

const (
	// shutdownWaitTimeout caps how long Shutdown waits for background
	// goroutines before proceeding anyway.
	shutdownWaitTimeout = 30 * time.Second

	// drainPollInterval is how often DrainConnections re-checks the registry.
	drainPollInterval = 100 * time.Millisecond
)

// Options bounds the gateway's resource usage and timeouts.
type Options struct {
	// AuthTimeout is the hard deadline for the authenticate signal.
	AuthTimeout time.Duration
	// MaxConnectionsPerUser caps concurrent connections per identity.
	MaxConnectionsPerUser int
	// HeartbeatInterval drives the liveness sweep; stale is 3x this value.
	HeartbeatInterval time.Duration
	// ShutdownGrace is how long the server_shutdown notice gets to flush.
	ShutdownGrace time.Duration
	// MaxEventsPerSecond rate limits inbound events per connection.
	MaxEventsPerSecond int
}

// Collaborators are the external services the gateway consults. All of them
// sit behind narrow interfaces so the core is testable without a network or
// a database.
type Collaborators struct {
	Identities IdentityLookup
	Graph      SocialGraph
	Access     ConversationAccess
	Messages   MessageStore
}

// Gateway is the facade business services and the transport layer talk to.
// It owns the registry, router, authenticator, presence tracker and liveness
// monitor, and coordinates graceful shutdown.
type Gateway struct {
	registry      *Registry
	router        *Router
	authenticator *Authenticator
	presence      *PresenceTracker
	liveness      *LivenessMonitor

	access   ConversationAccess
	messages MessageStore

	opts Options

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewGateway wires the core components together and starts the liveness
// sweep.
func NewGateway(ctx context.Context, verifier *CredentialVerifier, deps Collaborators, opts Options) *Gateway {
	gw := &Gateway{
		access:     deps.Access,
		messages:   deps.Messages,
		opts:       opts,
		shutdownCh: make(chan struct{}),
	}

	gw.registry = NewRegistry(opts.MaxConnectionsPerUser)
	gw.router = NewRouter(gw.registry)
	gw.presence = NewPresenceTracker(deps.Graph, gw.router)
	gw.registry.onFirstConnection = gw.presence.HandleUserOnline
	gw.registry.onLastDisconnect = gw.presence.HandleUserOffline

	gw.authenticator = NewAuthenticator(verifier, gw.registry, gw.closeConnection, opts.AuthTimeout)
	gw.liveness = NewLivenessMonitor(gw.registry, gw.closeConnection, opts.HeartbeatInterval)
	gw.liveness.Start(ctx)

	return gw
}

// OnConnect admits a freshly accepted transport socket: it creates the
// Connection, tracks it, sends the connect acknowledgment and arms the
// authentication deadline.
func (gw *Gateway) OnConnect(ctx context.Context, socket ClientSocket) (*Connection, error) {
	select {
	case <-gw.shutdownCh:
		return nil, ErrShuttingDown
	default:
	}

	conn := NewConnection(socket, gw.opts.MaxEventsPerSecond)
	gw.registry.Track(conn)
	telemetry.ConnectionsAcceptedCounter.Add(ctx, 1)

	util.Log(ctx).WithFields(map[string]any{
		"conn_id":     conn.ID(),
		"remote_addr": conn.RemoteAddr(),
	}).Debug("connection accepted")

	_ = conn.Emit(EventConnect, map[string]any{
		"connectionId":  conn.ID(),
		"authTimeoutMs": gw.opts.AuthTimeout.Milliseconds(),
	})

	gw.authenticator.StartDeadline(ctx, conn)
	return conn, nil
}

// OnDisconnect cleans up after a client initiated transport close.
func (gw *Gateway) OnDisconnect(ctx context.Context, conn *Connection) {
	gw.router.LeaveAll(ctx, conn)
	gw.registry.Unregister(ctx, conn.ID())
	telemetry.ConnectionsClosedCounter.Add(ctx, 1)

	util.Log(ctx).WithFields(map[string]any{
		"conn_id":  conn.ID(),
		"user_id":  conn.UserID(),
		"duration": time.Since(conn.CreatedAt()).String(),
	}).Debug("connection closed")
}

// closeConnection is the single idempotent force close path. Every timeout,
// eviction and shutdown funnels through here so cleanup invariants live in
// one place, and a timer firing just after a natural close is a harmless
// no-op.
func (gw *Gateway) closeConnection(ctx context.Context, conn *Connection, reason string) {
	gw.router.LeaveAll(ctx, conn)
	gw.registry.Unregister(ctx, conn.ID())
	conn.Close(reason)

	util.Log(ctx).WithFields(map[string]any{
		"conn_id": conn.ID(),
		"reason":  reason,
	}).Debug("connection force closed")
}

// SendToUser delivers an event to every live connection owned by the user.
// Zero live connections means the event is dropped; durable delivery is an
// upstream concern. Returns the number of sockets written.
func (gw *Gateway) SendToUser(ctx context.Context, userID, event string, payload any) int {
	return gw.router.SendToUser(ctx, userID, event, payload)
}

// SendNotificationToUser delivers a notification event, but only to the
// user's connections that subscribed to notification pushes. Returns the
// number of sockets written.
func (gw *Gateway) SendNotificationToUser(ctx context.Context, userID, event string, payload any) int {
	delivered := 0
	for _, conn := range gw.registry.SocketsFor(userID) {
		if !conn.NotificationsEnabled() {
			continue
		}
		if err := conn.Emit(event, payload); err != nil {
			util.Log(ctx).WithError(err).WithFields(map[string]any{
				"conn_id": conn.ID(),
				"event":   event,
			}).Debug("notification emit failed")
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastToRoom fans an event out to a room, optionally excluding all of
// one user's connections.
func (gw *Gateway) BroadcastToRoom(ctx context.Context, roomKey, event string, payload any, excludeUserID string) {
	gw.router.BroadcastToRoom(ctx, roomKey, event, payload, excludeUserID)
}

// AddToConversation joins a connection to a conversation room on behalf of
// a business service.
func (gw *Gateway) AddToConversation(ctx context.Context, connID, conversationID string) error {
	conn, ok := gw.registry.Get(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	gw.router.Join(ctx, conn, ConversationRoomKey(conversationID))
	return nil
}

// RemoveFromConversation removes a connection from a conversation room.
func (gw *Gateway) RemoveFromConversation(ctx context.Context, connID, conversationID string) error {
	conn, ok := gw.registry.Get(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	gw.router.Leave(ctx, conn, ConversationRoomKey(conversationID))
	return nil
}

// GetConnectionStats returns a counts only snapshot for health checks.
func (gw *Gateway) GetConnectionStats() Stats {
	stats := gw.registry.snapshotStats()
	stats.Rooms = gw.router.RoomCount()
	return stats
}

// Presence exposes the tracker for the inbound event handlers.
func (gw *Gateway) Presence() *PresenceTracker { return gw.presence }

// ShuttingDown reports whether Shutdown has begun. Used to fail readiness
// checks while connections drain.
func (gw *Gateway) ShuttingDown() bool {
	select {
	case <-gw.shutdownCh:
		return true
	default:
		return false
	}
}

// Shutdown drains the gateway: new connections are refused, every tracked
// connection receives a server_shutdown notice, and after a short grace
// period all of them are force closed. In flight authentication attempts
// are abandoned, not awaited. Safe to call more than once.
func (gw *Gateway) Shutdown(ctx context.Context) error {
	gw.shutdownOnce.Do(func() {
		util.Log(ctx).Info("shutting down gateway")
		close(gw.shutdownCh)

		gw.registry.ForEach(func(conn *Connection) {
			_ = conn.Emit(EventServerShutdown, map[string]any{
				"timestamp": time.Now().UnixMilli(),
			})
		})

		select {
		case <-time.After(gw.opts.ShutdownGrace):
		case <-ctx.Done():
		}

		gw.registry.ForEach(func(conn *Connection) {
			gw.closeConnection(ctx, conn, CodeServerShutdown)
		})

		done := make(chan struct{})
		go func() {
			gw.liveness.Stop()
			close(done)
		}()

		select {
		case <-done:
			util.Log(ctx).Info("gateway shutdown complete")
		case <-time.After(shutdownWaitTimeout):
			util.Log(ctx).Warn("gateway shutdown timed out waiting for background tasks")
		}
	})

	return nil
}

// DrainConnections blocks until every tracked connection is gone or the
// context expires.
func (gw *Gateway) DrainConnections(ctx context.Context) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		if gw.registry.ConnectionCount() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			util.Log(ctx).WithField("remaining", gw.registry.ConnectionCount()).
				Warn("drain timed out with connections remaining")
			return
		case <-ticker.C:
		}
	}
}
