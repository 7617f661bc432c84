package business

import (
	"context"
	"sync"

	"github.com/pitabwire/util"
)

// Router manages named broadcast groups. A room is created lazily on first
// join and garbage collected implicitly when its last member leaves; there
// is no persistent room object. Room membership and each connection's
// tracked room list are always mutated together so they stay symmetric.
type Router struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Connection // room key → connection id → connection

	registry *Registry
}

// NewRouter creates a router resolving per user delivery through the given
// registry.
func NewRouter(registry *Registry) *Router {
	return &Router{
		rooms:    make(map[string]map[string]*Connection),
		registry: registry,
	}
}

// Join adds a connection to a room.
func (rt *Router) Join(ctx context.Context, conn *Connection, roomKey string) {
	rt.mu.Lock()
	members := rt.rooms[roomKey]
	if members == nil {
		members = make(map[string]*Connection)
		rt.rooms[roomKey] = members
	}
	members[conn.ID()] = conn
	conn.addRoom(roomKey)
	rt.mu.Unlock()

	util.Log(ctx).WithFields(map[string]any{
		"conn_id":  conn.ID(),
		"room_key": roomKey,
	}).Debug("connection joined room")
}

// Leave removes a connection from a room. No-op when the connection is not
// a member.
func (rt *Router) Leave(ctx context.Context, conn *Connection, roomKey string) {
	rt.mu.Lock()
	rt.removeLocked(conn, roomKey)
	rt.mu.Unlock()

	util.Log(ctx).WithFields(map[string]any{
		"conn_id":  conn.ID(),
		"room_key": roomKey,
	}).Debug("connection left room")
}

// LeaveAll removes a connection from every room it belongs to. Part of the
// single teardown path; idempotent.
func (rt *Router) LeaveAll(_ context.Context, conn *Connection) {
	rt.mu.Lock()
	for _, roomKey := range conn.Rooms() {
		rt.removeLocked(conn, roomKey)
	}
	rt.mu.Unlock()
}

// removeLocked deletes membership on both sides. Caller holds rt.mu.
func (rt *Router) removeLocked(conn *Connection, roomKey string) {
	members, ok := rt.rooms[roomKey]
	if !ok {
		return
	}
	delete(members, conn.ID())
	if len(members) == 0 {
		delete(rt.rooms, roomKey)
	}
	conn.removeRoom(roomKey)
}

// BroadcastToRoom delivers an event to every live connection in the room.
// When excludeUserID is non empty, all connections owned by that user are
// skipped. Delivery to each socket is independent; a slow consumer never
// blocks its peers.
func (rt *Router) BroadcastToRoom(ctx context.Context, roomKey, event string, payload any, excludeUserID string) {
	rt.mu.RLock()
	members := rt.rooms[roomKey]
	targets := make([]*Connection, 0, len(members))
	for _, conn := range members {
		if excludeUserID != "" && conn.UserID() == excludeUserID {
			continue
		}
		if conn.Connected() {
			targets = append(targets, conn)
		}
	}
	rt.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Emit(event, payload); err != nil {
			util.Log(ctx).WithError(err).WithFields(map[string]any{
				"conn_id":  conn.ID(),
				"room_key": roomKey,
				"event":    event,
			}).Debug("room broadcast delivery failed")
		}
	}
}

// SendToUser delivers an event to every live connection owned by the user.
// A user with zero live connections silently drops the event: delivery here
// is at-most-once and best effort, durable storage is a collaborator's
// responsibility. Returns the number of sockets the event was written to.
func (rt *Router) SendToUser(ctx context.Context, userID, event string, payload any) int {
	delivered := 0
	for _, conn := range rt.registry.SocketsFor(userID) {
		if err := conn.Emit(event, payload); err != nil {
			util.Log(ctx).WithError(err).WithFields(map[string]any{
				"conn_id": conn.ID(),
				"user_id": userID,
				"event":   event,
			}).Debug("user delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// MembersOf returns the connection ids currently joined to a room.
func (rt *Router) MembersOf(roomKey string) []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	members := rt.rooms[roomKey]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// RoomCount returns the number of live rooms.
func (rt *Router) RoomCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.rooms)
}
