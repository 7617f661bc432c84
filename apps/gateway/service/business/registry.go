package business

import (
	"context"
	"sync"

	"github.com/pitabwire/util"
)

// Stats is a counts only diagnostic snapshot for health checks. It never
// carries payload data.
type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	UsersOnline   int `json:"users_online"`
	Rooms         int `json:"rooms"`
}

// Registry exclusively owns the connection→identity and identity→connections
// mappings. No other component mutates them directly; the liveness monitor,
// presence tracker and orchestrator all call back in through its methods.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection            // connection id → connection (all tracked, including unauthenticated)
	users map[string]map[string]*Connection // user id → connection id → connection

	maxPerUser int

	// Presence hooks, assigned once at wiring time. Both are invoked outside
	// the registry lock and must be best effort.
	onFirstConnection func(ctx context.Context, identity *Identity)
	onLastDisconnect  func(ctx context.Context, identity *Identity)
}

// NewRegistry creates a registry enforcing maxPerUser concurrent
// connections per identity.
func NewRegistry(maxPerUser int) *Registry {
	return &Registry{
		conns:      make(map[string]*Connection),
		users:      make(map[string]map[string]*Connection),
		maxPerUser: maxPerUser,
	}
}

// Track records a connection at transport accept time, before
// authentication, so the shutdown coordinator and stats see it.
func (r *Registry) Track(conn *Connection) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
}

// Register attaches an identity to a tracked connection. When the identity
// already owns maxPerUser live connections the oldest one is removed from
// the maps and returned so the caller can finish its teardown; the new
// connection is always accepted.
func (r *Registry) Register(ctx context.Context, conn *Connection, identity *Identity) (*Connection, error) {
	r.mu.Lock()

	if _, tracked := r.conns[conn.ID()]; !tracked {
		r.mu.Unlock()
		return nil, ErrConnectionNotFound
	}

	set := r.users[identity.ID]
	first := len(set) == 0

	var evicted *Connection
	if len(set) >= r.maxPerUser {
		evicted = oldestConnection(set)
		delete(set, evicted.ID())
		delete(r.conns, evicted.ID())
	}

	if set == nil {
		set = make(map[string]*Connection)
		r.users[identity.ID] = set
	}
	conn.identity.Store(identity)
	set[conn.ID()] = conn
	r.mu.Unlock()

	if evicted != nil {
		util.Log(ctx).WithFields(map[string]any{
			"user_id":          identity.ID,
			"evicted_conn_id":  evicted.ID(),
			"accepted_conn_id": conn.ID(),
		}).Info("connection limit reached, evicting oldest connection")
	}

	if first && r.onFirstConnection != nil {
		r.onFirstConnection(ctx, identity)
	}

	return evicted, nil
}

// Unregister removes a connection from the registry maps. It is idempotent:
// calling it twice, or for a connection that was never tracked, is a no-op,
// so the presence offline transition fires at most once.
func (r *Registry) Unregister(ctx context.Context, connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)

	var last bool
	identity := conn.Identity()
	if identity != nil {
		set := r.users[identity.ID]
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, identity.ID)
			last = true
		}
	}
	r.mu.Unlock()

	if last && r.onLastDisconnect != nil {
		r.onLastDisconnect(ctx, identity)
	}
}

// Get returns a tracked connection by id.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	conn, ok := r.conns[connID]
	r.mu.RUnlock()
	return conn, ok
}

// SocketsFor returns the identity's live connections. Races with just closed
// sockets are tolerated by filtering at read time rather than locking.
func (r *Registry) SocketsFor(userID string) []*Connection {
	r.mu.RLock()
	set := r.users[userID]
	conns := make([]*Connection, 0, len(set))
	for _, conn := range set {
		if conn.Connected() {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()
	return conns
}

// ConnectionCount returns the number of tracked connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ForEach calls fn for every tracked connection. It snapshots under a read
// lock and iterates lock free, so fn may safely call back into the registry.
func (r *Registry) ForEach(fn func(*Connection)) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		fn(conn)
	}
}

// snapshotStats fills the registry owned fields of a Stats value.
func (r *Registry) snapshotStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	authenticated := 0
	for _, set := range r.users {
		authenticated += len(set)
	}

	return Stats{
		Connections:   len(r.conns),
		Authenticated: authenticated,
		UsersOnline:   len(r.users),
	}
}

// oldestConnection selects the connection with the earliest accept time.
func oldestConnection(set map[string]*Connection) *Connection {
	var oldest *Connection
	for _, conn := range set {
		if oldest == nil || conn.CreatedAt().Before(oldest.CreatedAt()) {
			oldest = conn
		}
	}
	return oldest
}
