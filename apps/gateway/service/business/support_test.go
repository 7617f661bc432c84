package business //nolint:testpackage // Tests need access to unexported state machine internals

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// emittedEvent captures one frame written to a fake socket.
type emittedEvent struct {
	Event   string
	Payload any
}

// fakeSocket is an in memory ClientSocket recording everything emitted.
type fakeSocket struct {
	mu        sync.Mutex
	events    []emittedEvent
	connected bool
	reason    string
	addr      string
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{connected: true, addr: "127.0.0.1:51234"}
}

func (f *fakeSocket) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emittedEvent{Event: event, Payload: payload})
	return nil
}

func (f *fakeSocket) Disconnect(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return
	}
	f.connected = false
	f.reason = reason
}

func (f *fakeSocket) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSocket) RemoteAddr() string { return f.addr }

func (f *fakeSocket) disconnectReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

func (f *fakeSocket) eventsNamed(name string) []emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emittedEvent
	for _, e := range f.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// fakeIdentityLookup serves identities from memory and counts lookups so
// tests can assert verification ran exactly once.
type fakeIdentityLookup struct {
	mu       sync.Mutex
	byUID    map[string]*Identity
	byID     map[string]*Identity
	err      error
	lookups  atomic.Int64
	lookupFn func() // optional hook, runs inside every lookup
}

func newFakeIdentityLookup() *fakeIdentityLookup {
	return &fakeIdentityLookup{
		byUID: make(map[string]*Identity),
		byID:  make(map[string]*Identity),
	}
}

func (f *fakeIdentityLookup) addUser(id, firebaseUID string, active bool) *Identity {
	identity := &Identity{ID: id, DisplayName: "user " + id, IsActive: active}
	f.mu.Lock()
	f.byID[id] = identity
	if firebaseUID != "" {
		f.byUID[firebaseUID] = identity
	}
	f.mu.Unlock()
	return identity
}

func (f *fakeIdentityLookup) FindByFirebaseUID(_ context.Context, uid string) (*Identity, error) {
	f.lookups.Add(1)
	if f.lookupFn != nil {
		f.lookupFn()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.byUID[uid], nil
}

func (f *fakeIdentityLookup) FindByID(_ context.Context, id string) (*Identity, error) {
	f.lookups.Add(1)
	if f.lookupFn != nil {
		f.lookupFn()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

// fakeSocialGraph serves follower lists from memory.
type fakeSocialGraph struct {
	mu        sync.Mutex
	followers map[string][]string
	err       error
}

func newFakeSocialGraph() *fakeSocialGraph {
	return &fakeSocialGraph{followers: make(map[string][]string)}
}

func (f *fakeSocialGraph) FollowersOf(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.followers[userID], nil
}

// fakeAccess allows or denies conversation membership per user.
type fakeAccess struct {
	mu      sync.Mutex
	allowed map[string]bool // userID + "|" + conversationID
	err     error
}

func newFakeAccess() *fakeAccess {
	return &fakeAccess{allowed: make(map[string]bool)}
}

func (f *fakeAccess) allow(userID, conversationID string) {
	f.mu.Lock()
	f.allowed[userID+"|"+conversationID] = true
	f.mu.Unlock()
}

func (f *fakeAccess) UserHasAccess(_ context.Context, userID, conversationID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[userID+"|"+conversationID], nil
}

// fakeMessageStore records saved messages in order.
type fakeMessageStore struct {
	mu    sync.Mutex
	saved []*StoredMessage
	err   error
}

func newFakeMessageStore() *fakeMessageStore { return &fakeMessageStore{} }

func (f *fakeMessageStore) SaveMessage(
	_ context.Context,
	conversationID, senderID, body string,
) (*StoredMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	msg := &StoredMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		SentAt:         time.Now(),
	}
	f.saved = append(f.saved, msg)
	return msg, nil
}

func (f *fakeMessageStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

// testEnv bundles a wired gateway and its fakes.
type testEnv struct {
	gw         *Gateway
	identities *fakeIdentityLookup
	graph      *fakeSocialGraph
	access     *fakeAccess
	messages   *fakeMessageStore
}

const testSecret = "s3cr3t"

func defaultTestOptions() Options {
	return Options{
		AuthTimeout:           500 * time.Millisecond,
		MaxConnectionsPerUser: 2,
		HeartbeatInterval:     time.Hour, // sweeps driven manually in tests
		ShutdownGrace:         20 * time.Millisecond,
		MaxEventsPerSecond:    1000,
	}
}

func newTestEnv(ctx context.Context, opts Options) *testEnv {
	identities := newFakeIdentityLookup()
	graph := newFakeSocialGraph()
	access := newFakeAccess()
	messages := newFakeMessageStore()

	verifier := NewCredentialVerifier(VerifierConfig{
		TestModeEnabled: true,
		TestSecret:      testSecret,
	}, identities)

	gw := NewGateway(ctx, verifier, Collaborators{
		Identities: identities,
		Graph:      graph,
		Access:     access,
		Messages:   messages,
	}, opts)

	return &testEnv{gw: gw, identities: identities, graph: graph, access: access, messages: messages}
}

// testCredential builds a valid development credential for the user.
func testCredential(userID string) string {
	return "test_" + testSecret + "_" + userID
}

// connectSocket admits a fresh fake socket without authenticating it.
func (env *testEnv) connectSocket(ctx context.Context) (*Connection, *fakeSocket, error) {
	socket := newFakeSocket()
	conn, err := env.gw.OnConnect(ctx, socket)
	return conn, socket, err
}

// connectAndAuth admits a fake socket and completes the handshake for the
// given registered user.
func (env *testEnv) connectAndAuth(ctx context.Context, userID string) (*Connection, *fakeSocket, error) {
	socket := newFakeSocket()
	conn, err := env.gw.OnConnect(ctx, socket)
	if err != nil {
		return nil, socket, err
	}
	err = env.gw.authenticator.Authenticate(ctx, conn, testCredential(userID))
	return conn, socket, err
}
