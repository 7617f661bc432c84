// Package business provides the core realtime session logic for the gateway
// service: credential verification, connection registration, room based
// broadcast, presence tracking, liveness sweeps and graceful shutdown.
package business

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Client originated events.
const (
	EventAuthenticate           = "authenticate"
	EventHeartbeat              = "heartbeat"
	EventJoinConversation       = "join_conversation"
	EventLeaveConversation      = "leave_conversation"
	EventSendMessage            = "send_message"
	EventTypingStart            = "typing_start"
	EventTypingEnd              = "typing_end"
	EventSetStatus              = "set_status"
	EventSubscribeNotifications = "subscribe_notifications"
)

// Server originated events.
const (
	EventConnect                  = "connect"
	EventAuthenticated            = "authenticated"
	EventError                    = "error"
	EventMessageReceived          = "message_received"
	EventUserTyping               = "user_typing"
	EventUserStoppedTyping        = "user_stopped_typing"
	EventNewNotification          = "new_notification"
	EventNotificationCountUpdated = "notification_count_updated"
	EventFriendStatusChanged      = "friend_status_changed"
	EventDisconnectReason         = "disconnect_reason"
	EventServerShutdown           = "server_shutdown"
)

// Client facing error / disconnect reason codes. This is a closed set:
// provider internals never reach the wire.
const (
	CodeMissingToken            = "missing_token"
	CodeInvalidTokenFormat      = "invalid_token_format"
	CodeInvalidTestToken        = "invalid_test_token"
	CodeInvalidTestCredentials  = "invalid_test_credentials"
	CodeAuthenticationFailed    = "authentication_failed"
	CodeAuthenticationTimeout   = "authentication_timeout"
	CodeConnectionLimitExceeded = "connection_limit_exceeded"
	CodeHeartbeatTimeout        = "heartbeat_timeout"
	CodeNotParticipant          = "not_participant"
	CodeServerShutdown          = "server_shutdown"
	CodeRateLimited             = "rate_limited"
	CodeUnknownEvent            = "unknown_event"
)

// conversationRoomPrefix namespaces conversation rooms so conversation and
// user identifiers can never collide as room keys.
const conversationRoomPrefix = "conversation:"

// ConversationRoomKey returns the room key for a conversation identifier.
func ConversationRoomKey(conversationID string) string {
	return conversationRoomPrefix + conversationID
}

// ConversationIDFromRoomKey extracts the conversation identifier from a room
// key, returning false for non conversation rooms.
func ConversationIDFromRoomKey(roomKey string) (string, bool) {
	if !strings.HasPrefix(roomKey, conversationRoomPrefix) {
		return "", false
	}
	return roomKey[len(conversationRoomPrefix):], true
}

// AuthState tracks the per connection authentication state machine.
type AuthState int32

const (
	StateConnected AuthState = iota
	StateAuthenticating
	StateAuthenticated
	StateRejected
)

func (s AuthState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Identity is the resolved application user attached to an authenticated
// connection. It is a read only snapshot taken at authentication time.
type Identity struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	NativeLanguage string `json:"native_language"`
	TargetLanguage string `json:"target_language"`
	IsActive       bool   `json:"is_active"`
}

// PresenceStatus is the ephemeral per user status. It is held in process
// memory only and is never authoritative for access control.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// ValidPresenceStatus reports whether a client supplied status value is one
// of the known statuses.
func ValidPresenceStatus(s PresenceStatus) bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return true
	default:
		return false
	}
}

// ClientSocket abstracts the transport handle for a single live session so
// the core logic stays testable without a real network stack.
type ClientSocket interface {
	Emit(event string, payload any) error
	Disconnect(reason string)
	Connected() bool
	RemoteAddr() string
}

// IdentityLookup resolves subjects to application users. Backed by the
// relational store.
type IdentityLookup interface {
	FindByFirebaseUID(ctx context.Context, uid string) (*Identity, error)
	FindByID(ctx context.Context, id string) (*Identity, error)
}

// SocialGraph resolves a user's followers for presence fan out.
type SocialGraph interface {
	FollowersOf(ctx context.Context, userID string) ([]string, error)
}

// ConversationAccess is consulted before allowing join/send on a
// conversation room.
type ConversationAccess interface {
	UserHasAccess(ctx context.Context, userID, conversationID string) (bool, error)
}

// StoredMessage is the persisted form of a chat message, returned by the
// message store so broadcasts carry the durable identifier.
type StoredMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// MessageStore persists chat messages. A message is always persisted before
// it is broadcast.
type MessageStore interface {
	SaveMessage(ctx context.Context, conversationID, senderID, body string) (*StoredMessage, error)
}

// authAttempt deduplicates concurrent authentication triggers on a single
// connection: the first trigger runs verification, later triggers await the
// same settled result.
type authAttempt struct {
	done     chan struct{}
	identity *Identity
	err      error
}

func newAuthAttempt() *authAttempt {
	return &authAttempt{done: make(chan struct{})}
}

// settle publishes the attempt outcome and releases all waiters.
func (a *authAttempt) settle(identity *Identity, err error) {
	a.identity = identity
	a.err = err
	close(a.done)
}

// Connection is a single live transport session. Exactly one Connection
// exists per transport session; it is never reused.
type Connection struct {
	id         string
	socket     ClientSocket
	remoteAddr string
	createdAt  time.Time

	// lastHeartbeat is a unix timestamp, monotonically advanced by Touch.
	lastHeartbeat atomic.Int64

	// authMu guards the authentication state machine fields.
	authMu   sync.Mutex
	state    AuthState
	pending  *authAttempt
	deadline *time.Timer

	// identity is set exactly once, on successful registration.
	identity atomic.Pointer[Identity]

	// roomMu guards the connection side of room membership. The router owns
	// the room side; both are mutated together to stay symmetric.
	roomMu sync.Mutex
	rooms  map[string]struct{}

	notifySubscribed atomic.Bool

	limiter *tokenBucket

	closeOnce sync.Once
}

// NewConnection wraps a freshly accepted transport socket. ratePerSec bounds
// inbound events for this connection.
func NewConnection(socket ClientSocket, ratePerSec int) *Connection {
	now := time.Now()
	c := &Connection{
		id:        uuid.NewString(),
		socket:    socket,
		createdAt: now,
		state:     StateConnected,
		rooms:     make(map[string]struct{}),
		limiter:   newTokenBucket(ratePerSec, rateLimitBurst),
	}
	if socket != nil {
		c.remoteAddr = socket.RemoteAddr()
	}
	c.lastHeartbeat.Store(now.Unix())
	return c
}

// ID returns the opaque connection identifier generated at accept time.
func (c *Connection) ID() string { return c.id }

// CreatedAt returns the accept timestamp, used for oldest-first eviction.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// RemoteAddr returns the peer address recorded at accept time.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// State returns the current authentication state.
func (c *Connection) State() AuthState {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.state
}

// Identity returns the attached identity, nil while unauthenticated.
func (c *Connection) Identity() *Identity { return c.identity.Load() }

// UserID returns the owning user identifier, empty while unauthenticated.
func (c *Connection) UserID() string {
	if id := c.identity.Load(); id != nil {
		return id.ID
	}
	return ""
}

// Touch records a heartbeat. The timestamp only ever moves forward so a
// stale sweep can never evict a connection that just proved liveness.
func (c *Connection) Touch() {
	now := time.Now().Unix()
	for {
		prev := c.lastHeartbeat.Load()
		if prev >= now || c.lastHeartbeat.CompareAndSwap(prev, now) {
			return
		}
	}
}

// LastHeartbeat returns the unix timestamp of the last observed heartbeat.
func (c *Connection) LastHeartbeat() int64 { return c.lastHeartbeat.Load() }

// AllowInbound reports whether another inbound event is within this
// connection's rate budget.
func (c *Connection) AllowInbound() bool { return c.limiter.Allow() }

// NotificationsEnabled reports whether this connection asked to receive
// notification pushes.
func (c *Connection) NotificationsEnabled() bool { return c.notifySubscribed.Load() }

// Emit sends an event frame to the client, best effort.
func (c *Connection) Emit(event string, payload any) error {
	return c.socket.Emit(event, payload)
}

// Close tears the transport down exactly once. All timeout and eviction
// paths funnel through here so late firing timers degrade to no-ops.
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		c.stopDeadline()
		if c.socket.Connected() {
			_ = c.socket.Emit(EventDisconnectReason, map[string]any{"reason": reason})
		}
		c.socket.Disconnect(reason)
	})
}

// Connected reports whether the underlying transport is still live.
func (c *Connection) Connected() bool { return c.socket.Connected() }

func (c *Connection) stopDeadline() {
	c.authMu.Lock()
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
	c.authMu.Unlock()
}

func (c *Connection) addRoom(roomKey string) {
	c.roomMu.Lock()
	c.rooms[roomKey] = struct{}{}
	c.roomMu.Unlock()
}

func (c *Connection) removeRoom(roomKey string) {
	c.roomMu.Lock()
	delete(c.rooms, roomKey)
	c.roomMu.Unlock()
}

// Rooms returns a snapshot of the rooms this connection currently belongs to.
func (c *Connection) Rooms() []string {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	keys := make([]string, 0, len(c.rooms))
	for k := range c.rooms {
		keys = append(keys, k)
	}
	return keys
}
