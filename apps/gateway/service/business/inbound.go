package business

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iscanabdulhalik/swappy-realtime/internal/telemetry"
	"github.com/pitabwire/util"
)

// Inbound payload shapes. The wire frames are {"event": ..., "payload": ...}.
type (
	authenticatePayload struct {
		Token string `json:"token"`
	}

	conversationPayload struct {
		ConversationID string `json:"conversationId"`
	}

	sendMessagePayload struct {
		ConversationID string `json:"conversationId"`
		Message        string `json:"message"`
	}

	setStatusPayload struct {
		Status string `json:"status"`
	}
)

// HandleEvent is the entry point for all client originated events on a
// connection. Processing errors are reported to the caller for logging but,
// apart from terminal authentication failures, never break the connection.
func (gw *Gateway) HandleEvent(ctx context.Context, conn *Connection, event string, payload json.RawMessage) error {
	if !conn.AllowInbound() {
		util.Log(ctx).WithFields(map[string]any{
			"conn_id": conn.ID(),
			"event":   event,
		}).Warn("inbound event rate limited")
		telemetry.EventsRateLimitedCounter.Add(ctx, 1)
		gw.emitError(conn, CodeRateLimited, "too many events")
		return ErrRateLimited
	}

	switch event {
	case EventAuthenticate:
		return gw.handleAuthenticate(ctx, conn, payload)
	case EventHeartbeat:
		conn.Touch()
		return nil
	case EventJoinConversation:
		return gw.handleJoinConversation(ctx, conn, payload)
	case EventLeaveConversation:
		return gw.handleLeaveConversation(ctx, conn, payload)
	case EventSendMessage:
		return gw.handleSendMessage(ctx, conn, payload)
	case EventTypingStart:
		return gw.handleTyping(ctx, conn, payload, EventUserTyping)
	case EventTypingEnd:
		return gw.handleTyping(ctx, conn, payload, EventUserStoppedTyping)
	case EventSetStatus:
		return gw.handleSetStatus(ctx, conn, payload)
	case EventSubscribeNotifications:
		return gw.handleSubscribeNotifications(ctx, conn)
	default:
		util.Log(ctx).WithFields(map[string]any{
			"conn_id": conn.ID(),
			"event":   event,
		}).Debug("received unknown event")
		gw.emitError(conn, CodeUnknownEvent, fmt.Sprintf("unknown event %q", event))
		return nil
	}
}

// handleAuthenticate accepts either a bare credential string or a {token}
// object, matching what clients actually send.
func (gw *Gateway) handleAuthenticate(ctx context.Context, conn *Connection, payload json.RawMessage) error {
	var credential string

	var obj authenticatePayload
	if err := json.Unmarshal(payload, &obj); err == nil && obj.Token != "" {
		credential = obj.Token
	} else if err := json.Unmarshal(payload, &credential); err != nil {
		credential = ""
	}

	return gw.authenticator.Authenticate(ctx, conn, credential)
}

func (gw *Gateway) handleJoinConversation(ctx context.Context, conn *Connection, payload json.RawMessage) error {
	identity, err := gw.requireAuthenticated(conn)
	if err != nil {
		return err
	}

	var req conversationPayload
	if err = json.Unmarshal(payload, &req); err != nil || req.ConversationID == "" {
		gw.emitError(conn, CodeUnknownEvent, "conversationId is required")
		return ErrInvalidPayload
	}

	if err = gw.checkConversationAccess(ctx, conn, identity.ID, req.ConversationID); err != nil {
		return err
	}

	gw.router.Join(ctx, conn, ConversationRoomKey(req.ConversationID))
	return nil
}

func (gw *Gateway) handleLeaveConversation(ctx context.Context, conn *Connection, payload json.RawMessage) error {
	if _, err := gw.requireAuthenticated(conn); err != nil {
		return err
	}

	var req conversationPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.ConversationID == "" {
		gw.emitError(conn, CodeUnknownEvent, "conversationId is required")
		return ErrInvalidPayload
	}

	gw.router.Leave(ctx, conn, ConversationRoomKey(req.ConversationID))
	return nil
}

// handleSendMessage persists the message, then broadcasts it. The broadcast
// never precedes persistence; the sender gets its confirmation through the
// direct response while peers receive the room broadcast.
func (gw *Gateway) handleSendMessage(ctx context.Context, conn *Connection, payload json.RawMessage) (err error) {
	ctx, span := telemetry.MessageTracer.Start(ctx, "SendMessage")
	defer func() { telemetry.MessageTracer.End(ctx, span, err) }()

	identity, err := gw.requireAuthenticated(conn)
	if err != nil {
		return err
	}

	var req sendMessagePayload
	if err = json.Unmarshal(payload, &req); err != nil || req.ConversationID == "" || req.Message == "" {
		gw.emitError(conn, CodeUnknownEvent, "conversationId and message are required")
		return ErrInvalidPayload
	}

	if err = gw.checkConversationAccess(ctx, conn, identity.ID, req.ConversationID); err != nil {
		return err
	}

	stored, err := gw.messages.SaveMessage(ctx, req.ConversationID, identity.ID, req.Message)
	if err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"conn_id":         conn.ID(),
			"conversation_id": req.ConversationID,
		}).Error("message persistence failed")
		gw.emitError(conn, CodeUnknownEvent, "message could not be delivered")
		return err
	}

	body := map[string]any{
		"id":             stored.ID,
		"conversationId": stored.ConversationID,
		"senderId":       stored.SenderID,
		"message":        stored.Body,
		"sentAt":         stored.SentAt.UnixMilli(),
	}

	gw.router.BroadcastToRoom(ctx, ConversationRoomKey(req.ConversationID), EventMessageReceived, body, identity.ID)
	_ = conn.Emit(EventMessageReceived, body)
	telemetry.MessagesSentCounter.Add(ctx, 1)
	return nil
}

// handleTyping relays a typing indicator to the room, excluding the sender's
// own connections so a user never sees their own echo.
func (gw *Gateway) handleTyping(ctx context.Context, conn *Connection, payload json.RawMessage, outEvent string) error {
	identity, err := gw.requireAuthenticated(conn)
	if err != nil {
		return err
	}

	var req conversationPayload
	if err = json.Unmarshal(payload, &req); err != nil || req.ConversationID == "" {
		return ErrInvalidPayload
	}

	gw.router.BroadcastToRoom(ctx, ConversationRoomKey(req.ConversationID), outEvent, map[string]any{
		"conversationId": req.ConversationID,
		"userId":         identity.ID,
	}, identity.ID)
	return nil
}

func (gw *Gateway) handleSetStatus(ctx context.Context, conn *Connection, payload json.RawMessage) error {
	identity, err := gw.requireAuthenticated(conn)
	if err != nil {
		return err
	}

	var req setStatusPayload
	if err = json.Unmarshal(payload, &req); err != nil {
		return ErrInvalidPayload
	}

	gw.presence.SetStatus(ctx, identity.ID, PresenceStatus(req.Status))
	return nil
}

func (gw *Gateway) handleSubscribeNotifications(ctx context.Context, conn *Connection) error {
	if _, err := gw.requireAuthenticated(conn); err != nil {
		return err
	}

	conn.notifySubscribed.Store(true)
	util.Log(ctx).WithFields(map[string]any{
		"conn_id": conn.ID(),
		"user_id": conn.UserID(),
	}).Debug("connection subscribed to notifications")
	return nil
}

// requireAuthenticated rejects events arriving before the handshake
// completed. The connection stays open; authentication is still possible.
func (gw *Gateway) requireAuthenticated(conn *Connection) (*Identity, error) {
	identity := conn.Identity()
	if conn.State() != StateAuthenticated || identity == nil {
		gw.emitError(conn, CodeAuthenticationFailed, "authenticate first")
		return nil, ErrNotAuthenticated
	}
	return identity, nil
}

// checkConversationAccess consults the access collaborator. Authorization
// failures are reported to the caller and leave the connection open.
func (gw *Gateway) checkConversationAccess(ctx context.Context, conn *Connection, userID, conversationID string) error {
	allowed, err := gw.access.UserHasAccess(ctx, userID, conversationID)
	if err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"user_id":         userID,
			"conversation_id": conversationID,
		}).Error("conversation access check failed")
		gw.emitError(conn, CodeNotParticipant, "access check failed")
		return err
	}
	if !allowed {
		gw.emitError(conn, CodeNotParticipant, "not a participant of this conversation")
		return ErrNotParticipant
	}
	return nil
}

func (gw *Gateway) emitError(conn *Connection, code, message string) {
	_ = conn.Emit(EventError, map[string]any{
		"code":    code,
		"message": message,
	})
}
