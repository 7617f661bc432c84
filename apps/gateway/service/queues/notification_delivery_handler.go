package queues

import (
	"context"
	"encoding/json"

	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/config"
	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/business"
	"github.com/iscanabdulhalik/swappy-realtime/internal"
	"github.com/iscanabdulhalik/swappy-realtime/internal/telemetry"
	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"
)

// notificationPayload is the message body published by the backend services
// onto the delivery queue.
type notificationPayload struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Data        json.RawMessage `json:"data,omitempty"`
	UnreadCount int             `json:"unread_count"`
	CreatedAt   int64           `json:"created_at"`
}

// NotificationDeliveryHandler pushes queued notifications to the target
// user's live connections. Users with no live connection get the message
// re-queued for offline channels (push, email digests).
type NotificationDeliveryHandler struct {
	cfg      *config.GatewayConfig
	qManager queue.Manager

	gateway *business.Gateway
}

func NewNotificationDeliveryHandler(
	cfg *config.GatewayConfig,
	qManager queue.Manager,
	gw *business.Gateway,
) queue.SubscribeWorker {
	return &NotificationDeliveryHandler{
		cfg:      cfg,
		qManager: qManager,
		gateway:  gw,
	}
}

func (nh *NotificationDeliveryHandler) Handle(ctx context.Context, headers map[string]string, payload []byte) (err error) {
	ctx, span := telemetry.NotificationTracer.Start(ctx, "NotificationDelivery")
	defer func() { telemetry.NotificationTracer.End(ctx, span, err) }()

	userID := headers[internal.HeaderUserID]
	if userID == "" {
		util.Log(ctx).Warn("notification message missing user header")
		return nil
	}

	notification, err := nh.parsePayload(ctx, payload)
	if err != nil {
		// Malformed payloads are dropped, retrying cannot fix them.
		return nil
	}

	delivered := nh.gateway.SendNotificationToUser(ctx, userID, business.EventNewNotification, notification)
	if delivered == 0 {
		util.Log(ctx).WithFields(map[string]any{
			"user_id":           userID,
			"notification_type": notification.Type,
		}).Debug("user offline, forwarding notification to offline queue")

		telemetry.NotificationsOfflineCounter.Add(ctx, 1)
		return nh.publishToOfflineQueue(ctx, headers, notification.Type, payload)
	}

	telemetry.NotificationsDeliveredCounter.Add(ctx, 1)
	nh.gateway.SendNotificationToUser(ctx, userID, business.EventNotificationCountUpdated, map[string]any{
		"unreadCount": notification.UnreadCount,
	})

	return nil
}

func (nh *NotificationDeliveryHandler) parsePayload(ctx context.Context, payload []byte) (*notificationPayload, error) {
	notification := &notificationPayload{}
	if err := json.Unmarshal(payload, notification); err != nil {
		util.Log(ctx).WithError(err).Error("failed to parse notification payload")
		return nil, err
	}

	return notification, nil
}

func (nh *NotificationDeliveryHandler) publishToOfflineQueue(
	ctx context.Context,
	headers map[string]string,
	notificationType string,
	payload []byte,
) error {
	offlineTopic, err := nh.qManager.GetPublisher(nh.cfg.QueueOfflineNotificationName)
	if err != nil {
		return err
	}

	offlineHeaders := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		offlineHeaders[k] = v
	}
	offlineHeaders[internal.HeaderNotificationType] = notificationType

	return offlineTopic.Publish(ctx, payload, offlineHeaders)
}
