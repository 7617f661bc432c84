package internal

const (
	// HeaderUserID addresses a queued notification to a user.
	HeaderUserID = "user_id"

	// HeaderNotificationType carries the notification category for routing
	// offline deliveries to the right channel.
	HeaderNotificationType = "notification_type"
)
