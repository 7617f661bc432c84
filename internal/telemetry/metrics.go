// Package telemetry provides OpenTelemetry metrics and tracing for the
// realtime gateway.
package telemetry

import "github.com/pitabwire/frame/telemetry"

// Connection metrics track the session lifecycle.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	ConnectionsAcceptedCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.connections.accepted",
		"Total connections accepted",
	)

	ConnectionsClosedCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.connections.closed",
		"Total connections closed",
	)

	ConnectionsEvictedCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.connections.evicted",
		"Connections evicted over the per user limit",
	)

	StaleConnectionsCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.connections.stale",
		"Connections evicted by the liveness sweep",
	)
)

// Authentication metrics track handshake outcomes.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	AuthSucceededCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.auth.succeeded",
		"Total successful authentications",
	)

	AuthFailedCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.auth.failed",
		"Total failed authentications",
	)

	AuthTimedOutCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.auth.timed_out",
		"Connections closed for never authenticating",
	)
)

// Message metrics track chat traffic through the gateway.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	MessagesSentCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.messages.sent",
		"Total chat messages accepted and persisted",
	)

	EventsRateLimitedCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.events.rate_limited",
		"Inbound events dropped by the per connection rate limit",
	)
)

// Notification metrics track the push delivery pipeline.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	NotificationsDeliveredCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.notifications.delivered",
		"Notifications delivered to live connections",
	)

	NotificationsOfflineCounter = telemetry.DimensionlessMeasure(
		"",
		"gateway.notifications.offline",
		"Notifications re-queued for offline channels",
	)
)
