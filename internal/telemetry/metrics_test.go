package telemetry_test

import (
	"context"
	"testing"

	gwtel "github.com/iscanabdulhalik/swappy-realtime/internal/telemetry"
)

func TestMetricsInitialization(t *testing.T) {
	ctx := context.Background()

	// Smoke test: increment each metric and verify no panic.
	gwtel.ConnectionsAcceptedCounter.Add(ctx, 1)
	gwtel.ConnectionsClosedCounter.Add(ctx, 1)
	gwtel.ConnectionsEvictedCounter.Add(ctx, 1)
	gwtel.StaleConnectionsCounter.Add(ctx, 1)
	gwtel.AuthSucceededCounter.Add(ctx, 1)
	gwtel.AuthFailedCounter.Add(ctx, 1)
	gwtel.AuthTimedOutCounter.Add(ctx, 1)
	gwtel.MessagesSentCounter.Add(ctx, 1)
	gwtel.EventsRateLimitedCounter.Add(ctx, 1)
	gwtel.NotificationsDeliveredCounter.Add(ctx, 1)
	gwtel.NotificationsOfflineCounter.Add(ctx, 1)
}

func TestTracersInitialization(t *testing.T) {
	ctx := context.Background()

	// Smoke test: start and end spans.
	ctx1, span1 := gwtel.MessageTracer.Start(ctx, "test")
	gwtel.MessageTracer.End(ctx1, span1, nil)

	ctx2, span2 := gwtel.NotificationTracer.Start(ctx, "test")
	gwtel.NotificationTracer.End(ctx2, span2, nil)
}
