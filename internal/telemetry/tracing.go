package telemetry

import (
	"github.com/pitabwire/frame/telemetry"
)

// Service tracers for different components.
//
//nolint:gochecknoglobals // OpenTelemetry tracers must be global for instrumentation
var (
	MessageTracer      = telemetry.NewTracer("gateway.message")
	NotificationTracer = telemetry.NewTracer("gateway.notification")
)
