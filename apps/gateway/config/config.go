package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/frame/config"
)

type GatewayConfig struct {
	config.ConfigurationDefault

	// Deployment environment. Test credentials are refused outside development.
	Environment string `envDefault:"development" env:"ENVIRONMENT"`

	// Authentication
	// The deadline for a fresh connection to present a credential. Development
	// setups get more slack via AUTH_TIMEOUT_SEC.
	AuthTimeoutSec int    `envDefault:"30" env:"AUTH_TIMEOUT_SEC"`
	TokenSecret    string `envDefault:""   env:"TOKEN_SECRET"`
	TokenIssuer    string `envDefault:""   env:"TOKEN_ISSUER"`
	TokenAudience  string `envDefault:""   env:"TOKEN_AUDIENCE"`

	// Test credentials (test_<secret>_<userId>) bypass token verification.
	// They are refused unless explicitly enabled, and never in production.
	TestModeEnabled bool   `envDefault:"false" env:"TEST_MODE_ENABLED"`
	TestAuthSecret  string `envDefault:""      env:"TEST_AUTH_SECRET"`

	// Connection management
	MaxConnectionsPerUser int `envDefault:"5"  env:"MAX_CONNECTIONS_PER_USER"`
	HeartbeatIntervalSec  int `envDefault:"30" env:"HEARTBEAT_INTERVAL_SEC"`
	ShutdownGraceSec      int `envDefault:"1"  env:"SHUTDOWN_GRACE_SEC"`

	// Rate limiting
	MaxEventsPerSecond int `envDefault:"100" env:"MAX_EVENTS_PER_SECOND"`

	// Queue carrying notification fan-out destined for connected users
	QueueNotificationDeliveryName string `envDefault:"notification.delivery"       env:"QUEUE_NOTIFICATION_DELIVERY_NAME"`
	QueueNotificationDeliveryURI  string `envDefault:"mem://notification.delivery" env:"QUEUE_NOTIFICATION_DELIVERY_URI"`

	// Queue receiving notifications whose target had no live connection
	QueueOfflineNotificationName string `envDefault:"offline.notification"       env:"QUEUE_OFFLINE_NOTIFICATION_NAME"`
	QueueOfflineNotificationURI  string `envDefault:"mem://offline.notification" env:"QUEUE_OFFLINE_NOTIFICATION_URI"`
}

func (c *GatewayConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *GatewayConfig) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutSec) * time.Second
}

func (c *GatewayConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

func (c *GatewayConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSec) * time.Second
}

// Validate checks that the configuration is valid.
// Returns an error if any validation fails.
func (c *GatewayConfig) Validate() error {
	var errs []error

	if c.AuthTimeoutSec <= 0 {
		errs = append(errs, errors.New("AuthTimeoutSec must be > 0"))
	}

	if c.TokenSecret == "" && !c.TestModeEnabled {
		errs = append(errs, errors.New("TokenSecret cannot be empty unless TestModeEnabled is set"))
	}

	if c.TestModeEnabled && c.TestAuthSecret == "" {
		errs = append(errs, errors.New("TestAuthSecret cannot be empty when TestModeEnabled is set"))
	}

	if c.TestModeEnabled && c.IsProduction() {
		errs = append(errs, errors.New("TestModeEnabled cannot be set in production"))
	}

	if c.MaxConnectionsPerUser < 1 {
		errs = append(errs, errors.New("MaxConnectionsPerUser must be >= 1"))
	}

	if c.HeartbeatIntervalSec <= 0 {
		errs = append(errs, errors.New("HeartbeatIntervalSec must be > 0"))
	}

	if c.ShutdownGraceSec < 0 {
		errs = append(errs, errors.New("ShutdownGraceSec must be >= 0"))
	}

	if c.MaxEventsPerSecond <= 0 {
		errs = append(errs, errors.New("MaxEventsPerSecond must be > 0"))
	}

	if err := validateQueueURI(c.QueueNotificationDeliveryURI, "QueueNotificationDeliveryURI"); err != nil {
		errs = append(errs, err)
	}
	if err := validateQueueURI(c.QueueOfflineNotificationURI, "QueueOfflineNotificationURI"); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateQueueURI checks that a queue URI has a valid scheme.
func validateQueueURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"mem://", "redis://", "amqp://", "nats://", "kafka://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}
