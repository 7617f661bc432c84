package config_test

import (
	"testing"
	"time"

	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayConfig_Validate(t *testing.T) {
	t.Run("valid configuration", func(t *testing.T) {
		cfg := validGatewayConfig()
		err := cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("AuthTimeoutSec must be > 0", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.AuthTimeoutSec = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AuthTimeoutSec")
	})

	t.Run("TokenSecret required without test mode", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.TokenSecret = ""
		cfg.TestModeEnabled = false
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TokenSecret")
	})

	t.Run("TokenSecret optional in test mode", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.TokenSecret = ""
		cfg.TestModeEnabled = true
		cfg.TestAuthSecret = "dev-secret"
		err := cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("TestAuthSecret required with test mode", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.TestModeEnabled = true
		cfg.TestAuthSecret = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TestAuthSecret")
	})

	t.Run("test mode refused in production", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.Environment = "production"
		cfg.TestModeEnabled = true
		cfg.TestAuthSecret = "dev-secret"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TestModeEnabled")
	})

	t.Run("MaxConnectionsPerUser must be >= 1", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.MaxConnectionsPerUser = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MaxConnectionsPerUser")
	})

	t.Run("HeartbeatIntervalSec must be > 0", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.HeartbeatIntervalSec = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HeartbeatIntervalSec")
	})

	t.Run("ShutdownGraceSec must be >= 0", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.ShutdownGraceSec = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ShutdownGraceSec")
	})

	t.Run("MaxEventsPerSecond must be > 0", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.MaxEventsPerSecond = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MaxEventsPerSecond")
	})

	t.Run("QueueNotificationDeliveryURI cannot be empty", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.QueueNotificationDeliveryURI = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QueueNotificationDeliveryURI")
	})

	t.Run("QueueOfflineNotificationURI must have valid scheme", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.QueueOfflineNotificationURI = "invalid://queue"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QueueOfflineNotificationURI")
		assert.Contains(t, err.Error(), "invalid scheme")
	})

	t.Run("valid queue URI schemes", func(t *testing.T) {
		validSchemes := []string{
			"mem://notifications",
			"redis://localhost:6379",
			"nats://localhost:4222",
			"amqp://localhost:5672",
			"kafka://localhost:9092",
		}

		for _, uri := range validSchemes {
			cfg := validGatewayConfig()
			cfg.QueueNotificationDeliveryURI = uri
			err := cfg.Validate()
			require.NoError(t, err, "should accept valid queue URI: %s", uri)
		}
	})

	t.Run("multiple errors are joined", func(t *testing.T) {
		cfg := validGatewayConfig()
		cfg.AuthTimeoutSec = 0
		cfg.MaxEventsPerSecond = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AuthTimeoutSec")
		assert.Contains(t, err.Error(), "MaxEventsPerSecond")
	})
}

func TestGatewayConfig_IsProduction(t *testing.T) {
	cfg := validGatewayConfig()
	assert.False(t, cfg.IsProduction())

	cfg.Environment = "production"
	assert.True(t, cfg.IsProduction())

	cfg.Environment = "PRODUCTION"
	assert.True(t, cfg.IsProduction())
}

func TestGatewayConfig_DurationAccessors(t *testing.T) {
	cfg := validGatewayConfig()
	cfg.AuthTimeoutSec = 30
	cfg.HeartbeatIntervalSec = 25
	cfg.ShutdownGraceSec = 5

	assert.Equal(t, 30*time.Second, cfg.AuthTimeout())
	assert.Equal(t, 25*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace())
}

// validGatewayConfig returns a configuration that passes all validation.
func validGatewayConfig() *config.GatewayConfig {
	return &config.GatewayConfig{
		Environment:                   "development",
		AuthTimeoutSec:                30,
		TokenSecret:                   "signing-secret",
		MaxConnectionsPerUser:         5,
		HeartbeatIntervalSec:          30,
		ShutdownGraceSec:              1,
		MaxEventsPerSecond:            100,
		QueueNotificationDeliveryName: "notification.delivery",
		QueueNotificationDeliveryURI:  "mem://notification.delivery",
		QueueOfflineNotificationName:  "offline.notification",
		QueueOfflineNotificationURI:   "mem://offline.notification",
	}
}
