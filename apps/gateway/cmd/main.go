package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	gtwconfig "github.com/iscanabdulhalik/swappy-realtime/apps/gateway/config"
	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/business"
	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/handlers"
	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/queues"
	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/repository"
	"github.com/iscanabdulhalik/swappy-realtime/internal/health"
	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/util"
)

const gracefulShutdownTimeout = 30 * time.Second

func runService(ctx context.Context) error {
	// Initialize configuration
	cfg, err := config.LoadWithOIDC[gtwconfig.GatewayConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return err
	}

	// Validate configuration (fail-fast on invalid config)
	if err = cfg.Validate(); err != nil {
		util.Log(ctx).With("err", err).Error("invalid configuration")
		return err
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "swappy_realtime_gateway"
	}

	// Create service
	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
		frame.WithDatastore(),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	workMan := svc.WorkManager()
	queueMan := svc.QueueManager()

	dbManager := svc.DatastoreManager()
	dbPool := dbManager.GetPool(ctx, datastore.DefaultPoolName)

	// Handle database migration if requested
	if cfg.DoDatabaseMigrate() {
		if err = repository.Migrate(ctx, svc, cfg.GetDatabaseMigrationPath()); err != nil {
			log.WithError(err).Fatal("main -- Could not migrate successfully")
		}
		return nil
	}

	userRepo := repository.NewUserRepository(ctx, dbPool, workMan)
	followRepo := repository.NewFollowRepository(ctx, dbPool, workMan)
	participantRepo := repository.NewParticipantRepository(ctx, dbPool, workMan)
	messageRepo := repository.NewMessageRepository(ctx, dbPool, workMan)

	verifier := business.NewCredentialVerifier(business.VerifierConfig{
		Secret:          cfg.TokenSecret,
		Issuer:          cfg.TokenIssuer,
		Audience:        cfg.TokenAudience,
		TestModeEnabled: cfg.TestModeEnabled,
		TestSecret:      cfg.TestAuthSecret,
		Production:      cfg.IsProduction(),
	}, userRepo)

	gw := business.NewGateway(ctx, verifier, business.Collaborators{
		Identities: userRepo,
		Graph:      followRepo,
		Access:     participantRepo,
		Messages:   messageRepo,
	}, business.Options{
		AuthTimeout:           cfg.AuthTimeout(),
		MaxConnectionsPerUser: cfg.MaxConnectionsPerUser,
		HeartbeatInterval:     cfg.HeartbeatInterval(),
		ShutdownGrace:         cfg.ShutdownGrace(),
		MaxEventsPerSecond:    cfg.MaxEventsPerSecond,
	})

	// Graceful shutdown: drain connections and stop background tasks.
	// Defers run LIFO: the gateway shuts down before svc.Stop.
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer drainCancel()
		if shutdownErr := gw.Shutdown(drainCtx); shutdownErr != nil {
			util.Log(drainCtx).WithError(shutdownErr).Error("gateway shutdown error")
		}
		gw.DrainConnections(drainCtx)
	}()

	offlineNotificationPublisher := frame.WithRegisterPublisher(
		cfg.QueueOfflineNotificationName,
		cfg.QueueOfflineNotificationURI,
	)

	notificationDeliverySubscriber := frame.WithRegisterSubscriber(
		cfg.QueueNotificationDeliveryName, cfg.QueueNotificationDeliveryURI,
		queues.NewNotificationDeliveryHandler(&cfg, queueMan, gw),
	)

	mux := setupHTTPHandlers(svc, gw, dbPool, cfg.HeartbeatInterval())

	// Initialize the service with all options
	svc.Init(ctx, notificationDeliverySubscriber, offlineNotificationPublisher, frame.WithHTTPHandler(mux))

	// Start the service
	return svc.Run(ctx, "")
}

func main() {
	ctx := context.Background()
	if err := runService(ctx); err != nil {
		util.Log(ctx).WithError(err).Fatal("could not run service")
	}
}

// setupHTTPHandlers wires the websocket endpoint, the stats endpoint and the
// Kubernetes probes onto one mux.
func setupHTTPHandlers(
	svc *frame.Service,
	gw *business.Gateway,
	dbPool pool.Pool,
	heartbeatInterval time.Duration,
) http.Handler {
	gatewayServer := handlers.NewGatewayServer(svc, gw, heartbeatInterval)
	healthHandler := setupHealthChecks(gw, dbPool)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gatewayServer.ServeWS)
	mux.HandleFunc("/stats", gatewayServer.ServeStats)
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	return mux
}

// setupHealthChecks creates the health check handler. Readiness fails while
// the gateway drains so the load balancer stops routing fresh connections.
func setupHealthChecks(gw *business.Gateway, dbPool pool.Pool) *health.Handler {
	handler := health.NewHandler()

	dbChecker := health.NewDatabaseChecker(dbPool, 5*time.Second)
	handler.AddChecker(dbChecker)

	handler.AddChecker(health.NewPingChecker("gateway", func(_ context.Context) error {
		if gw.ShuttingDown() {
			return errors.New("gateway is draining connections")
		}
		return nil
	}, time.Second))

	return handler
}
