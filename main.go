package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/helpdesk-realtime/config"
	"github.com/example/helpdesk-realtime/modules/auth"
	"github.com/example/helpdesk-realtime/modules/gateway"
	"github.com/example/helpdesk-realtime/modules/realtime"
	"github.com/example/helpdesk-realtime/modules/store"
)

func main() {
	log.Println("=== Helpdesk Realtime - Presence + Messaging ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(level),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	logger := app.Logger()

	// Create modules
	storeModule := store.NewModule(cfg.DBPath, logger)
	authModule := auth.NewModule(cfg.JWT, cfg.Cache, logger)
	realtimeModule := realtime.NewModule(cfg.Presence, logger)
	gatewayModule := gateway.NewModule(cfg.Port, cfg.Socket, logger)

	// The gateway drives sockets against the realtime core in process.
	gatewayModule.SetCore(realtimeModule)

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - store: persistence (ServiceProviderModule + EventConsumerModule)
	// - auth: session authenticator (depends on store)
	// - realtime: registry, rooms, relay and presence (depends on store)
	// - gateway: Fiber HTTP/WebSocket server (depends on auth, store, realtime)
	app.Register(storeModule)
	app.Register(authModule)
	app.Register(realtimeModule)
	app.Register(gatewayModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg config.Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Presence:")
	log.Printf("  - Away after %s, busy after %s, offline after %s",
		cfg.Presence.AwayAfter, cfg.Presence.BusyAfter, cfg.Presence.OfflineAfter)
	log.Printf("  - Reconnect grace window: %s", cfg.Presence.GraceWindow)
	log.Printf("  - Sweep interval: %s", cfg.Presence.SweepInterval)
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health                        - Health check")
	log.Println("  GET    /metrics                       - Prometheus metrics")
	log.Println("  GET    /api/v1/messages/:userId       - Conversation history")
	log.Println("  PATCH  /api/v1/messages/:id/read      - Mark a message read")
	log.Println("  GET    /api/v1/users/online           - Online users")
	log.Println("  GET    /api/v1/users/:id/presence     - Presence of one user")
	log.Println("  GET    /api/v1/users/:id/last-seen    - Last offline time")
	log.Println("  GET    /api/v1/contacts/frequent      - Frequent contacts")
	log.Println("  POST   /api/v1/tickets/:id/events     - Push an event to a ticket room")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", cfg.Port)
	log.Println("  Connect with: Authorization: Bearer <jwt> or ?token=<jwt>")
	log.Println("  Events: join_chat, leave_chat, send_message, typing_start, typing_stop,")
	log.Println("          update_presence, join_ticket, leave_ticket")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
