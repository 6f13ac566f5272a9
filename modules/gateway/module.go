// Package gateway is the client-facing edge: the websocket endpoint that
// feeds the realtime core and the REST endpoints the helpdesk UI reads.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/helpdesk-realtime/config"
	"github.com/example/helpdesk-realtime/modules/auth"
	"github.com/example/helpdesk-realtime/modules/realtime"
	"github.com/example/helpdesk-realtime/modules/store"
)

// Core exposes the in-process realtime service. Websocket transports cannot
// cross the service container, so the gateway holds the service directly.
type Core interface {
	Service() *realtime.Service
	Gatherer() prometheus.Gatherer
}

// GatewayModule serves HTTP and websocket clients.
type GatewayModule struct {
	app      *fiber.App
	port     string
	socket   config.SocketConfig
	auth     auth.AuthPort
	store    store.StorePort
	presence realtime.RealtimePort
	core     Core
	service  *realtime.Service
	logger   types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*GatewayModule)(nil)
	_ mono.DependentModule       = (*GatewayModule)(nil)
	_ mono.HealthCheckableModule = (*GatewayModule)(nil)
)

// NewModule creates a new GatewayModule.
func NewModule(port string, socket config.SocketConfig, logger types.Logger) *GatewayModule {
	return &GatewayModule{
		port:   port,
		socket: socket,
		logger: logger.WithModule("gateway"),
	}
}

// Name returns the module name.
func (m *GatewayModule) Name() string {
	return "gateway"
}

// Dependencies returns the list of module dependencies.
func (m *GatewayModule) Dependencies() []string {
	return []string{"auth", "store", "realtime"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *GatewayModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.auth = auth.NewAuthAdapter(container)
	case "store":
		m.store = store.NewStoreAdapter(container)
	case "realtime":
		m.presence = realtime.NewRealtimeAdapter(container)
	}
}

// SetCore sets the realtime core (called from main.go).
func (m *GatewayModule) SetCore(core Core) {
	m.core = core
}

// Start initializes the Fiber HTTP server.
func (m *GatewayModule) Start(_ context.Context) error {
	if m.auth == nil || m.store == nil || m.presence == nil {
		return errors.New("gateway dependencies not set")
	}
	if m.core == nil || m.core.Service() == nil {
		return errors.New("realtime core not set")
	}
	m.service = m.core.Service()
	m.app = m.newApp()

	go func() {
		if err := m.app.Listen(":" + m.port); err != nil {
			m.logger.Error("HTTP server error", "error", err)
		}
	}()

	m.logger.Info("HTTP server started", "port", m.port)
	return nil
}

// Stop closes client sockets and shuts down the HTTP server.
func (m *GatewayModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server...")
	m.service.Registry().Each(func(conn *realtime.Connection) bool {
		_ = conn.Close()
		return true
	})
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// Health returns the health status.
func (m *GatewayModule) Health(_ context.Context) mono.HealthStatus {
	if m.app == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"port":              m.port,
			"connected_clients": m.service.Registry().Count(),
		},
	}
}

// newApp builds the Fiber application with all routes.
func (m *GatewayModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(loggerMiddleware(m.logger))
	m.setupRoutes(app)
	return app
}
