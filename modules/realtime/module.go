package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/helpdesk-realtime/config"
	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/events"
	"github.com/example/helpdesk-realtime/modules/store"
)

// RealtimeModule hosts the presence and messaging core.
type RealtimeModule struct {
	cfg      config.PresenceConfig
	clock    clock.Clock
	data     store.StorePort
	eventBus mono.EventBus
	service  *Service
	registry *prometheus.Registry
	logger   types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*RealtimeModule)(nil)
	_ mono.DependentModule       = (*RealtimeModule)(nil)
	_ mono.ServiceProviderModule = (*RealtimeModule)(nil)
	_ mono.EventBusAwareModule   = (*RealtimeModule)(nil)
	_ mono.EventEmitterModule    = (*RealtimeModule)(nil)
	_ mono.HealthCheckableModule = (*RealtimeModule)(nil)

	_ ContactRecorder   = (*RealtimeModule)(nil)
	_ PresencePublisher = (*RealtimeModule)(nil)
)

// NewModule creates a new RealtimeModule.
func NewModule(cfg config.PresenceConfig, logger types.Logger) *RealtimeModule {
	return &RealtimeModule{
		cfg:      cfg,
		clock:    clock.WallClock,
		registry: prometheus.NewRegistry(),
		logger:   logger.WithModule("realtime"),
	}
}

// Name returns the module name.
func (m *RealtimeModule) Name() string {
	return "realtime"
}

// Dependencies returns the list of module dependencies.
func (m *RealtimeModule) Dependencies() []string {
	return []string{"store"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *RealtimeModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "store":
		m.data = store.NewStoreAdapter(container)
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *RealtimeModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *RealtimeModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageSentV1.ToBase(),
		events.PresenceChangedV1.ToBase(),
	}
}

// Start builds the core and launches the presence sweeper.
func (m *RealtimeModule) Start(_ context.Context) error {
	if m.data == nil {
		return errors.New("store adapter dependency not set")
	}

	m.service = NewService(Config{
		Thresholds:    m.cfg.Thresholds(),
		GraceWindow:   m.cfg.GraceWindow,
		SweepInterval: m.cfg.SweepInterval,
		EvictStale:    m.cfg.EvictStale,
		Clock:         m.clock,
	}, m.data, m, m, m.logger, m.registry)
	m.service.Start()

	m.logger.Info("Module started",
		"grace_window", m.cfg.GraceWindow,
		"sweep_interval", m.cfg.SweepInterval)
	return nil
}

// Stop stops the sweeper and closes remaining connections.
func (m *RealtimeModule) Stop(ctx context.Context) error {
	if m.service == nil {
		return nil
	}
	if err := m.service.Stop(ctx); err != nil {
		m.logger.Warn("Presence broadcaster did not stop in time", "error", err)
		return err
	}
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *RealtimeModule) Health(_ context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connections": m.service.Registry().Count(),
			"users":       m.service.Registry().UserCount(),
			"rooms":       m.service.Rooms().RoomCount(),
		},
	}
}

// Service returns the core service. It is nil until the module has started.
func (m *RealtimeModule) Service() *Service {
	return m.service
}

// Gatherer returns the registry holding the core's metrics.
func (m *RealtimeModule) Gatherer() prometheus.Gatherer {
	return m.registry
}

// RecordContact publishes MessageSent so the store can update frequent contacts.
func (m *RealtimeModule) RecordContact(_ context.Context, msg *helpdesk.Message) error {
	if m.eventBus == nil {
		return errors.New("event bus not set")
	}
	return events.MessageSentV1.Publish(m.eventBus, events.MessageSentEvent{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Type:       string(msg.Type),
		CreatedAt:  msg.CreatedAt,
	}, nil)
}

// PublishPresence publishes PresenceChanged.
func (m *RealtimeModule) PublishPresence(_ context.Context, change Change) error {
	if m.eventBus == nil {
		return errors.New("event bus not set")
	}
	return events.PresenceChangedV1.Publish(m.eventBus, events.PresenceChangedEvent{
		UserID:    change.Identity.UserID,
		Status:    string(change.Current),
		Previous:  string(change.Previous),
		ChangedAt: change.At,
	}, nil)
}

// RegisterServices registers request-reply services in the service container.
func (m *RealtimeModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServicePresence,
		json.Unmarshal,
		json.Marshal,
		m.handlePresence,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServicePresence, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceOnlineUsers,
		json.Unmarshal,
		json.Marshal,
		m.handleOnlineUsers,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceOnlineUsers, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceBroadcastTicket,
		json.Unmarshal,
		json.Marshal,
		m.handleBroadcastTicket,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceBroadcastTicket, err)
	}

	m.logger.Info("Registered services",
		"services", []string{ServicePresence, ServiceOnlineUsers, ServiceBroadcastTicket})
	return nil
}

func (m *RealtimeModule) handlePresence(_ context.Context, req PresenceRequest, _ *mono.Msg) (PresenceResponse, error) {
	if m.service == nil {
		return PresenceResponse{}, errors.New("realtime module not started")
	}
	snap := m.service.Presence(req.UserID)
	resp := PresenceResponse{
		UserID:      req.UserID,
		Status:      string(snap.Status),
		Connections: snap.Connections,
	}
	if snap.Override != nil {
		resp.Override = string(*snap.Override)
	}
	if !snap.LastActivity.IsZero() {
		at := snap.LastActivity
		resp.LastActivity = &at
	}
	return resp, nil
}

func (m *RealtimeModule) handleOnlineUsers(ctx context.Context, req OnlineUsersRequest, _ *mono.Msg) (OnlineUsersResponse, error) {
	if m.service == nil {
		return OnlineUsersResponse{}, errors.New("realtime module not started")
	}
	users, err := m.service.OnlineUsers(ctx, req.Excluding)
	if err != nil {
		return OnlineUsersResponse{}, err
	}
	return OnlineUsersResponse{Users: users}, nil
}

func (m *RealtimeModule) handleBroadcastTicket(_ context.Context, req BroadcastTicketRequest, _ *mono.Msg) (BroadcastTicketResponse, error) {
	if m.service == nil {
		return BroadcastTicketResponse{}, errors.New("realtime module not started")
	}
	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}
	n, err := m.service.BroadcastTicket(req.TicketID, req.Event, data)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return BroadcastTicketResponse{
				Accepted: false,
				Error:    strings.TrimPrefix(err.Error(), ErrValidation.Error()+": "),
			}, nil
		}
		return BroadcastTicketResponse{}, err
	}
	return BroadcastTicketResponse{Accepted: true, Recipients: n}, nil
}
