package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/helpdesk-realtime/events"
)

// StoreModule owns the relational store and exposes it as request-reply services.
type StoreModule struct {
	db     *gorm.DB
	repo   *Repository
	dbPath string
	logger types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*StoreModule)(nil)
	_ mono.ServiceProviderModule = (*StoreModule)(nil)
	_ mono.EventConsumerModule   = (*StoreModule)(nil)
	_ mono.HealthCheckableModule = (*StoreModule)(nil)
)

// NewModule creates a new StoreModule backed by the sqlite file at dbPath.
func NewModule(dbPath string, logger types.Logger) *StoreModule {
	return &StoreModule{
		dbPath: dbPath,
		logger: logger.WithModule("store"),
	}
}

// Name returns the module name.
func (m *StoreModule) Name() string {
	return "store"
}

// Start opens the database and migrates the schema.
func (m *StoreModule) Start(_ context.Context) error {
	if err := m.open(); err != nil {
		return err
	}
	m.logger.Info("Module started", "database", m.dbPath)
	return nil
}

func (m *StoreModule) open() error {
	if m.repo != nil {
		return nil
	}
	db, err := gorm.Open(sqlite.Open(m.dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	repo := NewRepository(db)
	if err := repo.Migrate(); err != nil {
		return err
	}
	m.db = db
	m.repo = repo
	return nil
}

// Stop closes the database.
func (m *StoreModule) Stop(_ context.Context) error {
	if m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *StoreModule) Health(_ context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get database connection: %v", err),
		}
	}
	if err := sqlDB.Ping(); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"database":         m.dbPath,
			"open_connections": sqlDB.Stats().OpenConnections,
		},
	}
}

// Repository returns the underlying repository. It is nil before Start.
func (m *StoreModule) Repository() *Repository {
	return m.repo
}

// RegisterServices registers request-reply services in the service container.
func (m *StoreModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceFindUser, json.Unmarshal, json.Marshal, m.handleFindUser,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceFindUser, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceInsertMessage, json.Unmarshal, json.Marshal, m.handleInsertMessage,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceInsertMessage, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceUpdateLastActivity, json.Unmarshal, json.Marshal, m.handleUpdateLastActivity,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceUpdateLastActivity, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceListOnlineUsers, json.Unmarshal, json.Marshal, m.handleListOnlineUsers,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceListOnlineUsers, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceUpsertFrequentContact, json.Unmarshal, json.Marshal, m.handleUpsertFrequentContact,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceUpsertFrequentContact, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceMessageHistory, json.Unmarshal, json.Marshal, m.handleMessageHistory,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceMessageHistory, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceMarkRead, json.Unmarshal, json.Marshal, m.handleMarkRead,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceMarkRead, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceFrequentContacts, json.Unmarshal, json.Marshal, m.handleFrequentContacts,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceFrequentContacts, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceLastSeen, json.Unmarshal, json.Marshal, m.handleLastSeen,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceLastSeen, err)
	}

	m.logger.Info("Registered services",
		"services", []string{
			ServiceFindUser, ServiceInsertMessage, ServiceUpdateLastActivity,
			ServiceListOnlineUsers, ServiceUpsertFrequentContact, ServiceMessageHistory,
			ServiceMarkRead, ServiceFrequentContacts, ServiceLastSeen,
		})
	return nil
}

// RegisterEventConsumers subscribes to realtime events that have a durable side effect.
func (m *StoreModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageSentV1, m.handleMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageSent consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.PresenceChangedV1, m.handlePresenceChanged, m,
	); err != nil {
		return fmt.Errorf("failed to register PresenceChanged consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", []string{"MessageSent", "PresenceChanged"})
	return nil
}

// Service handlers

func (m *StoreModule) handleFindUser(ctx context.Context, req FindUserRequest, _ *mono.Msg) (FindUserResponse, error) {
	user, err := m.repo.FindUserByIdentity(ctx, req.UserID)
	if errors.Is(err, ErrNotFound) {
		return FindUserResponse{Found: false}, nil
	}
	if err != nil {
		return FindUserResponse{}, err
	}
	return FindUserResponse{Found: true, User: *user}, nil
}

func (m *StoreModule) handleInsertMessage(ctx context.Context, req InsertMessageRequest, _ *mono.Msg) (InsertMessageResponse, error) {
	msg, err := m.repo.InsertMessage(ctx, req.SenderID, req.ReceiverID, req.Body, req.Type)
	if err != nil {
		m.logger.Error("Insert message failed", "senderID", req.SenderID, "receiverID", req.ReceiverID, "error", err)
		return InsertMessageResponse{}, err
	}
	return InsertMessageResponse{Message: *msg}, nil
}

func (m *StoreModule) handleUpdateLastActivity(ctx context.Context, req UpdateLastActivityRequest, _ *mono.Msg) (AckResponse, error) {
	err := m.repo.UpdateLastActivity(ctx, req.UserID, req.IsOnline)
	if errors.Is(err, ErrNotFound) {
		return AckResponse{Found: false}, nil
	}
	if err != nil {
		return AckResponse{}, err
	}
	return AckResponse{Found: true}, nil
}

func (m *StoreModule) handleListOnlineUsers(ctx context.Context, req ListOnlineUsersRequest, _ *mono.Msg) (ListOnlineUsersResponse, error) {
	users, err := m.repo.ListOnlineUsers(ctx, req.Excluding)
	if err != nil {
		return ListOnlineUsersResponse{}, err
	}
	return ListOnlineUsersResponse{Users: users}, nil
}

func (m *StoreModule) handleUpsertFrequentContact(ctx context.Context, req FrequentContactRequest, _ *mono.Msg) (AckResponse, error) {
	if err := m.repo.UpsertFrequentContact(ctx, req.UserID, req.ContactID); err != nil {
		return AckResponse{}, err
	}
	return AckResponse{Found: true}, nil
}

func (m *StoreModule) handleMessageHistory(ctx context.Context, req MessageHistoryRequest, _ *mono.Msg) (MessageHistoryResponse, error) {
	messages, err := m.repo.MessageHistory(ctx, req.UserID, req.OtherUserID, req.Before, req.Limit)
	if err != nil {
		return MessageHistoryResponse{}, err
	}
	return MessageHistoryResponse{Messages: messages}, nil
}

func (m *StoreModule) handleMarkRead(ctx context.Context, req MarkReadRequest, _ *mono.Msg) (MarkReadResponse, error) {
	msg, err := m.repo.MarkRead(ctx, req.MessageID, req.ReaderID)
	switch {
	case errors.Is(err, ErrNotFound):
		return MarkReadResponse{Found: false}, nil
	case errors.Is(err, ErrForbidden):
		return MarkReadResponse{Found: true, Forbidden: true}, nil
	case err != nil:
		return MarkReadResponse{}, err
	}
	return MarkReadResponse{Found: true, Message: *msg}, nil
}

func (m *StoreModule) handleFrequentContacts(ctx context.Context, req FrequentContactsRequest, _ *mono.Msg) (FrequentContactsResponse, error) {
	contacts, err := m.repo.ListFrequentContacts(ctx, req.UserID, req.Limit)
	if err != nil {
		return FrequentContactsResponse{}, err
	}
	return FrequentContactsResponse{Contacts: contacts}, nil
}

func (m *StoreModule) handleLastSeen(ctx context.Context, req LastSeenRequest, _ *mono.Msg) (LastSeenResponse, error) {
	at, err := m.repo.LastSeen(ctx, req.UserID)
	if errors.Is(err, ErrNotFound) {
		return LastSeenResponse{Found: false}, nil
	}
	if err != nil {
		return LastSeenResponse{}, err
	}
	return LastSeenResponse{Found: true, At: at}, nil
}

// Event handlers

// handleMessageSent records the receiver as one of the sender's frequent contacts.
func (m *StoreModule) handleMessageSent(ctx context.Context, event events.MessageSentEvent, _ *mono.Msg) error {
	if err := m.repo.UpsertFrequentContact(ctx, event.SenderID, event.ReceiverID); err != nil {
		// Frequent contacts only bias sort order; a lost update is acceptable.
		m.logger.Warn("Frequent contact upsert failed",
			"senderID", event.SenderID, "receiverID", event.ReceiverID, "error", err)
	}
	return nil
}

func (m *StoreModule) handlePresenceChanged(ctx context.Context, event events.PresenceChangedEvent, _ *mono.Msg) error {
	at := event.ChangedAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := m.repo.RecordPresence(ctx, event.UserID, event.Status, at); err != nil {
		m.logger.Warn("Presence log append failed", "userID", event.UserID, "error", err)
	}
	return nil
}
