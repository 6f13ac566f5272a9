package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/domain/presence"
)

// Config configures the core service.
type Config struct {
	Thresholds    presence.Thresholds
	GraceWindow   time.Duration
	SweepInterval time.Duration
	EvictStale    bool

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// OnlineUser is one entry of the online user list.
type OnlineUser struct {
	UserID uint            `json:"userId"`
	Name   string          `json:"name"`
	Email  string          `json:"email"`
	Status presence.Status `json:"status"`
}

// Service dispatches client events to the registry, rooms, presence
// tracker and relay.
type Service struct {
	clock       clock.Clock
	rooms       *Rooms
	registry    *Registry
	tracker     *Tracker
	broadcaster *Broadcaster
	relay       *Relay
	data        DataAccess
	logger      types.Logger
	metrics     *Metrics
}

// NewService wires the core. Collectors are registered with reg; a nil reg
// gets a private registry.
func NewService(cfg Config, data DataAccess, contacts ContactRecorder, publisher PresencePublisher,
	logger types.Logger, reg prometheus.Registerer) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Service{
		clock:  clk,
		rooms:  NewRooms(),
		data:   data,
		logger: logger,
	}
	s.registry = NewRegistry(s.rooms)
	s.metrics = NewMetrics(reg, s.rooms.RoomCount)
	s.broadcaster = newBroadcaster(s.registry, s.fanout, data, publisher, clk,
		cfg.SweepInterval, cfg.EvictStale, logger, s.metrics)
	s.tracker = NewTracker(clk, cfg.Thresholds, cfg.GraceWindow, s.registry, s.broadcaster.Notify)
	s.broadcaster.tracker = s.tracker
	s.relay = newRelay(data, s.fanout, contacts, logger, s.metrics)
	return s
}

// Start launches the presence sweeper.
func (s *Service) Start() {
	s.broadcaster.Start()
}

// Stop stops the sweeper, cancels grace timers and closes every connection.
func (s *Service) Stop(ctx context.Context) error {
	err := s.broadcaster.Stop(ctx)
	s.tracker.Stop()
	s.registry.Each(func(conn *Connection) bool {
		_ = conn.Close()
		return true
	})
	return err
}

// Registry returns the connection registry.
func (s *Service) Registry() *Registry { return s.registry }

// Rooms returns the room manager.
func (s *Service) Rooms() *Rooms { return s.rooms }

// Tracker returns the presence tracker.
func (s *Service) Tracker() *Tracker { return s.tracker }

// Sweep runs one presence sweep immediately and returns the number of users
// found stale while still connected.
func (s *Service) Sweep() int {
	return s.broadcaster.SweepOnce()
}

// fanout sends ev to every member of room. A member that cannot accept the
// event is skipped.
func (s *Service) fanout(room string, ev Outbound, excludeUser uint) {
	for _, id := range s.rooms.Members(room) {
		conn, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		if excludeUser != 0 && conn.UserID() == excludeUser {
			continue
		}
		if err := conn.Send(ev); err != nil {
			s.metrics.drop(ev.Event)
			s.logger.Debug("Dropped outbound event",
				"event", ev.Event, "connID", conn.ID, "userID", conn.UserID(), "error", err)
		}
	}
}

// Connect registers an authenticated connection and sends it the current
// online user list.
func (s *Service) Connect(ctx context.Context, identity helpdesk.Identity, transport Transport) *Connection {
	conn := NewConnection(ConnID(uuid.NewString()), identity, s.clock.Now(), transport)
	first := s.registry.Register(conn)
	s.metrics.connected()
	s.tracker.Connected(identity)

	s.logger.Info("Client connected",
		"connID", conn.ID, "userID", identity.UserID, "first", first, "connections", s.registry.Count())

	users, err := s.OnlineUsers(ctx, identity.UserID)
	if err != nil {
		s.logger.Warn("Failed to list online users", "userID", identity.UserID, "error", err)
		return conn
	}
	if err := conn.Send(Outbound{Event: EventOnlineUsers, Data: users}); err != nil {
		s.metrics.drop(EventOnlineUsers)
	}
	return conn
}

// Disconnect removes the connection. Unknown ids are ignored.
func (s *Service) Disconnect(id ConnID) {
	conn, last, ok := s.registry.Unregister(id)
	if !ok {
		return
	}
	s.metrics.disconnected()
	if last {
		s.tracker.Disconnected(conn.UserID())
	}
	s.logger.Info("Client disconnected", "connID", id, "userID", conn.UserID(), "last", last)
}

func (s *Service) connection(id ConnID) (*Connection, error) {
	conn, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return conn, nil
}

// join adds the connection to key. A connection unregistered concurrently
// is taken back out so no stale membership survives.
func (s *Service) join(conn *Connection, key string) {
	s.rooms.Join(conn.ID, key)
	if _, ok := s.registry.Get(conn.ID); !ok {
		s.rooms.Leave(conn.ID, key)
	}
}

// JoinChat joins the direct chat room shared with otherUserID.
func (s *Service) JoinChat(id ConnID, otherUserID uint) error {
	conn, err := s.connection(id)
	if err != nil {
		return err
	}
	if otherUserID == 0 {
		return ErrInvalidReceiver
	}
	s.tracker.Touch(conn.Identity)
	s.join(conn, PairRoom(conn.UserID(), otherUserID))
	return nil
}

// LeaveChat leaves the direct chat room shared with otherUserID.
func (s *Service) LeaveChat(id ConnID, otherUserID uint) error {
	conn, err := s.connection(id)
	if err != nil {
		return err
	}
	if otherUserID == 0 {
		return ErrInvalidReceiver
	}
	s.tracker.Touch(conn.Identity)
	s.rooms.Leave(conn.ID, PairRoom(conn.UserID(), otherUserID))
	return nil
}

// SendMessage relays a chat message from the connection's user. Failures are
// reported with message_error on this connection only.
func (s *Service) SendMessage(ctx context.Context, id ConnID, receiverID uint, body string, msgType helpdesk.MessageType) (*helpdesk.Message, error) {
	conn, err := s.connection(id)
	if err != nil {
		return nil, err
	}
	s.tracker.Touch(conn.Identity)

	msg, err := s.relay.Send(ctx, conn.Identity, receiverID, body, msgType)
	if err != nil {
		if sendErr := conn.Send(Outbound{Event: EventMessageError, Data: ErrorPayload{Error: clientError(err)}}); sendErr != nil {
			s.metrics.drop(EventMessageError)
		}
		return nil, err
	}
	return msg, nil
}

// clientError is the message_error text for err.
func clientError(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
	case errors.Is(err, ErrPersistence):
		return "Failed to send message"
	default:
		return "Request failed"
	}
}

// Typing tells receiverID that the connection's user started or stopped typing.
func (s *Service) Typing(id ConnID, receiverID uint, typing bool) error {
	conn, err := s.connection(id)
	if err != nil {
		return err
	}
	if receiverID == 0 {
		return ErrInvalidReceiver
	}
	s.tracker.Touch(conn.Identity)
	s.fanout(PersonalRoom(receiverID), Outbound{
		Event: EventUserTyping,
		Data: TypingPayload{
			UserID: conn.UserID(),
			Name:   conn.Identity.Name,
			Typing: typing,
		},
		LowPriority: true,
	}, 0)
	return nil
}

// UpdatePresence applies a manual status for the connection's user.
func (s *Service) UpdatePresence(id ConnID, status string) error {
	conn, err := s.connection(id)
	if err != nil {
		return err
	}
	st, err := presence.ParseStatus(status)
	if err != nil {
		return ErrInvalidPresence
	}
	return s.tracker.SetOverride(conn.Identity, st)
}

// JoinTicket subscribes the connection to a ticket's room.
func (s *Service) JoinTicket(id ConnID, ticketID string) error {
	conn, err := s.connection(id)
	if err != nil {
		return err
	}
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return ErrInvalidTicket
	}
	s.tracker.Touch(conn.Identity)
	s.join(conn, TicketRoom(ticketID))
	return nil
}

// LeaveTicket unsubscribes the connection from a ticket's room.
func (s *Service) LeaveTicket(id ConnID, ticketID string) error {
	conn, err := s.connection(id)
	if err != nil {
		return err
	}
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return ErrInvalidTicket
	}
	s.tracker.Touch(conn.Identity)
	s.rooms.Leave(conn.ID, TicketRoom(ticketID))
	return nil
}

// BroadcastTicket delivers an event to every connection watching a ticket
// and returns how many connections were targeted. Names of core events are
// rejected.
func (s *Service) BroadcastTicket(ticketID, event string, data any) (int, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return 0, ErrInvalidTicket
	}
	if event == "" {
		return 0, fmt.Errorf("%w: event name is required", ErrValidation)
	}
	if IsCoreEvent(event) {
		return 0, fmt.Errorf("%w: event name %q is reserved", ErrValidation, event)
	}
	key := TicketRoom(ticketID)
	n := s.rooms.Size(key)
	s.fanout(key, Outbound{Event: event, Data: data}, 0)
	return n, nil
}

// OnlineUsers lists users marked online, excluding the caller, with their
// current presence.
func (s *Service) OnlineUsers(ctx context.Context, excluding uint) ([]OnlineUser, error) {
	users, err := s.data.ListOnlineUsers(ctx, excluding)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	out := make([]OnlineUser, 0, len(users))
	for _, u := range users {
		status := s.tracker.Status(u.ID)
		if status == presence.Offline {
			continue
		}
		out = append(out, OnlineUser{UserID: u.ID, Name: u.Name, Email: u.Email, Status: status})
	}
	return out, nil
}

// Presence returns the user's current presence.
func (s *Service) Presence(userID uint) PresenceSnapshot {
	snap, ok := s.tracker.Snapshot(userID)
	if !ok {
		return PresenceSnapshot{Identity: helpdesk.Identity{UserID: userID}, Status: presence.Offline}
	}
	return snap
}
