package realtime

import (
	"encoding/json"
	"time"
)

// Service names registered in the service container.
const (
	ServicePresence        = "presence"
	ServiceOnlineUsers     = "online-users"
	ServiceBroadcastTicket = "broadcast-ticket"
)

// PresenceRequest asks for one user's presence.
type PresenceRequest struct {
	UserID uint `json:"user_id"`
}

// PresenceResponse is a user's presence as seen by this process.
type PresenceResponse struct {
	UserID       uint       `json:"userId"`
	Status       string     `json:"status"`
	Override     string     `json:"override,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	Connections  int        `json:"connections"`
}

// OnlineUsersRequest lists online users, excluding one.
type OnlineUsersRequest struct {
	Excluding uint `json:"excluding"`
}

// OnlineUsersResponse is the online user list.
type OnlineUsersResponse struct {
	Users []OnlineUser `json:"users"`
}

// BroadcastTicketRequest pushes an event to every connection watching a ticket.
type BroadcastTicketRequest struct {
	TicketID string          `json:"ticket_id"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// BroadcastTicketResponse reports the outcome of a ticket broadcast.
type BroadcastTicketResponse struct {
	Accepted   bool   `json:"accepted"`
	Recipients int    `json:"recipients"`
	Error      string `json:"error,omitempty"`
}
