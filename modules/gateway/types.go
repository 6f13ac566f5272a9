package gateway

import (
	"encoding/json"
	"time"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/modules/realtime"
)

// Inbound socket event names.
const (
	EventJoinChat       = "join_chat"
	EventLeaveChat      = "leave_chat"
	EventSendMessage    = "send_message"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventUpdatePresence = "update_presence"
	EventJoinTicket     = "join_ticket"
	EventLeaveTicket    = "leave_ticket"
)

// InboundEnvelope is one event received from a client.
type InboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ChatPayload is the body of join_chat and leave_chat.
type ChatPayload struct {
	OtherUserID uint `json:"otherUserId"`
}

// SendMessagePayload is the body of send_message.
type SendMessagePayload struct {
	ReceiverID uint   `json:"receiverId"`
	Message    string `json:"message"`
	Type       string `json:"type"`
}

// TypingPayload is the body of typing_start and typing_stop.
type TypingPayload struct {
	ReceiverID uint `json:"receiverId"`
}

// PresencePayload is the body of update_presence.
type PresencePayload struct {
	Status string `json:"status"`
}

// TicketPayload is the body of join_ticket and leave_ticket.
type TicketPayload struct {
	TicketID string `json:"ticketId"`
}

// HistoryResponse is the API response for message history.
type HistoryResponse struct {
	UserID   uint               `json:"userId"`
	Messages []helpdesk.Message `json:"messages"`
}

// OnlineUsersResponse is the API response for the online user list.
type OnlineUsersResponse struct {
	Users []realtime.OnlineUser `json:"users"`
}

// FrequentContactsResponse is the API response for frequent contacts.
type FrequentContactsResponse struct {
	Contacts []helpdesk.FrequentContact `json:"contacts"`
}

// LastSeenResponse is the API response for a user's last offline time.
type LastSeenResponse struct {
	UserID   uint      `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// TicketEventRequest is the API request to push an event to a ticket room.
type TicketEventRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// TicketEventResponse reports how many connections a ticket event targeted.
type TicketEventResponse struct {
	TicketID   string `json:"ticketId"`
	Recipients int    `json:"recipients"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
