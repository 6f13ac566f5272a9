package realtime

import (
	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/domain/presence"
)

// Outbound event names.
const (
	EventNewMessage     = "new_message"
	EventMessageSent    = "message_sent"
	EventMessageError   = "message_error"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventUserTyping     = "user_typing"
	EventPresenceUpdate = "presence_update"
	EventOnlineUsers    = "online_users"
	EventError          = "error"
)

// coreEvents are emitted only by the core itself. Ticket pushes may not
// reuse them, so a chat message or presence change seen by a client always
// comes from the core.
var coreEvents = map[string]struct{}{
	EventNewMessage:     {},
	EventMessageSent:    {},
	EventMessageError:   {},
	EventUserOnline:     {},
	EventUserOffline:    {},
	EventUserTyping:     {},
	EventPresenceUpdate: {},
	EventOnlineUsers:    {},
	EventError:          {},
}

// IsCoreEvent reports whether name is reserved for events the core emits.
func IsCoreEvent(name string) bool {
	_, ok := coreEvents[name]
	return ok
}

// Outbound is one event delivered to a client.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`

	// LowPriority events may be dropped by a congested transport.
	LowPriority bool `json:"-"`
}

// UserPresencePayload is the body of user_online and user_offline.
type UserPresencePayload struct {
	UserID uint   `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// PresenceUpdatePayload is the body of presence_update.
type PresenceUpdatePayload struct {
	UserID uint            `json:"userId"`
	Name   string          `json:"name"`
	Status presence.Status `json:"status"`
}

// TypingPayload is the body of user_typing.
type TypingPayload struct {
	UserID uint   `json:"userId"`
	Name   string `json:"name"`
	Typing bool   `json:"typing"`
}

// ErrorPayload is the body of message_error and error.
type ErrorPayload struct {
	Error string `json:"error"`
}

func userPresence(id helpdesk.Identity) UserPresencePayload {
	return UserPresencePayload{UserID: id.UserID, Name: id.Name, Email: id.Email}
}
