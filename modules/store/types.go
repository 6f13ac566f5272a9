package store

import (
	"time"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
)

// Service names registered in the store module's service container.
const (
	ServiceFindUser              = "find-user"
	ServiceInsertMessage         = "insert-message"
	ServiceUpdateLastActivity    = "update-last-activity"
	ServiceListOnlineUsers       = "list-online-users"
	ServiceUpsertFrequentContact = "upsert-frequent-contact"
	ServiceMessageHistory        = "message-history"
	ServiceMarkRead              = "mark-read"
	ServiceFrequentContacts      = "frequent-contacts"
	ServiceLastSeen              = "last-seen"
)

// FindUserRequest looks up a user by id.
type FindUserRequest struct {
	UserID uint `json:"user_id"`
}

// FindUserResponse carries the user when found.
type FindUserResponse struct {
	Found bool          `json:"found"`
	User  helpdesk.User `json:"user"`
}

// InsertMessageRequest persists a message.
type InsertMessageRequest struct {
	SenderID   uint                 `json:"sender_id"`
	ReceiverID uint                 `json:"receiver_id"`
	Body       string               `json:"body"`
	Type       helpdesk.MessageType `json:"type"`
}

// InsertMessageResponse carries the persisted message.
type InsertMessageResponse struct {
	Message helpdesk.Message `json:"message"`
}

// UpdateLastActivityRequest stamps a user's activity.
type UpdateLastActivityRequest struct {
	UserID   uint `json:"user_id"`
	IsOnline bool `json:"is_online"`
}

// ListOnlineUsersRequest lists online users except one.
type ListOnlineUsersRequest struct {
	Excluding uint `json:"excluding"`
}

// ListOnlineUsersResponse carries the online users.
type ListOnlineUsersResponse struct {
	Users []helpdesk.User `json:"users"`
}

// FrequentContactRequest records one contact between two users.
type FrequentContactRequest struct {
	UserID    uint `json:"user_id"`
	ContactID uint `json:"contact_id"`
}

// AckResponse is returned by write services with no payload.
type AckResponse struct {
	Found bool `json:"found"`
}

// MessageHistoryRequest pages through a conversation.
type MessageHistoryRequest struct {
	UserID      uint `json:"user_id"`
	OtherUserID uint `json:"other_user_id"`
	Before      uint `json:"before"`
	Limit       int  `json:"limit"`
}

// MessageHistoryResponse carries a page of messages, oldest first.
type MessageHistoryResponse struct {
	Messages []helpdesk.Message `json:"messages"`
}

// MarkReadRequest marks a message read on behalf of its receiver.
type MarkReadRequest struct {
	MessageID uint `json:"message_id"`
	ReaderID  uint `json:"reader_id"`
}

// MarkReadResponse carries the updated message.
type MarkReadResponse struct {
	Found     bool             `json:"found"`
	Forbidden bool             `json:"forbidden"`
	Message   helpdesk.Message `json:"message"`
}

// FrequentContactsRequest lists a user's frequent contacts.
type FrequentContactsRequest struct {
	UserID uint `json:"user_id"`
	Limit  int  `json:"limit"`
}

// FrequentContactsResponse carries the contacts, most recent first.
type FrequentContactsResponse struct {
	Contacts []helpdesk.FrequentContact `json:"contacts"`
}

// LastSeenRequest asks when a user last went offline.
type LastSeenRequest struct {
	UserID uint `json:"user_id"`
}

// LastSeenResponse carries the last offline transition time.
type LastSeenResponse struct {
	Found bool      `json:"found"`
	At    time.Time `json:"at"`
}
