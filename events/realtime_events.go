package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// MessageSentEvent is emitted after a message has been persisted and fanned out.
type MessageSentEvent struct {
	MessageID  uint      `json:"message_id"`
	SenderID   uint      `json:"sender_id"`
	ReceiverID uint      `json:"receiver_id"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
}

// PresenceChangedEvent is emitted on every presence transition.
type PresenceChangedEvent struct {
	UserID    uint      `json:"user_id"`
	Status    string    `json:"status"`
	Previous  string    `json:"previous"`
	ChangedAt time.Time `json:"changed_at"`
}

// Event definitions for the realtime domain.
var (
	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"realtime",
		"MessageSent",
		"v1",
	)

	PresenceChangedV1 = helper.EventDefinition[PresenceChangedEvent](
		"realtime",
		"PresenceChanged",
		"v1",
	)
)
