package helpdesk

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageLength is the maximum message body length in runes.
const MaxMessageLength = 5000

// Validation errors. All of them wrap ErrValidation.
var (
	ErrValidation  = errors.New("validation failed")
	ErrEmptyBody   = fmt.Errorf("%w: message body cannot be empty", ErrValidation)
	ErrBodyTooLong = fmt.Errorf("%w: message body exceeds maximum length", ErrValidation)
	ErrInvalidType = fmt.Errorf("%w: message type must be one of text, emoji, file", ErrValidation)
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeEmoji MessageType = "emoji"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeEmoji, MessageTypeFile:
		return true
	}
	return false
}

// User is a helpdesk account as seen by the real-time core.
type User struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	Name         string     `gorm:"size:100;not null" json:"name"`
	Email        string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
	IsOnline     bool       `gorm:"not null;default:false;index" json:"is_online"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the table name for User model.
func (User) TableName() string {
	return "users"
}

// Identity returns the verified identity attached to a connection.
func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Name: u.Name, Email: u.Email}
}

// Identity is a verified user attached to a connection.
type Identity struct {
	UserID uint   `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Message is a persisted direct message between two users.
type Message struct {
	ID         uint        `gorm:"primarykey" json:"id"`
	SenderID   uint        `gorm:"not null;index:idx_messages_pair" json:"senderId"`
	ReceiverID uint        `gorm:"not null;index:idx_messages_pair" json:"receiverId"`
	Body       string      `gorm:"type:text;not null" json:"message"`
	Type       MessageType `gorm:"size:16;not null;default:text" json:"type"`
	CreatedAt  time.Time   `gorm:"index" json:"createdAt"`
	ReadAt     *time.Time  `json:"readAt"`
}

// TableName returns the table name for Message model.
func (Message) TableName() string {
	return "messages"
}

// FrequentContact biases the ordering of a user's contact list.
type FrequentContact struct {
	UserID        uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	ContactID     uint      `gorm:"primaryKey;autoIncrement:false" json:"contact_id"`
	ContactCount  int       `gorm:"not null;default:1" json:"contact_count"`
	LastContactAt time.Time `gorm:"index" json:"last_contact_at"`
}

// TableName returns the table name for FrequentContact model.
func (FrequentContact) TableName() string {
	return "frequent_contacts"
}

// PresenceLog is an append-only record of presence transitions.
type PresenceLog struct {
	ID     uint      `gorm:"primarykey" json:"id"`
	UserID uint      `gorm:"not null;index" json:"user_id"`
	Status string    `gorm:"size:16;not null" json:"status"`
	At     time.Time `gorm:"index" json:"at"`
}

// TableName returns the table name for PresenceLog model.
func (PresenceLog) TableName() string {
	return "presence_log"
}

// ValidateMessage checks a message body and type before it is persisted.
func ValidateMessage(body string, msgType MessageType) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return ErrBodyTooLong
	}
	if !msgType.Valid() {
		return ErrInvalidType
	}
	return nil
}
