// Package realtime is the in-memory presence and messaging core: which
// connections exist, which rooms they are in, who is online, and how chat
// messages reach them.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
)

// Error taxonomy of the core. Validation errors come from the helpdesk domain.
var (
	ErrValidation        = helpdesk.ErrValidation
	ErrPersistence       = errors.New("persistence failed")
	ErrTransport         = errors.New("transport failed")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrInvalidReceiver   = fmt.Errorf("%w: receiver is required", helpdesk.ErrValidation)
	ErrInvalidTicket     = fmt.Errorf("%w: ticket id is required", helpdesk.ErrValidation)
	ErrInvalidPresence   = fmt.Errorf("%w: presence must be one of online, away, busy", helpdesk.ErrValidation)
)

// ConnID identifies one transport connection.
type ConnID string

// Transport delivers outbound events to one client connection. Send must not
// block; a connection that cannot accept the event returns an error wrapping
// ErrTransport.
type Transport interface {
	Send(ev Outbound) error
	Close() error
}

// Connection is a live, authenticated client connection.
type Connection struct {
	ID        ConnID
	Identity  helpdesk.Identity
	CreatedAt time.Time

	transport Transport
}

// NewConnection creates a connection bound to transport.
func NewConnection(id ConnID, identity helpdesk.Identity, createdAt time.Time, transport Transport) *Connection {
	return &Connection{ID: id, Identity: identity, CreatedAt: createdAt, transport: transport}
}

// UserID returns the owning user's id.
func (c *Connection) UserID() uint {
	return c.Identity.UserID
}

// Send delivers ev to this connection.
func (c *Connection) Send(ev Outbound) error {
	return c.transport.Send(ev)
}

// Close closes the underlying transport.
func (c *Connection) Close() error {
	return c.transport.Close()
}

// DataAccess is the persistence collaborator used by the core.
type DataAccess interface {
	InsertMessage(ctx context.Context, sender, receiver uint, body string, msgType helpdesk.MessageType) (*helpdesk.Message, error)
	UpdateLastActivity(ctx context.Context, user uint, isOnline bool) error
	ListOnlineUsers(ctx context.Context, excluding uint) ([]helpdesk.User, error)
}

// ContactRecorder records that a message was exchanged. Used for the
// frequent-contact side effect of a send; failures are never fatal.
type ContactRecorder interface {
	RecordContact(ctx context.Context, msg *helpdesk.Message) error
}

// PresencePublisher announces presence transitions outside the process-local fan-out.
type PresencePublisher interface {
	PublishPresence(ctx context.Context, change Change) error
}
