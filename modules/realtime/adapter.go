package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// RealtimePort is the presence query and ticket push surface other modules use.
type RealtimePort interface {
	Presence(ctx context.Context, userID uint) (PresenceResponse, error)
	OnlineUsers(ctx context.Context, excluding uint) ([]OnlineUser, error)
	BroadcastTicket(ctx context.Context, ticketID, event string, data json.RawMessage) (int, error)
}

var _ RealtimePort = (*RealtimeAdapter)(nil)

// RealtimeAdapter implements RealtimePort using the service container.
type RealtimeAdapter struct {
	container mono.ServiceContainer
}

// NewRealtimeAdapter creates a new RealtimeAdapter.
func NewRealtimeAdapter(container mono.ServiceContainer) *RealtimeAdapter {
	if container == nil {
		panic("realtime: ServiceContainer is nil")
	}
	return &RealtimeAdapter{container: container}
}

func (a *RealtimeAdapter) call(ctx context.Context, service string, req, resp any) error {
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return fmt.Errorf("%s request failed: %w", service, err)
	}
	return nil
}

// Presence returns a user's current presence.
func (a *RealtimeAdapter) Presence(ctx context.Context, userID uint) (PresenceResponse, error) {
	var resp PresenceResponse
	err := a.call(ctx, ServicePresence, &PresenceRequest{UserID: userID}, &resp)
	return resp, err
}

// OnlineUsers lists online users other than excluding.
func (a *RealtimeAdapter) OnlineUsers(ctx context.Context, excluding uint) ([]OnlineUser, error) {
	var resp OnlineUsersResponse
	if err := a.call(ctx, ServiceOnlineUsers, &OnlineUsersRequest{Excluding: excluding}, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// BroadcastTicket pushes event to the ticket's watchers.
func (a *RealtimeAdapter) BroadcastTicket(ctx context.Context, ticketID, event string, data json.RawMessage) (int, error) {
	var resp BroadcastTicketResponse
	req := BroadcastTicketRequest{TicketID: ticketID, Event: event, Data: data}
	if err := a.call(ctx, ServiceBroadcastTicket, &req, &resp); err != nil {
		return 0, err
	}
	if !resp.Accepted {
		return 0, fmt.Errorf("%w: %s", ErrValidation, resp.Error)
	}
	return resp.Recipients, nil
}
