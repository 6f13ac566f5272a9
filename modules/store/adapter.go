package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
)

// StorePort defines the data-access operations other modules use.
type StorePort interface {
	FindUserByIdentity(ctx context.Context, id uint) (*helpdesk.User, error)
	InsertMessage(ctx context.Context, sender, receiver uint, body string, msgType helpdesk.MessageType) (*helpdesk.Message, error)
	UpsertFrequentContact(ctx context.Context, user, contact uint) error
	UpdateLastActivity(ctx context.Context, user uint, isOnline bool) error
	ListOnlineUsers(ctx context.Context, excluding uint) ([]helpdesk.User, error)
	MessageHistory(ctx context.Context, a, b, before uint, limit int) ([]helpdesk.Message, error)
	MarkRead(ctx context.Context, messageID, reader uint) (*helpdesk.Message, error)
	ListFrequentContacts(ctx context.Context, user uint, limit int) ([]helpdesk.FrequentContact, error)
	LastSeen(ctx context.Context, user uint) (time.Time, error)
}

var (
	_ StorePort = (*StoreAdapter)(nil)
	_ StorePort = (*Repository)(nil)
)

// StoreAdapter implements StorePort using the service container.
type StoreAdapter struct {
	container mono.ServiceContainer
}

// NewStoreAdapter creates a new StoreAdapter.
func NewStoreAdapter(container mono.ServiceContainer) *StoreAdapter {
	if container == nil {
		panic("store: ServiceContainer is nil")
	}
	return &StoreAdapter{container: container}
}

func (a *StoreAdapter) call(ctx context.Context, service string, req, resp any) error {
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

// FindUserByIdentity retrieves a user by ID.
func (a *StoreAdapter) FindUserByIdentity(ctx context.Context, id uint) (*helpdesk.User, error) {
	req := FindUserRequest{UserID: id}
	var resp FindUserResponse
	if err := a.call(ctx, ServiceFindUser, &req, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, ErrNotFound
	}
	return &resp.User, nil
}

// InsertMessage persists a message and returns it with its server id and timestamp.
func (a *StoreAdapter) InsertMessage(ctx context.Context, sender, receiver uint, body string, msgType helpdesk.MessageType) (*helpdesk.Message, error) {
	req := InsertMessageRequest{SenderID: sender, ReceiverID: receiver, Body: body, Type: msgType}
	var resp InsertMessageResponse
	if err := a.call(ctx, ServiceInsertMessage, &req, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// UpsertFrequentContact records one contact from user to contact.
func (a *StoreAdapter) UpsertFrequentContact(ctx context.Context, user, contact uint) error {
	req := FrequentContactRequest{UserID: user, ContactID: contact}
	var resp AckResponse
	return a.call(ctx, ServiceUpsertFrequentContact, &req, &resp)
}

// UpdateLastActivity stamps a user's activity and online flag.
func (a *StoreAdapter) UpdateLastActivity(ctx context.Context, user uint, isOnline bool) error {
	req := UpdateLastActivityRequest{UserID: user, IsOnline: isOnline}
	var resp AckResponse
	if err := a.call(ctx, ServiceUpdateLastActivity, &req, &resp); err != nil {
		return err
	}
	if !resp.Found {
		return ErrNotFound
	}
	return nil
}

// ListOnlineUsers lists active online users other than excluding.
func (a *StoreAdapter) ListOnlineUsers(ctx context.Context, excluding uint) ([]helpdesk.User, error) {
	req := ListOnlineUsersRequest{Excluding: excluding}
	var resp ListOnlineUsersResponse
	if err := a.call(ctx, ServiceListOnlineUsers, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// MessageHistory returns a page of the conversation between a and b, oldest first.
func (a *StoreAdapter) MessageHistory(ctx context.Context, userA, userB, before uint, limit int) ([]helpdesk.Message, error) {
	req := MessageHistoryRequest{UserID: userA, OtherUserID: userB, Before: before, Limit: limit}
	var resp MessageHistoryResponse
	if err := a.call(ctx, ServiceMessageHistory, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// MarkRead marks a message read on behalf of reader.
func (a *StoreAdapter) MarkRead(ctx context.Context, messageID, reader uint) (*helpdesk.Message, error) {
	req := MarkReadRequest{MessageID: messageID, ReaderID: reader}
	var resp MarkReadResponse
	if err := a.call(ctx, ServiceMarkRead, &req, &resp); err != nil {
		return nil, err
	}
	switch {
	case !resp.Found:
		return nil, ErrNotFound
	case resp.Forbidden:
		return nil, ErrForbidden
	}
	return &resp.Message, nil
}

// ListFrequentContacts returns the user's frequent contacts.
func (a *StoreAdapter) ListFrequentContacts(ctx context.Context, user uint, limit int) ([]helpdesk.FrequentContact, error) {
	req := FrequentContactsRequest{UserID: user, Limit: limit}
	var resp FrequentContactsResponse
	if err := a.call(ctx, ServiceFrequentContacts, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// LastSeen returns when the user last went offline.
func (a *StoreAdapter) LastSeen(ctx context.Context, user uint) (time.Time, error) {
	req := LastSeenRequest{UserID: user}
	var resp LastSeenResponse
	if err := a.call(ctx, ServiceLastSeen, &req, &resp); err != nil {
		return time.Time{}, err
	}
	if !resp.Found {
		return time.Time{}, ErrNotFound
	}
	return resp.At, nil
}
