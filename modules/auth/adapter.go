package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
)

// AuthPort defines the interface for handshake authentication.
// This is the port that other modules use to access auth functionality.
type AuthPort interface {
	Authenticate(ctx context.Context, token string) (helpdesk.Identity, error)
}

var (
	_ AuthPort = (*AuthAdapter)(nil)
	_ AuthPort = (*Authenticator)(nil)
)

// AuthAdapter implements AuthPort using the service container.
type AuthAdapter struct {
	container mono.ServiceContainer
}

// NewAuthAdapter creates a new AuthAdapter.
func NewAuthAdapter(container mono.ServiceContainer) *AuthAdapter {
	return &AuthAdapter{container: container}
}

// Authenticate verifies a bearer token and returns the attached identity.
func (a *AuthAdapter) Authenticate(ctx context.Context, token string) (helpdesk.Identity, error) {
	req := AuthenticateRequest{Token: token}
	var resp AuthenticateResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceAuthenticate,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return helpdesk.Identity{}, fmt.Errorf("%s request failed: %w", ServiceAuthenticate, err)
	}

	if !resp.Valid {
		return helpdesk.Identity{}, fmt.Errorf("%w: %s", ErrAuthentication, resp.Error)
	}

	return helpdesk.Identity{
		UserID: resp.UserID,
		Name:   resp.Name,
		Email:  resp.Email,
	}, nil
}
