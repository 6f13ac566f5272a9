package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/modules/store"
)

var (
	// ErrAuthentication classifies every handshake rejection.
	ErrAuthentication = errors.New("authentication failed")
	// ErrMissingToken is returned when no credential was presented.
	ErrMissingToken = fmt.Errorf("%w: missing bearer token", ErrAuthentication)
	// ErrUnknownUser is returned when the token subject does not exist.
	ErrUnknownUser = fmt.Errorf("%w: unknown user", ErrAuthentication)
	// ErrUserDeactivated is returned when the token subject is deactivated.
	ErrUserDeactivated = fmt.Errorf("%w: user deactivated", ErrAuthentication)
)

// Authenticator gates connection handshakes.
type Authenticator struct {
	tokens *JWTManager
	users  UserFinder
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens *JWTManager, users UserFinder) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticate verifies rawToken and resolves it to an active user.
// Errors wrapping ErrAuthentication must reject the handshake; any other
// error means the user store could not be reached.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (helpdesk.Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return helpdesk.Identity{}, ErrMissingToken
	}

	claims, err := a.tokens.ValidateAccessToken(rawToken)
	if err != nil {
		return helpdesk.Identity{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	user, err := a.users.FindUserByIdentity(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return helpdesk.Identity{}, ErrUnknownUser
		}
		return helpdesk.Identity{}, fmt.Errorf("failed to resolve user %d: %w", claims.UserID, err)
	}
	if !user.IsActive {
		return helpdesk.Identity{}, ErrUserDeactivated
	}

	return user.Identity(), nil
}
