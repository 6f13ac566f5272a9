package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"

	"github.com/example/helpdesk-realtime/config"
	"github.com/example/helpdesk-realtime/modules/store"
)

const userCachePrefix = "helpdesk:user:"

// AuthModule verifies connection credentials.
type AuthModule struct {
	jwtConfig     config.JWTConfig
	cacheConfig   config.CacheConfig
	users         UserFinder
	redis         *redis.Client
	authenticator *Authenticator
	logger        types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*AuthModule)(nil)
	_ mono.DependentModule       = (*AuthModule)(nil)
	_ mono.ServiceProviderModule = (*AuthModule)(nil)
	_ mono.HealthCheckableModule = (*AuthModule)(nil)
)

// NewModule creates a new AuthModule.
func NewModule(jwtConfig config.JWTConfig, cacheConfig config.CacheConfig, logger types.Logger) *AuthModule {
	return &AuthModule{
		jwtConfig:   jwtConfig,
		cacheConfig: cacheConfig,
		logger:      logger.WithModule("auth"),
	}
}

// Name returns the module name.
func (m *AuthModule) Name() string {
	return "auth"
}

// Dependencies returns the list of module dependencies.
func (m *AuthModule) Dependencies() []string {
	return []string{"store"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *AuthModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "store":
		m.users = store.NewStoreAdapter(container)
	}
}

// Start builds the authenticator and connects the optional user cache.
func (m *AuthModule) Start(ctx context.Context) error {
	if m.users == nil {
		return errors.New("store adapter dependency not set")
	}

	var cache UserCache
	if m.cacheConfig.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: m.cacheConfig.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			m.logger.Warn("Redis unavailable, running without user cache", "addr", m.cacheConfig.RedisAddr, "error", err)
			client.Close()
		} else {
			m.redis = client
			cache = NewRedisUserCache(client, userCachePrefix, m.cacheConfig.TTL)
		}
	}

	tokens := NewJWTManager(JWTConfig{
		SecretKey: m.jwtConfig.Secret,
		Issuer:    m.jwtConfig.Issuer,
	})
	m.authenticator = NewAuthenticator(tokens, NewUserLookup(m.users, cache, m.logger))

	m.logger.Info("Module started", "user_cache", cache != nil)
	return nil
}

// Stop closes the cache connection.
func (m *AuthModule) Stop(_ context.Context) error {
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			m.logger.Warn("Failed to close redis client", "error", err)
		}
	}
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *AuthModule) Health(ctx context.Context) mono.HealthStatus {
	if m.authenticator == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}

	details := map[string]any{"user_cache": m.redis != nil}
	if m.redis != nil {
		if err := m.redis.Ping(ctx).Err(); err != nil {
			details["user_cache_error"] = err.Error()
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *AuthModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceAuthenticate,
		json.Unmarshal,
		json.Marshal,
		m.handleAuthenticate,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceAuthenticate, err)
	}

	m.logger.Info("Registered services", "services", []string{ServiceAuthenticate})
	return nil
}

// handleAuthenticate handles handshake verification.
func (m *AuthModule) handleAuthenticate(ctx context.Context, req AuthenticateRequest, _ *mono.Msg) (AuthenticateResponse, error) {
	identity, err := m.authenticator.Authenticate(ctx, req.Token)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			// Return response, not error, for credential failures
			return AuthenticateResponse{
				Valid: false,
				Error: strings.TrimPrefix(err.Error(), ErrAuthentication.Error()+": "),
			}, nil
		}
		m.logger.Error("Authentication lookup failed", "error", err)
		return AuthenticateResponse{}, err
	}

	return AuthenticateResponse{
		Valid:  true,
		UserID: identity.UserID,
		Name:   identity.Name,
		Email:  identity.Email,
	}, nil
}
