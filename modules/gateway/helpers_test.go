package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/helpdesk-realtime/config"
	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/domain/presence"
	"github.com/example/helpdesk-realtime/modules/auth"
	"github.com/example/helpdesk-realtime/modules/realtime"
	"github.com/example/helpdesk-realtime/modules/store"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

func newMockLogger() types.Logger {
	return &mockLogger{}
}

var (
	alice = helpdesk.User{Name: "Alice", Email: "alice@example.com", IsActive: true}
	bob   = helpdesk.User{Name: "Bob", Email: "bob@example.com", IsActive: true}
)

// fakeAuth accepts tokens equal to a known user's name in lower case.
type fakeAuth struct {
	identities map[string]helpdesk.Identity
	down       bool
}

func (a *fakeAuth) Authenticate(_ context.Context, token string) (helpdesk.Identity, error) {
	if a.down {
		return helpdesk.Identity{}, errors.New("authenticate request failed: nats: timeout")
	}
	identity, ok := a.identities[token]
	if !ok {
		return helpdesk.Identity{}, fmt.Errorf("%w: invalid token", auth.ErrAuthentication)
	}
	return identity, nil
}

// fakePresence is a canned realtime.RealtimePort.
type fakePresence struct {
	mu        sync.Mutex
	users     []realtime.OnlineUser
	excluding uint
	pushed    []realtime.BroadcastTicketRequest
}

func (p *fakePresence) Presence(_ context.Context, userID uint) (realtime.PresenceResponse, error) {
	return realtime.PresenceResponse{UserID: userID, Status: string(presence.Away), Connections: 1}, nil
}

func (p *fakePresence) OnlineUsers(_ context.Context, excluding uint) ([]realtime.OnlineUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.excluding = excluding
	return p.users, nil
}

func (p *fakePresence) BroadcastTicket(_ context.Context, ticketID, event string, data json.RawMessage) (int, error) {
	if event == "" {
		return 0, fmt.Errorf("%w: event name is required", realtime.ErrValidation)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, realtime.BroadcastTicketRequest{TicketID: ticketID, Event: event, Data: data})
	return 3, nil
}

type coreStub struct {
	svc *realtime.Service
	reg *prometheus.Registry
}

func (c coreStub) Service() *realtime.Service { return c.svc }
func (c coreStub) Gatherer() prometheus.Gatherer { return c.reg }

type testGateway struct {
	module   *GatewayModule
	repo     *store.Repository
	auth     *fakeAuth
	presence *fakePresence
	users    map[string]helpdesk.User
}

func newTestGateway(t *testing.T, socket config.SocketConfig) *testGateway {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "gateway.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	repo := store.NewRepository(db)
	require.NoError(t, repo.Migrate())

	gw := &testGateway{
		repo:     repo,
		auth:     &fakeAuth{identities: make(map[string]helpdesk.Identity)},
		presence: &fakePresence{},
		users:    make(map[string]helpdesk.User),
	}
	for _, u := range []helpdesk.User{alice, bob} {
		user := u
		require.NoError(t, repo.CreateUser(context.Background(), &user))
		gw.users[user.Name] = user
		gw.auth.identities[tokenFor(user)] = user.Identity()
	}

	reg := prometheus.NewRegistry()
	svc := realtime.NewService(realtime.Config{
		Thresholds:    presence.DefaultThresholds(),
		GraceWindow:   time.Second,
		SweepInterval: time.Minute,
	}, repo, nil, nil, newMockLogger(), reg)
	svc.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})

	m := NewModule("0", socket, newMockLogger())
	m.auth = gw.auth
	m.store = repo
	m.presence = gw.presence
	m.SetCore(coreStub{svc: svc, reg: reg})
	m.service = svc
	m.app = m.newApp()
	gw.module = m
	return gw
}

func tokenFor(u helpdesk.User) string {
	return "token-" + u.Name
}

func defaultSocketConfig() config.SocketConfig {
	return config.SocketConfig{
		SendBuffer:   64,
		RateLimit:    100,
		RateBurst:    100,
		PingInterval: 30 * time.Second,
	}
}
