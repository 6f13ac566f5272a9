package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/domain/presence"
	"github.com/example/helpdesk-realtime/modules/realtime"
)

var epochUTC = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (gw *testGateway) do(t *testing.T, method, path, token string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := gw.module.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func TestAuthMiddleware(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())

	resp, body := gw.do(t, http.MethodGet, "/api/v1/users/online", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"unauthorized","message":"Missing bearer token"}`, string(body))

	resp, body = gw.do(t, http.MethodGet, "/api/v1/users/online", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"unauthorized","message":"invalid token"}`, string(body))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/online", nil)
	req.Header.Set("Authorization", "Basic abc")
	r, err := gw.module.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)

	// The query parameter is accepted for clients that cannot set headers.
	resp, _ = gw.do(t, http.MethodGet, "/api/v1/users/online?token="+tokenFor(alice), "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	gw.auth.down = true
	resp, _ = gw.do(t, http.MethodGet, "/api/v1/users/online", tokenFor(alice), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())
	resp, _ := gw.do(t, http.MethodGet, "/ws", tokenFor(alice), nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestGetHistory(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())
	ctx := context.Background()
	a, b := gw.users["Alice"], gw.users["Bob"]

	for _, body := range []string{"one", "two", "three"} {
		_, err := gw.repo.InsertMessage(ctx, a.ID, b.ID, body, helpdesk.MessageTypeText)
		require.NoError(t, err)
	}

	resp, body := gw.do(t, http.MethodGet, "/api/v1/messages/2?limit=2", tokenFor(alice), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history HistoryResponse
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "two", history.Messages[0].Body)
	assert.Equal(t, "three", history.Messages[1].Body)

	resp, _ = gw.do(t, http.MethodGet, "/api/v1/messages/abc", tokenFor(alice), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = gw.do(t, http.MethodGet, "/api/v1/messages/2?before=x", tokenFor(alice), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarkRead(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())
	a, b := gw.users["Alice"], gw.users["Bob"]
	msg, err := gw.repo.InsertMessage(context.Background(), a.ID, b.ID, "hello", helpdesk.MessageTypeText)
	require.NoError(t, err)

	path := "/api/v1/messages/" + itoa(msg.ID) + "/read"

	resp, _ := gw.do(t, http.MethodPatch, path, tokenFor(alice), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := gw.do(t, http.MethodPatch, path, tokenFor(bob), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var read helpdesk.Message
	require.NoError(t, json.Unmarshal(body, &read))
	assert.NotNil(t, read.ReadAt)

	resp, _ = gw.do(t, http.MethodPatch, "/api/v1/messages/999/read", tokenFor(bob), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListOnlineUsers(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())
	gw.presence.users = []realtime.OnlineUser{{UserID: 2, Name: "Bob", Status: presence.Busy}}

	resp, body := gw.do(t, http.MethodGet, "/api/v1/users/online", tokenFor(alice), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"users":[{"userId":2,"name":"Bob","email":"","status":"busy"}]}`, string(body))
	assert.Equal(t, gw.users["Alice"].ID, gw.presence.excluding)

	gw.presence.users = nil
	_, body = gw.do(t, http.MethodGet, "/api/v1/users/online", tokenFor(alice), nil)
	assert.JSONEq(t, `{"users":[]}`, string(body))
}

func TestGetPresence(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())

	resp, body := gw.do(t, http.MethodGet, "/api/v1/users/2/presence", tokenFor(alice), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"userId":2,"status":"away","connections":1}`, string(body))

	resp, _ = gw.do(t, http.MethodGet, "/api/v1/users/0/presence", tokenFor(alice), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetLastSeen(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())
	b := gw.users["Bob"]

	resp, _ := gw.do(t, http.MethodGet, "/api/v1/users/2/last-seen", tokenFor(alice), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, gw.repo.RecordPresence(context.Background(), b.ID, string(presence.Offline), epochUTC))
	resp, body := gw.do(t, http.MethodGet, "/api/v1/users/2/last-seen", tokenFor(alice), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var seen LastSeenResponse
	require.NoError(t, json.Unmarshal(body, &seen))
	assert.Equal(t, b.ID, seen.UserID)
	assert.True(t, epochUTC.Equal(seen.LastSeen))
}

func TestListFrequentContacts(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())
	a, b := gw.users["Alice"], gw.users["Bob"]
	require.NoError(t, gw.repo.UpsertFrequentContact(context.Background(), a.ID, b.ID))
	require.NoError(t, gw.repo.UpsertFrequentContact(context.Background(), a.ID, b.ID))

	resp, body := gw.do(t, http.MethodGet, "/api/v1/contacts/frequent", tokenFor(alice), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var contacts FrequentContactsResponse
	require.NoError(t, json.Unmarshal(body, &contacts))
	require.Len(t, contacts.Contacts, 1)
	assert.Equal(t, b.ID, contacts.Contacts[0].ContactID)
	assert.Equal(t, 2, contacts.Contacts[0].ContactCount)
}

func TestPushTicketEvent(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())

	resp, body := gw.do(t, http.MethodPost, "/api/v1/tickets/TCK-7/events", tokenFor(alice),
		strings.NewReader(`{"event":"ticket_updated","data":{"status":"open"}}`))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"ticketId":"TCK-7","recipients":3}`, string(body))
	require.Len(t, gw.presence.pushed, 1)
	assert.JSONEq(t, `{"status":"open"}`, string(gw.presence.pushed[0].Data))

	resp, _ = gw.do(t, http.MethodPost, "/api/v1/tickets/TCK-7/events", tokenFor(alice),
		strings.NewReader(`{"data":{}}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// coreTickets routes ticket pushes straight to the realtime service.
type coreTickets struct {
	*fakePresence
	svc *realtime.Service
}

func (p coreTickets) BroadcastTicket(_ context.Context, ticketID, event string, data json.RawMessage) (int, error) {
	return p.svc.BroadcastTicket(ticketID, event, data)
}

// recordingTransport keeps every event it is sent.
type recordingTransport struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTransport) Send(ev realtime.Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Event)
	return nil
}

func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestPushTicketEvent_RejectsCoreEventNames(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())
	gw.module.presence = coreTickets{fakePresence: gw.presence, svc: gw.module.service}

	watcher := &recordingTransport{}
	conn := gw.module.service.Connect(context.Background(), gw.users["Bob"].Identity(), watcher)
	require.NoError(t, gw.module.service.JoinTicket(conn.ID, "42"))
	before := len(watcher.received())

	for _, event := range []string{"new_message", "message_sent", "user_offline", "presence_update"} {
		resp, body := gw.do(t, http.MethodPost, "/api/v1/tickets/42/events", tokenFor(alice),
			strings.NewReader(`{"event":"`+event+`","data":{"message":"forged"}}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, event)
		assert.Contains(t, string(body), "reserved", event)
	}
	assert.Len(t, watcher.received(), before, "no event reaches the ticket room")

	resp, body := gw.do(t, http.MethodPost, "/api/v1/tickets/42/events", tokenFor(alice),
		strings.NewReader(`{"event":"ticket_updated","data":{"status":"open"}}`))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"ticketId":"42","recipients":1}`, string(body))
	assert.Equal(t, "ticket_updated", watcher.received()[before])
}

func TestHealthAndMetrics(t *testing.T) {
	gw := newTestGateway(t, defaultSocketConfig())

	resp, body := gw.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)

	resp, body = gw.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "helpdesk_connections")
	assert.Contains(t, string(body), "helpdesk_rooms")
}
