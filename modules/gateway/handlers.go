package gateway

import (
	"errors"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/helpdesk-realtime/modules/realtime"
	"github.com/example/helpdesk-realtime/modules/store"
)

const (
	defaultHistoryLimit  = 50
	maxHistoryLimit      = 200
	defaultContactsLimit = 20
)

// setupRoutes configures all HTTP routes.
func (m *GatewayModule) setupRoutes(app *fiber.App) {
	// Health check
	app.Get("/health", m.healthHandler)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.core.Gatherer(), promhttp.HandlerOpts{})))

	requireAuth := authMiddleware(m.auth, m.logger)

	// WebSocket endpoint
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", requireAuth, websocket.New(m.handleWebSocket))

	// REST API v1
	api := app.Group("/api/v1", requireAuth)

	api.Get("/messages/:userId", m.getHistory)
	api.Patch("/messages/:id/read", m.markRead)
	api.Get("/users/online", m.listOnlineUsers)
	api.Get("/users/:id/presence", m.getPresence)
	api.Get("/users/:id/last-seen", m.getLastSeen)
	api.Get("/contacts/frequent", m.listFrequentContacts)
	api.Post("/tickets/:id/events", m.pushTicketEvent)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "validation_error",
		Message: message,
	})
}

func notFound(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Error:   "not_found",
		Message: message,
	})
}

func internalError(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// paramID parses a positive integer route parameter.
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// queryLimit parses the limit query parameter, falling back to def and
// capping at max.
func queryLimit(c *fiber.Ctx, def, max int) int {
	limit := c.QueryInt("limit", def)
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// healthHandler handles GET /health.
func (m *GatewayModule) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":            "gateway",
			"connected_clients": m.service.Registry().Count(),
			"online_users":      m.service.Registry().UserCount(),
			"rooms":             m.service.Rooms().RoomCount(),
		},
	})
}

// getHistory handles GET /api/v1/messages/:userId.
func (m *GatewayModule) getHistory(c *fiber.Ctx) error {
	other, ok := paramID(c, "userId")
	if !ok {
		return badRequest(c, "Invalid user id")
	}
	var before uint
	if b := c.Query("before"); b != "" {
		parsed, err := strconv.ParseUint(b, 10, 64)
		if err != nil {
			return badRequest(c, "Invalid before cursor")
		}
		before = uint(parsed)
	}
	limit := queryLimit(c, defaultHistoryLimit, maxHistoryLimit)

	me := identityFrom(c)
	messages, err := m.store.MessageHistory(c.UserContext(), me.UserID, other, before, limit)
	if err != nil {
		m.logger.Error("Failed to load message history", "userID", me.UserID, "otherID", other, "error", err)
		return internalError(c, "history_failed", "Failed to load message history")
	}

	return c.JSON(HistoryResponse{UserID: other, Messages: messages})
}

// markRead handles PATCH /api/v1/messages/:id/read.
func (m *GatewayModule) markRead(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid message id")
	}

	msg, err := m.store.MarkRead(c.UserContext(), id, identityFrom(c).UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound(c, "Message not found")
	case errors.Is(err, store.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Error:   "forbidden",
			Message: "Only the receiver can mark a message as read",
		})
	case err != nil:
		m.logger.Error("Failed to mark message read", "messageID", id, "error", err)
		return internalError(c, "update_failed", "Failed to mark message as read")
	}

	return c.JSON(msg)
}

// listOnlineUsers handles GET /api/v1/users/online.
func (m *GatewayModule) listOnlineUsers(c *fiber.Ctx) error {
	users, err := m.presence.OnlineUsers(c.UserContext(), identityFrom(c).UserID)
	if err != nil {
		m.logger.Error("Failed to list online users", "error", err)
		return internalError(c, "list_failed", "Failed to list online users")
	}
	if users == nil {
		users = []realtime.OnlineUser{}
	}
	return c.JSON(OnlineUsersResponse{Users: users})
}

// getPresence handles GET /api/v1/users/:id/presence.
func (m *GatewayModule) getPresence(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid user id")
	}
	resp, err := m.presence.Presence(c.UserContext(), id)
	if err != nil {
		m.logger.Error("Failed to query presence", "userID", id, "error", err)
		return internalError(c, "presence_failed", "Failed to query presence")
	}
	return c.JSON(resp)
}

// getLastSeen handles GET /api/v1/users/:id/last-seen.
func (m *GatewayModule) getLastSeen(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid user id")
	}
	at, err := m.store.LastSeen(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "User has not been seen offline")
	}
	if err != nil {
		m.logger.Error("Failed to load last seen", "userID", id, "error", err)
		return internalError(c, "last_seen_failed", "Failed to load last seen time")
	}
	return c.JSON(LastSeenResponse{UserID: id, LastSeen: at})
}

// listFrequentContacts handles GET /api/v1/contacts/frequent.
func (m *GatewayModule) listFrequentContacts(c *fiber.Ctx) error {
	me := identityFrom(c)
	contacts, err := m.store.ListFrequentContacts(c.UserContext(), me.UserID,
		queryLimit(c, defaultContactsLimit, maxHistoryLimit))
	if err != nil {
		m.logger.Error("Failed to list frequent contacts", "userID", me.UserID, "error", err)
		return internalError(c, "list_failed", "Failed to list frequent contacts")
	}
	return c.JSON(FrequentContactsResponse{Contacts: contacts})
}

// pushTicketEvent handles POST /api/v1/tickets/:id/events.
func (m *GatewayModule) pushTicketEvent(c *fiber.Ctx) error {
	ticketID := c.Params("id")
	var req TicketEventRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	n, err := m.presence.BroadcastTicket(c.UserContext(), ticketID, req.Event, req.Data)
	if errors.Is(err, realtime.ErrValidation) {
		return badRequest(c, err.Error())
	}
	if err != nil {
		m.logger.Error("Failed to push ticket event", "ticketID", ticketID, "error", err)
		return internalError(c, "push_failed", "Failed to push ticket event")
	}

	return c.Status(fiber.StatusAccepted).JSON(TicketEventResponse{TicketID: ticketID, Recipients: n})
}
