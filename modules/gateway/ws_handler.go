package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/modules/realtime"
)

var errUnknownEvent = errors.New("unknown event")

// newLimiter builds the per-connection inbound rate limiter.
func (m *GatewayModule) newLimiter() *rate.Limiter {
	if m.socket.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := m.socket.RateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(m.socket.RateLimit), burst)
}

// handleWebSocket serves one authenticated client at /ws.
func (m *GatewayModule) handleWebSocket(c *websocket.Conn) {
	identity, ok := c.Locals(localsIdentity).(helpdesk.Identity)
	if !ok {
		_ = c.WriteJSON(realtime.Outbound{Event: realtime.EventError, Data: realtime.ErrorPayload{Error: "unauthenticated"}})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := newWSConn(c.Conn, m.socket.SendBuffer, m.socket.PingInterval, m.logger)
	if deadline := transport.readDeadline(); !deadline.IsZero() {
		_ = c.SetReadDeadline(deadline)
	}
	c.SetPongHandler(transport.pongHandler)
	go transport.writePump()

	conn := m.service.Connect(ctx, identity, transport)
	defer func() {
		m.service.Disconnect(conn.ID)
		_ = transport.Close()
		transport.wait()
	}()

	limiter := m.newLimiter()
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("Client closed connection", "connID", conn.ID, "userID", identity.UserID)
			} else {
				m.logger.Debug("Websocket read ended", "connID", conn.ID, "userID", identity.UserID, "error", err)
			}
			return
		}
		if transport.closed() {
			return
		}
		if deadline := transport.readDeadline(); !deadline.IsZero() {
			_ = c.SetReadDeadline(deadline)
		}

		if !limiter.Allow() {
			m.sendError(conn, "rate limited")
			continue
		}

		var env InboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			m.sendError(conn, "invalid message format")
			continue
		}

		if err := m.dispatch(ctx, conn, env); err != nil {
			m.replyError(conn, env.Event, err)
		}
	}
}

// dispatch routes one inbound event to the realtime service.
func (m *GatewayModule) dispatch(ctx context.Context, conn *realtime.Connection, env InboundEnvelope) error {
	switch env.Event {
	case EventJoinChat, EventLeaveChat:
		var p ChatPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		if env.Event == EventJoinChat {
			return m.service.JoinChat(conn.ID, p.OtherUserID)
		}
		return m.service.LeaveChat(conn.ID, p.OtherUserID)

	case EventSendMessage:
		var p SendMessagePayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		msgType := helpdesk.MessageType(p.Type)
		if msgType == "" {
			msgType = helpdesk.MessageTypeText
		}
		// Failures are reported to the client by the service as message_error.
		_, _ = m.service.SendMessage(ctx, conn.ID, p.ReceiverID, p.Message, msgType)
		return nil

	case EventTypingStart, EventTypingStop:
		var p TypingPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return m.service.Typing(conn.ID, p.ReceiverID, env.Event == EventTypingStart)

	case EventUpdatePresence:
		var p PresencePayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return m.service.UpdatePresence(conn.ID, p.Status)

	case EventJoinTicket, EventLeaveTicket:
		var p TicketPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		if env.Event == EventJoinTicket {
			return m.service.JoinTicket(conn.ID, p.TicketID)
		}
		return m.service.LeaveTicket(conn.ID, p.TicketID)
	}
	return fmt.Errorf("%w: %s", errUnknownEvent, env.Event)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: data is required", helpdesk.ErrValidation)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: invalid data", helpdesk.ErrValidation)
	}
	return nil
}

// replyError reports a failed inbound event to the originating connection.
func (m *GatewayModule) replyError(conn *realtime.Connection, event string, err error) {
	switch {
	case errors.Is(err, realtime.ErrValidation):
		m.sendError(conn, strings.TrimPrefix(err.Error(), realtime.ErrValidation.Error()+": "))
	case errors.Is(err, errUnknownEvent):
		m.sendError(conn, err.Error())
	case errors.Is(err, realtime.ErrUnknownConnection):
		// The connection is already gone.
	default:
		m.logger.Error("Socket event failed", "event", event, "connID", conn.ID, "error", err)
		m.sendError(conn, "request failed")
	}
}

func (m *GatewayModule) sendError(conn *realtime.Connection, message string) {
	if err := conn.Send(realtime.Outbound{Event: realtime.EventError, Data: realtime.ErrorPayload{Error: message}}); err != nil {
		m.logger.Debug("Dropped error reply", "connID", conn.ID, "error", err)
	}
}
