package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"

	"github.com/example/helpdesk-realtime/modules/realtime"
)

const writeWait = 10 * time.Second

// frameWriter is the part of a websocket connection the write pump uses.
type frameWriter interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
}

// wsConn is the realtime.Transport of one websocket. All writes happen on
// the write pump goroutine; Send only enqueues.
type wsConn struct {
	conn         frameWriter
	send         chan realtime.Outbound
	done         chan struct{}
	pumpDone     chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	logger       types.Logger
}

var _ realtime.Transport = (*wsConn)(nil)

func newWSConn(conn frameWriter, buffer int, pingInterval time.Duration, logger types.Logger) *wsConn {
	if buffer < 1 {
		buffer = 1
	}
	return &wsConn{
		conn:         conn,
		send:         make(chan realtime.Outbound, buffer),
		done:         make(chan struct{}),
		pumpDone:     make(chan struct{}),
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// Send queues ev for delivery. Low priority events are refused once the
// buffer is half full so that chat messages keep their room.
func (c *wsConn) Send(ev realtime.Outbound) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection closed", realtime.ErrTransport)
	default:
	}

	if ev.LowPriority && len(c.send) >= cap(c.send)/2 {
		return fmt.Errorf("%w: connection congested", realtime.ErrTransport)
	}

	select {
	case c.send <- ev:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", realtime.ErrTransport)
	}
}

// Close stops the write pump. The reader is released through its deadline
// so a blocked read returns.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// wait blocks until the write pump has exited.
func (c *wsConn) wait() {
	<-c.pumpDone
}

// pongHandler extends the read deadline while the connection is open.
func (c *wsConn) pongHandler(string) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	return c.conn.SetReadDeadline(c.readDeadline())
}

func (c *wsConn) readDeadline() time.Time {
	if c.pingInterval <= 0 {
		return time.Time{}
	}
	return time.Now().Add(2 * c.pingInterval)
}

// writePump delivers queued events and keepalive pings until Close.
func (c *wsConn) writePump() {
	defer close(c.pumpDone)

	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case ev := <-c.send:
			if err := c.write(ev); err != nil {
				c.logger.Debug("Websocket write failed", "event", ev.Event, "error", err)
				c.shutdown()
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("Websocket ping failed", "error", err)
				c.shutdown()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = c.conn.SetReadDeadline(time.Now())
			return
		}
	}
}

func (c *wsConn) write(ev realtime.Outbound) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(ev)
}

// flush writes what is already queued without waiting for more.
func (c *wsConn) flush() {
	for {
		select {
		case ev := <-c.send:
			if err := c.write(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

// shutdown marks the connection closed after a write failure and releases
// the reader.
func (c *wsConn) shutdown() {
	_ = c.Close()
	_ = c.conn.SetReadDeadline(time.Now())
}
