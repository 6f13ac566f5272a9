package realtime

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
)

// Relay persists chat messages and fans them out to both participants.
type Relay struct {
	data     DataAccess
	fanout   fanoutFunc
	contacts ContactRecorder
	locks    *keyedMutex
	logger   types.Logger
	metrics  *Metrics
}

func newRelay(data DataAccess, fanout fanoutFunc, contacts ContactRecorder, logger types.Logger, metrics *Metrics) *Relay {
	return &Relay{
		data:     data,
		fanout:   fanout,
		contacts: contacts,
		locks:    newKeyedMutex(),
		logger:   logger,
		metrics:  metrics,
	}
}

func pairLockKey(sender, receiver uint) string {
	return strconv.FormatUint(uint64(sender), 10) + ">" + strconv.FormatUint(uint64(receiver), 10)
}

// Send validates, persists and delivers one message. The receiver's personal
// room gets new_message and the sender's gets message_sent. Nothing is
// delivered unless the insert succeeded, and sends from one sender to one
// receiver are delivered in insert order.
func (r *Relay) Send(ctx context.Context, sender helpdesk.Identity, receiverID uint, body string, msgType helpdesk.MessageType) (*helpdesk.Message, error) {
	if receiverID == 0 {
		r.metrics.message("invalid")
		return nil, ErrInvalidReceiver
	}
	if err := helpdesk.ValidateMessage(body, msgType); err != nil {
		r.metrics.message("invalid")
		return nil, err
	}

	unlock := r.locks.Lock(pairLockKey(sender.UserID, receiverID))
	if err := ctx.Err(); err != nil {
		unlock()
		return nil, err
	}

	// The insert is the commit point: once started it completes even if
	// the sender's connection goes away.
	msg, err := r.data.InsertMessage(context.WithoutCancel(ctx), sender.UserID, receiverID, body, msgType)
	if err != nil {
		unlock()
		r.metrics.message("failed")
		r.logger.Error("Failed to persist message",
			"senderID", sender.UserID, "receiverID", receiverID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	r.fanout(PersonalRoom(receiverID), Outbound{Event: EventNewMessage, Data: msg}, 0)
	r.fanout(PersonalRoom(sender.UserID), Outbound{Event: EventMessageSent, Data: msg}, 0)
	unlock()
	r.metrics.message("delivered")

	if r.contacts != nil {
		if err := r.contacts.RecordContact(context.WithoutCancel(ctx), msg); err != nil {
			r.logger.Warn("Failed to record frequent contact",
				"senderID", sender.UserID, "receiverID", receiverID, "error", err)
		}
	}
	return msg, nil
}
