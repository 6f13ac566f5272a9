package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/juju/clock"

	"github.com/example/helpdesk-realtime/domain/presence"
)

const (
	persistQueueSize = 256
	persistTimeout   = 5 * time.Second
)

// fanoutFunc delivers ev to every connection in room except those of excludeUser.
type fanoutFunc func(room string, ev Outbound, excludeUser uint)

// Broadcaster announces presence transitions and runs the periodic sweep.
type Broadcaster struct {
	tracker   *Tracker
	registry  *Registry
	fanout    fanoutFunc
	data      DataAccess
	publisher PresencePublisher
	clock     clock.Clock
	interval  time.Duration
	evict     bool
	logger    types.Logger
	metrics   *Metrics

	persist  chan Change
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

func newBroadcaster(registry *Registry, fanout fanoutFunc, data DataAccess, publisher PresencePublisher,
	clk clock.Clock, interval time.Duration, evict bool, logger types.Logger, metrics *Metrics) *Broadcaster {
	return &Broadcaster{
		registry:  registry,
		fanout:    fanout,
		data:      data,
		publisher: publisher,
		clock:     clk,
		interval:  interval,
		evict:     evict,
		logger:    logger,
		metrics:   metrics,
		persist:   make(chan Change, persistQueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Notify fans a transition out to connected clients and queues its
// persistence. It never blocks. user_online and user_offline skip the user's
// own connections; presence_update reaches them too.
func (b *Broadcaster) Notify(change Change) {
	b.metrics.transition(change.Current)
	update := Outbound{
		Event: EventPresenceUpdate,
		Data: PresenceUpdatePayload{
			UserID: change.Identity.UserID,
			Name:   change.Identity.Name,
			Status: change.Current,
		},
	}

	switch {
	case change.Current == presence.Offline:
		b.fanout(BroadcastRoom, Outbound{Event: EventUserOffline, Data: userPresence(change.Identity)}, change.Identity.UserID)
		b.fanout(BroadcastRoom, update, 0)
	case change.Previous == presence.Offline:
		b.fanout(BroadcastRoom, Outbound{Event: EventUserOnline, Data: userPresence(change.Identity)}, change.Identity.UserID)
		b.fanout(BroadcastRoom, update, 0)
	default:
		update.LowPriority = true
		b.fanout(BroadcastRoom, update, 0)
	}

	select {
	case b.persist <- change:
	default:
		b.logger.Warn("Presence persistence queue full, dropping change",
			"userID", change.Identity.UserID, "status", change.Current)
	}
}

// Start launches the sweep loop and the persistence worker.
func (b *Broadcaster) Start() {
	if b.started {
		return
	}
	b.started = true
	b.wg.Add(2)
	go b.run()
	go b.drainPersist()
	b.logger.Info("Presence broadcaster started", "interval", b.interval, "evict_stale", b.evict)
}

// run executes the periodic sweep until Stop.
func (b *Broadcaster) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopChan:
			return
		case <-b.clock.After(b.interval):
			b.SweepOnce()
		}
	}
}

// SweepOnce runs one sweep pass. A panic inside the pass is logged and the
// next tick runs normally.
func (b *Broadcaster) SweepOnce() (stale int) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Presence sweep failed", "error", fmt.Sprint(r))
		}
	}()

	users := b.tracker.Sweep(b.clock.Now())
	if !b.evict {
		return len(users)
	}
	for _, userID := range users {
		for _, conn := range b.registry.ConnectionsFor(userID) {
			if err := conn.Close(); err != nil {
				b.logger.Debug("Closing stale connection failed", "connID", conn.ID, "error", err)
			}
			b.logger.Info("Evicted stale connection", "userID", userID, "connID", conn.ID)
		}
	}
	return len(users)
}

func (b *Broadcaster) drainPersist() {
	defer b.wg.Done()
	for {
		select {
		case change := <-b.persist:
			b.persistChange(change)
		case <-b.stopChan:
			for {
				select {
				case change := <-b.persist:
					b.persistChange(change)
				default:
					return
				}
			}
		}
	}
}

func (b *Broadcaster) persistChange(change Change) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	userID := change.Identity.UserID
	if change.Current == presence.Offline || change.Previous == presence.Offline {
		if err := b.data.UpdateLastActivity(ctx, userID, change.Current != presence.Offline); err != nil {
			b.logger.Error("Failed to update last activity", "userID", userID, "error", err)
		}
	}
	if b.publisher != nil {
		if err := b.publisher.PublishPresence(ctx, change); err != nil {
			b.logger.Warn("Failed to publish presence change", "userID", userID, "error", err)
		}
	}
}

// Stop ends the sweep loop and flushes queued persistence.
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
