package realtime

import (
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/domain/presence"
)

// ConnectionCounter reports how many live connections a user has.
type ConnectionCounter interface {
	ConnectionCount(userID uint) int
}

// Change is one presence transition.
type Change struct {
	Identity helpdesk.Identity
	Previous presence.Status
	Current  presence.Status
	At       time.Time
}

// PresenceSnapshot is a point-in-time view of one user's presence.
type PresenceSnapshot struct {
	Identity     helpdesk.Identity
	Status       presence.Status
	LastActivity time.Time
	Override     *presence.Status
	Connections  int
	Version      uint64
}

// Tracker owns the presence record of every user seen since start.
// Each record has its own lock and a version that every mutation bumps;
// the sweep only applies a result if the version it read is unchanged.
type Tracker struct {
	clock      clock.Clock
	thresholds presence.Thresholds
	grace      time.Duration
	conns      ConnectionCounter
	notify     func(Change)
	records    sync.Map // uint -> *presenceRecord
}

type presenceRecord struct {
	mu             sync.Mutex
	identity       helpdesk.Identity
	status         presence.Status
	lastActivity   time.Time
	override       *presence.Status
	disconnectedAt time.Time
	version        uint64
	grace          clock.Timer
	graceSeq       uint64
	removed        bool
}

// NewTracker creates a tracker. notify is called for every transition while
// the user's record is locked, so it must not block or call back into the tracker.
func NewTracker(clk clock.Clock, th presence.Thresholds, grace time.Duration, conns ConnectionCounter, notify func(Change)) *Tracker {
	return &Tracker{
		clock:      clk,
		thresholds: th,
		grace:      grace,
		conns:      conns,
		notify:     notify,
	}
}

// withRecord runs fn with the user's record locked. With create set a missing
// record is created; otherwise it reports false when there is none.
func (t *Tracker) withRecord(userID uint, create bool, fn func(rec *presenceRecord)) bool {
	for {
		var rec *presenceRecord
		if create {
			v, _ := t.records.LoadOrStore(userID, &presenceRecord{status: presence.Offline})
			rec = v.(*presenceRecord)
		} else {
			v, ok := t.records.Load(userID)
			if !ok {
				return false
			}
			rec = v.(*presenceRecord)
		}

		rec.mu.Lock()
		if rec.removed {
			rec.mu.Unlock()
			if !create {
				return false
			}
			continue
		}
		fn(rec)
		rec.mu.Unlock()
		return true
	}
}

// transition moves rec to next and notifies. rec.mu must be held.
func (t *Tracker) transition(rec *presenceRecord, next presence.Status, now time.Time) {
	if rec.status == next {
		return
	}
	change := Change{Identity: rec.identity, Previous: rec.status, Current: next, At: now}
	rec.status = next
	if t.notify != nil {
		t.notify(change)
	}
}

func (t *Tracker) cancelGrace(rec *presenceRecord) {
	if rec.grace != nil {
		rec.grace.Stop()
		rec.grace = nil
	}
	rec.graceSeq++
}

// effective is the status a record should have at now. It is used by both the
// event path and the sweep.
func (t *Tracker) effective(userID uint, lastActivity time.Time, override *presence.Status, disconnectedAt time.Time, now time.Time) presence.Status {
	if t.conns.ConnectionCount(userID) == 0 {
		if disconnectedAt.IsZero() || now.Sub(disconnectedAt) >= t.grace {
			return presence.Offline
		}
	}
	return presence.DeriveStatus(lastActivity, override, now, t.thresholds)
}

// Connected records a new connection for the user.
func (t *Tracker) Connected(identity helpdesk.Identity) {
	now := t.clock.Now()
	t.withRecord(identity.UserID, true, func(rec *presenceRecord) {
		t.cancelGrace(rec)
		rec.identity = identity
		rec.disconnectedAt = time.Time{}
		if !rec.status.IsConnected() {
			rec.override = nil
		}
		rec.lastActivity = now
		rec.version++
		t.transition(rec, presence.DeriveStatus(rec.lastActivity, rec.override, now, t.thresholds), now)
	})
}

// Disconnected is called after one of the user's connections went away. When
// it was the last one the user goes offline once the grace window passes
// without a reconnect.
func (t *Tracker) Disconnected(userID uint) {
	if t.conns.ConnectionCount(userID) > 0 {
		return
	}
	now := t.clock.Now()
	t.withRecord(userID, false, func(rec *presenceRecord) {
		if t.conns.ConnectionCount(userID) > 0 || rec.status == presence.Offline {
			return
		}
		t.cancelGrace(rec)
		rec.disconnectedAt = now
		rec.version++
		if t.grace <= 0 {
			t.transition(rec, presence.Offline, now)
			return
		}
		seq := rec.graceSeq
		rec.grace = t.clock.AfterFunc(t.grace, func() {
			t.expireGrace(userID, seq)
		})
	})
}

func (t *Tracker) expireGrace(userID uint, seq uint64) {
	t.withRecord(userID, false, func(rec *presenceRecord) {
		if rec.graceSeq != seq {
			return
		}
		rec.grace = nil
		if t.conns.ConnectionCount(userID) > 0 {
			return
		}
		rec.version++
		t.transition(rec, presence.Offline, t.clock.Now())
	})
}

// Touch records activity. It clears any manual override.
func (t *Tracker) Touch(identity helpdesk.Identity) {
	now := t.clock.Now()
	t.withRecord(identity.UserID, true, func(rec *presenceRecord) {
		rec.identity = identity
		rec.lastActivity = now
		rec.override = nil
		rec.version++
		t.transition(rec, t.effective(identity.UserID, now, nil, rec.disconnectedAt, now), now)
	})
}

// SetOverride applies a manual status. Setting online clears the override.
// The override holds until the next activity.
func (t *Tracker) SetOverride(identity helpdesk.Identity, status presence.Status) error {
	switch status {
	case presence.Online:
		t.Touch(identity)
		return nil
	case presence.Away, presence.Busy:
	default:
		return ErrInvalidPresence
	}

	now := t.clock.Now()
	t.withRecord(identity.UserID, true, func(rec *presenceRecord) {
		override := status
		rec.identity = identity
		rec.lastActivity = now
		rec.override = &override
		rec.version++
		t.transition(rec, t.effective(identity.UserID, now, rec.override, rec.disconnectedAt, now), now)
	})
	return nil
}

// Status returns the user's current presence.
func (t *Tracker) Status(userID uint) presence.Status {
	snap, ok := t.Snapshot(userID)
	if !ok {
		return presence.Offline
	}
	return snap.Status
}

// Snapshot returns the user's presence record evaluated at the current time.
func (t *Tracker) Snapshot(userID uint) (PresenceSnapshot, bool) {
	now := t.clock.Now()
	var snap PresenceSnapshot
	found := t.withRecord(userID, false, func(rec *presenceRecord) {
		snap = PresenceSnapshot{
			Identity:     rec.identity,
			Status:       t.effective(userID, rec.lastActivity, rec.override, rec.disconnectedAt, now),
			LastActivity: rec.lastActivity,
			Override:     rec.override,
			Connections:  t.conns.ConnectionCount(userID),
			Version:      rec.version,
		}
	})
	return snap, found
}

// SetLastActivity overwrites the user's last activity time without
// recomputing status. Used to restore state and by tests.
func (t *Tracker) SetLastActivity(userID uint, at time.Time) bool {
	return t.withRecord(userID, false, func(rec *presenceRecord) {
		rec.lastActivity = at
		rec.version++
	})
}

// Sweep recomputes every record at now and applies the result where no
// concurrent update intervened. It returns the users that went stale while
// still holding connections.
func (t *Tracker) Sweep(now time.Time) []uint {
	var stale []uint
	t.records.Range(func(key, value any) bool {
		userID := key.(uint)
		rec := value.(*presenceRecord)

		rec.mu.Lock()
		version := rec.version
		lastActivity := rec.lastActivity
		override := rec.override
		disconnectedAt := rec.disconnectedAt
		rec.mu.Unlock()

		next := t.effective(userID, lastActivity, override, disconnectedAt, now)

		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.removed || rec.version != version {
			return true
		}
		if next != rec.status {
			rec.version++
			t.transition(rec, next, now)
		}
		if next == presence.Offline {
			if t.conns.ConnectionCount(userID) > 0 {
				stale = append(stale, userID)
			} else {
				t.cancelGrace(rec)
				rec.removed = true
				t.records.CompareAndDelete(userID, rec)
			}
		}
		return true
	})
	return stale
}

// Stop cancels pending grace timers.
func (t *Tracker) Stop() {
	t.records.Range(func(_, value any) bool {
		rec := value.(*presenceRecord)
		rec.mu.Lock()
		t.cancelGrace(rec)
		rec.mu.Unlock()
		return true
	})
}
