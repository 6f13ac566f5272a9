package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/helpdesk-realtime/domain/presence"
)

// countingConns is a ConnectionCounter driven by the test. hook, when set,
// runs once on the next count.
type countingConns struct {
	mu     sync.Mutex
	counts map[uint]int
	hook   func()
}

func newCountingConns() *countingConns {
	return &countingConns{counts: make(map[uint]int)}
}

func (c *countingConns) ConnectionCount(userID uint) int {
	c.mu.Lock()
	hook := c.hook
	c.hook = nil
	n := c.counts[userID]
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return n
}

func (c *countingConns) set(userID uint, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID] = n
}

func (c *countingConns) onNextCount(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = fn
}

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (l *changeLog) record(c Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func (l *changeLog) all() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Change(nil), l.changes...)
}

func (l *changeLog) statuses() []presence.Status {
	var out []presence.Status
	for _, c := range l.all() {
		out = append(out, c.Current)
	}
	return out
}

func newTestTracker(t *testing.T) (*Tracker, *testclock.Clock, *countingConns, *changeLog) {
	t.Helper()
	clk := testclock.NewClock(epoch)
	conns := newCountingConns()
	log := &changeLog{}
	tr := NewTracker(clk, presence.DefaultThresholds(), testGrace, conns, log.record)
	t.Cleanup(tr.Stop)
	return tr, clk, conns, log
}

func TestTracker_ConnectedGoesOnline(t *testing.T) {
	tr, _, conns, log := newTestTracker(t)

	conns.set(alice.UserID, 1)
	tr.Connected(alice)

	assert.Equal(t, presence.Online, tr.Status(alice.UserID))
	changes := log.all()
	require.Len(t, changes, 1)
	assert.Equal(t, presence.Offline, changes[0].Previous)
	assert.Equal(t, presence.Online, changes[0].Current)
	assert.Equal(t, alice, changes[0].Identity)

	// A second tab is not a transition.
	conns.set(alice.UserID, 2)
	tr.Connected(alice)
	assert.Len(t, log.all(), 1)
}

func TestTracker_UnknownUserIsOffline(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)
	assert.Equal(t, presence.Offline, tr.Status(42))
	_, ok := tr.Snapshot(42)
	assert.False(t, ok)
}

func TestTracker_GraceWindowExpires(t *testing.T) {
	tr, clk, conns, log := newTestTracker(t)

	conns.set(alice.UserID, 1)
	tr.Connected(alice)
	conns.set(alice.UserID, 0)
	tr.Disconnected(alice.UserID)

	// Still online inside the grace window.
	assert.Equal(t, presence.Online, tr.Status(alice.UserID))

	require.NoError(t, clk.WaitAdvance(testGrace, time.Second, 1))
	assert.Eventually(t, func() bool {
		return tr.Status(alice.UserID) == presence.Offline && len(log.all()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []presence.Status{presence.Online, presence.Offline}, log.statuses())
}

func TestTracker_ReconnectInsideGraceCancelsOffline(t *testing.T) {
	tr, clk, conns, log := newTestTracker(t)

	conns.set(alice.UserID, 1)
	tr.Connected(alice)
	conns.set(alice.UserID, 0)
	tr.Disconnected(alice.UserID)

	clk.Advance(testGrace / 2)
	conns.set(alice.UserID, 1)
	tr.Connected(alice)

	clk.Advance(testGrace)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, presence.Online, tr.Status(alice.UserID))
	assert.Equal(t, []presence.Status{presence.Online}, log.statuses())
}

func TestTracker_DisconnectWithRemainingConnections(t *testing.T) {
	tr, clk, conns, log := newTestTracker(t)

	conns.set(alice.UserID, 2)
	tr.Connected(alice)
	conns.set(alice.UserID, 1)
	tr.Disconnected(alice.UserID)

	clk.Advance(testGrace * 2)
	assert.Equal(t, presence.Online, tr.Status(alice.UserID))
	assert.Len(t, log.all(), 1)
}

func TestTracker_ZeroGraceGoesOfflineImmediately(t *testing.T) {
	clk := testclock.NewClock(epoch)
	conns := newCountingConns()
	log := &changeLog{}
	tr := NewTracker(clk, presence.DefaultThresholds(), 0, conns, log.record)

	conns.set(alice.UserID, 1)
	tr.Connected(alice)
	conns.set(alice.UserID, 0)
	tr.Disconnected(alice.UserID)

	assert.Equal(t, presence.Offline, tr.Status(alice.UserID))
	assert.Equal(t, []presence.Status{presence.Online, presence.Offline}, log.statuses())
}

func TestTracker_Override(t *testing.T) {
	tr, clk, conns, log := newTestTracker(t)
	conns.set(alice.UserID, 1)
	tr.Connected(alice)

	require.NoError(t, tr.SetOverride(alice, presence.Busy))
	assert.Equal(t, presence.Busy, tr.Status(alice.UserID))
	snap, ok := tr.Snapshot(alice.UserID)
	require.True(t, ok)
	require.NotNil(t, snap.Override)
	assert.Equal(t, presence.Busy, *snap.Override)

	// The override outlasts the away band.
	clk.Advance(3 * time.Minute)
	assert.Equal(t, presence.Busy, tr.Status(alice.UserID))

	// Activity recomputes from age.
	tr.Touch(alice)
	assert.Equal(t, presence.Online, tr.Status(alice.UserID))
	snap, _ = tr.Snapshot(alice.UserID)
	assert.Nil(t, snap.Override)

	assert.Equal(t, []presence.Status{presence.Online, presence.Busy, presence.Online}, log.statuses())
}

func TestTracker_OverrideValidation(t *testing.T) {
	tr, _, conns, _ := newTestTracker(t)
	conns.set(alice.UserID, 1)
	tr.Connected(alice)

	assert.ErrorIs(t, tr.SetOverride(alice, presence.Offline), ErrInvalidPresence)
	assert.ErrorIs(t, tr.SetOverride(alice, presence.Status("lunch")), ErrValidation)

	require.NoError(t, tr.SetOverride(alice, presence.Away))
	require.NoError(t, tr.SetOverride(alice, presence.Online))
	snap, _ := tr.Snapshot(alice.UserID)
	assert.Nil(t, snap.Override)
	assert.Equal(t, presence.Online, snap.Status)
}

func TestTracker_SweepDerivesBands(t *testing.T) {
	tr, clk, conns, log := newTestTracker(t)
	conns.set(alice.UserID, 1)
	tr.Connected(alice)

	tests := []struct {
		advance time.Duration
		want    presence.Status
	}{
		{time.Minute, presence.Online},
		{90 * time.Second, presence.Away},
		{90 * time.Second, presence.Busy},
		{time.Minute, presence.Offline},
	}
	for _, tt := range tests {
		clk.Advance(tt.advance)
		tr.Sweep(clk.Now())
		assert.Equal(t, tt.want, tr.Status(alice.UserID), "after %s", clk.Now().Sub(epoch))
	}
	assert.Equal(t,
		[]presence.Status{presence.Online, presence.Away, presence.Busy, presence.Offline},
		log.statuses())
}

func TestTracker_SweepIsIdempotent(t *testing.T) {
	tr, clk, conns, log := newTestTracker(t)
	conns.set(alice.UserID, 1)
	tr.Connected(alice)
	conns.set(bob.UserID, 1)
	tr.Connected(bob)

	clk.Advance(150 * time.Second)
	tr.Sweep(clk.Now())
	n := len(log.all())

	tr.Sweep(clk.Now())
	tr.Sweep(clk.Now())
	assert.Len(t, log.all(), n)
}

func TestTracker_SweepReportsStaleConnectedUsers(t *testing.T) {
	tr, clk, conns, _ := newTestTracker(t)
	conns.set(alice.UserID, 1)
	tr.Connected(alice)
	conns.set(bob.UserID, 1)
	tr.Connected(bob)

	require.True(t, tr.SetLastActivity(alice.UserID, clk.Now().Add(-6*time.Minute)))
	stale := tr.Sweep(clk.Now())
	assert.Equal(t, []uint{alice.UserID}, stale)
	assert.Equal(t, presence.Offline, tr.Status(alice.UserID))
	assert.Equal(t, presence.Online, tr.Status(bob.UserID))
}

func TestTracker_SweepForgetsDisconnectedUsers(t *testing.T) {
	tr, clk, conns, _ := newTestTracker(t)
	conns.set(alice.UserID, 1)
	tr.Connected(alice)
	conns.set(alice.UserID, 0)
	tr.Disconnected(alice.UserID)

	require.NoError(t, clk.WaitAdvance(testGrace, time.Second, 1))
	assert.Eventually(t, func() bool {
		return tr.Status(alice.UserID) == presence.Offline
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, tr.Sweep(clk.Now()))
	_, ok := tr.Snapshot(alice.UserID)
	assert.False(t, ok)
}

func TestTracker_SweepLosesToConcurrentActivity(t *testing.T) {
	tr, clk, conns, log := newTestTracker(t)
	conns.set(alice.UserID, 1)
	tr.Connected(alice)
	require.True(t, tr.SetLastActivity(alice.UserID, clk.Now().Add(-6*time.Minute)))

	// Activity lands after the sweep read the record but before it applies.
	conns.onNextCount(func() { tr.Touch(alice) })
	stale := tr.Sweep(clk.Now())

	assert.Empty(t, stale)
	assert.Equal(t, presence.Online, tr.Status(alice.UserID))
	assert.Equal(t, []presence.Status{presence.Online}, log.statuses())
}

func TestTracker_EventAndSweepPathsAgree(t *testing.T) {
	tr, clk, conns, _ := newTestTracker(t)
	conns.set(alice.UserID, 1)
	tr.Connected(alice)

	for _, age := range []time.Duration{0, time.Minute, 2 * time.Minute, 4*time.Minute + time.Second, 5 * time.Minute} {
		require.True(t, tr.SetLastActivity(alice.UserID, clk.Now().Add(-age)))
		queried := tr.Status(alice.UserID)
		want := presence.DeriveStatus(clk.Now().Add(-age), nil, clk.Now(), presence.DefaultThresholds())
		assert.Equal(t, want, queried, "age %s", age)
	}
}
