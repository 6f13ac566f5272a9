// Package presence holds the presence state model shared by the connection
// path and the periodic sweep.
package presence

import (
	"errors"
	"fmt"
	"time"
)

// Status is a user's derived presence.
type Status string

const (
	Online  Status = "online"
	Away    Status = "away"
	Busy    Status = "busy"
	Offline Status = "offline"
)

var (
	// ErrUnknownStatus is returned when a status string is not recognised.
	ErrUnknownStatus = errors.New("unknown presence status")
	// ErrInvalidThresholds is returned when thresholds are not ordered.
	ErrInvalidThresholds = errors.New("presence thresholds must satisfy 0 < away <= busy <= offline")
)

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case Online, Away, Busy, Offline:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// IsConnected reports whether s is one of the connected states.
func (s Status) IsConnected() bool {
	return s == Online || s == Away || s == Busy
}

// Thresholds are the last-activity age bands.
type Thresholds struct {
	AwayAfter    time.Duration
	BusyAfter    time.Duration
	OfflineAfter time.Duration
}

// DefaultThresholds returns the stock age bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AwayAfter:    2 * time.Minute,
		BusyAfter:    4 * time.Minute,
		OfflineAfter: 5 * time.Minute,
	}
}

// Validate checks the bands are positive and ordered.
func (t Thresholds) Validate() error {
	if t.AwayAfter <= 0 || t.BusyAfter < t.AwayAfter || t.OfflineAfter < t.BusyAfter {
		return fmt.Errorf("%w: away=%s busy=%s offline=%s",
			ErrInvalidThresholds, t.AwayAfter, t.BusyAfter, t.OfflineAfter)
	}
	return nil
}

// DeriveStatus computes presence from the last activity time and an optional
// manual override. It has no side effects.
//
// The offline band wins over an override so that a zombie connection whose
// owner set "busy" still expires. Otherwise the override sticks until the
// caller clears it on the next activity.
func DeriveStatus(lastActivity time.Time, override *Status, now time.Time, th Thresholds) Status {
	age := now.Sub(lastActivity)
	if age >= th.OfflineAfter {
		return Offline
	}
	if override != nil && *override != Online && *override != Offline {
		return *override
	}
	switch {
	case age >= th.BusyAfter:
		return Busy
	case age >= th.AwayAfter:
		return Away
	default:
		return Online
	}
}
