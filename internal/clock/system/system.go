// Package system provides the wall clock used for cooldowns and job timestamps.
package system

import "time"

// Clock implements media.Clock. Times are always UTC so persisted
// timestamps and history rows compare cleanly.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
