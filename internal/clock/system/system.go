// Package system supplies the wall clock used outside tests.
package system

import "time"

// Clock reads time.Now and normalizes to UTC so idle-timeout math and
// stored job timestamps agree regardless of the host zone.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now reports the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
