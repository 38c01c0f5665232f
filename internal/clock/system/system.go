// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements collector.Clock. Times are UTC so stored timestamps and
// progress events compare without zone conversions.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
