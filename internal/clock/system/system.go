// Package system provides a real clock implementation.
package system

import "time"

// Clock reads the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns midnight UTC of the current day.
func (c Clock) Today() time.Time {
	return c.Now().Truncate(24 * time.Hour)
}
