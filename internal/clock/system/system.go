// Package system provides a real clock implementation.
package system

import "time"

// Clock implements pipeline.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting local time, which is what artifact
// timestamps are stamped with.
func New() *Clock {
	return &Clock{loc: time.Local}
}

// NewUTC creates a Clock reporting UTC.
func NewUTC() *Clock {
	return &Clock{loc: time.UTC}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	if c == nil || c.loc == nil {
		return time.Now()
	}
	return time.Now().In(c.loc)
}
