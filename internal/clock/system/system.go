// Package system provides the wall clock used to stamp job transitions.
package system

import (
	"time"

	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

var _ support.Clock = Clock{}

// Clock implements support.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds so values
// survive a round trip through Redis and Postgres unchanged.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
