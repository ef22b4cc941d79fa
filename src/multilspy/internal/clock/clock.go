// Package clock abstracts time for components that enforce deadlines.
package clock

import (
	"time"
)

// Clock is an interface that abstracts the functionality for measuring time
// and waiting on it.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After waits for the duration to elapse and then sends the current time
	// on the returned channel.
	After(duration time.Duration) <-chan time.Time
	// Sleep pauses the current goroutine for at least the duration d. A negative or zero duration causes Sleep to return immediately.
	Sleep(duration time.Duration)
}

type clock struct{}

// New creates a new instance of Clock.
func New() Clock {
	return clock{}
}

func (clock) Now() time.Time {
	return time.Now()
}

func (clock) After(duration time.Duration) <-chan time.Time {
	return time.After(duration)
}

func (clock) Sleep(duration time.Duration) {
	time.Sleep(duration)
}
