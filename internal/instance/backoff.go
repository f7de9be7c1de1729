package instance

import "time"

// Clock abstracts the wall-clock calls pace depends on, so tests can swap
// in a fake one instead of actually sleeping out a backoff window.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// realClock is the default Clock, backed directly by the time package.
type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
