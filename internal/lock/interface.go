package lock

import (
	"context"
	"time"
)

// Releaser releases a previously acquired lock.
type Releaser interface {
	Release(ctx context.Context) error
}

// Locker is the interface the orchestrator and correlator depend on, so
// tests can swap the Redis-backed Locks for an in-process fake.
type Locker interface {
	Lock(ctx context.Context, key string, ttl, wait time.Duration) (Releaser, error)
	SeenEvent(ctx context.Context, eventID string) (alreadySeen bool, err error)
}

// Lock is the Locker-facing wrapper over AsyncLock.
func (l *Locks) Lock(ctx context.Context, key string, ttl, wait time.Duration) (Releaser, error) {
	return l.AsyncLock(ctx, key, ttl, wait)
}

var _ Locker = (*Locks)(nil)
