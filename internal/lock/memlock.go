package lock

import (
	"context"
	"sync"
	"time"
)

// MemLocker is an in-process Locker used by tests in place of Redis.
type MemLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	seen  map[string]bool
}

// NewMemLocker returns an empty MemLocker.
func NewMemLocker() *MemLocker {
	return &MemLocker{held: make(map[string]bool), seen: make(map[string]bool)}
}

type memGuard struct {
	l   *MemLocker
	key string
}

func (g *memGuard) Release(_ context.Context) error {
	g.l.mu.Lock()
	defer g.l.mu.Unlock()
	delete(g.l.held, g.key)
	return nil
}

// Lock implements Locker against an in-memory map; with wait > 0 it polls
// every millisecond until the key is free or wait elapses.
func (l *MemLocker) Lock(ctx context.Context, key string, _ /*ttl*/, wait time.Duration) (Releaser, error) {
	deadline := time.Now().Add(wait)
	for {
		l.mu.Lock()
		if !l.held[key] {
			l.held[key] = true
			l.mu.Unlock()
			return &memGuard{l: l, key: key}, nil
		}
		l.mu.Unlock()
		if wait <= 0 || time.Now().After(deadline) {
			return nil, ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// SeenEvent implements Locker's dedup check over an in-memory set.
func (l *MemLocker) SeenEvent(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[eventID] {
		return true, nil
	}
	l.seen[eventID] = true
	return false, nil
}

var _ Locker = (*MemLocker)(nil)
