// Package lock implements the process-wide single-flight and event-replay
// dedup primitives (C8), backed by Redis so they hold across process
// restarts, the way the teacher's modules/common/redis client is dialed
// once and shared by every worker.
package lock

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config mirrors the teacher's modules/common/config Redis fields.
type Config struct {
	Addr     string
	Username string
	Password string
	UseTLS   bool
}

// Connect dials Redis exactly the way the teacher's modules/common/redis.Connect
// does: TLS with InsecureSkipVerify for managed Redis providers that present
// certificates the default trust store won't chain, generous timeouts, and
// an eager ping so misconfiguration fails at startup rather than on first use.
func Connect(ctx context.Context, cfg Config, log *zap.Logger) (*redis.Client, error) {
	var tlsConfig *tls.Config
	if cfg.UseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: true}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis connected", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.UseTLS))
	return rdb, nil
}

// Locks provides asyncLock-style single-flight and event dedup over Redis.
type Locks struct {
	rdb *redis.Client
	log *zap.Logger
}

// New wraps an existing Redis client.
func New(rdb *redis.Client, log *zap.Logger) *Locks {
	return &Locks{rdb: rdb, log: log}
}

// ErrLockHeld is returned by a Lock call when the key is still held once its
// wait has run out (immediately, for wait <= 0).
var ErrLockHeld = fmt.Errorf("lock held")

// Guard releases an acquired lock.
type Guard struct {
	rdb   *redis.Client
	key   string
	token string
}

// Release drops the lock, but only if it still holds the token this guard
// acquired — a late release after TTL expiry and reacquisition by another
// holder must not steal the lock back.
func (g *Guard) Release(ctx context.Context) error {
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end`
	return g.rdb.Eval(ctx, script, []string{g.key}, g.token).Err()
}

// AsyncLock acquires a named single-flight lock. If wait > 0 it polls until
// acquired or wait elapses; if wait == 0 it fails fast with ErrLockHeld when
// the key is already held, matching spec.md §4.8's "attempting to lock a
// held key without waiting fails fast".
func (l *Locks) AsyncLock(ctx context.Context, key string, ttl, wait time.Duration) (*Guard, error) {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	fullKey := "lock:" + key

	deadline := time.Now().Add(wait)
	for {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return &Guard{rdb: l.rdb, key: fullKey, token: token}, nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return nil, ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// eventDedupTTL bounds the replay window; it only needs to outlive the
// window during which the same upstream event could plausibly be redelivered.
const eventDedupTTL = 24 * time.Hour

// SeenEvent records event id and reports whether it was already seen. It is
// the Redis-backed analogue of the bounded in-process LRU spec.md §4.5
// describes, sized instead by TTL so it survives process restarts.
func (l *Locks) SeenEvent(ctx context.Context, eventID string) (alreadySeen bool, err error) {
	ok, err := l.rdb.SetNX(ctx, "event-seen:"+eventID, "1", eventDedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", eventID, err)
	}
	return !ok, nil
}
