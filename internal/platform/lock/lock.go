// Package lock provides the per-subject advisory locks background sweeps take
// before touching a subject. A busy lock means another worker owns the
// subject for now; callers skip it and retry next cycle.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	platformsync "keepsake/pkg/platform/sync"
)

// ErrNotHeld is returned by Release when the lease expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// Release gives a lease back.
type Release func(ctx context.Context) error

// Locker hands out short leases on keys without blocking.
type Locker interface {
	// TryAcquire returns (nil, false, nil) when key is held elsewhere.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error)
}

// releaseScript deletes the key only when it still carries our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisLocker leases keys with SET NX PX so several scheduler replicas can
// share one Redis.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

func NewRedis(client redis.Cmdable, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "keepsake:lock"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	fullKey := l.prefix + ":" + key
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		n, err := l.client.Eval(ctx, releaseScript, []string{fullKey}, token).Int64()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}, true, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// LocalLocker leases keys within one process. ttl is ignored; the lease lasts
// until released. Give it its own mutex, never one a service transaction
// locks, or the holder deadlocks against itself.
type LocalLocker struct {
	mu *platformsync.ShardedMutex
}

func NewLocal() *LocalLocker {
	return &LocalLocker{mu: platformsync.NewShardedMutex()}
}

func (l *LocalLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (Release, bool, error) {
	if !l.mu.TryLock(key) {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.mu.Unlock(key)
		return nil
	}, true, nil
}
