package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired indicates the lock could not be obtained before the
// context expired.
var ErrLockNotAcquired = errors.New("platform/cache: lock not acquired")

// releaseScript deletes the key only when it still holds our token, so an
// expired-and-reacquired lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Mutex is a best-effort distributed lock backed by Redis SET NX. It
// serializes critical sections across processes; the TTL bounds how long a
// crashed holder can block others.
type Mutex struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewMutex constructs a Mutex with the supplied TTL.
func NewMutex(client *redis.Client, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Mutex{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

// Acquire blocks until the lock for key is held or ctx is done. The returned
// function releases the lock.
func (m *Mutex) Acquire(ctx context.Context, key string) (func(), error) {
	if m == nil || m.client == nil {
		return nil, errors.New("platform/cache: mutex not initialised")
	}
	token := uuid.NewString()
	for {
		ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, m.client, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockNotAcquired
		case <-time.After(m.retry):
		}
	}
}
