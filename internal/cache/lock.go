package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it is still owned by the caller
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only if it is still owned by the caller
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a distributed per-key lock. It lets several worker processes
// share the "one enrichment per video" and "one download per resolution"
// rules.
type Locker struct {
	cache *Cache
	ttl   time.Duration
	retry time.Duration
}

// NewLocker creates a Locker. A held lock is renewed every third of ttl and
// expires after ttl once its holder stopped renewing it.
func (c *Cache) NewLocker(ttl time.Duration) *Locker {
	return &Locker{cache: c, ttl: ttl, retry: 50 * time.Millisecond}
}

func lockKey(resource string) string {
	return fmt.Sprintf("lock:%s", resource)
}

// Lock blocks until the resource is acquired or ctx is done
func (l *Locker) Lock(ctx context.Context, resource string) (func(), error) {
	key := lockKey(resource)
	token := uuid.NewString()

	for {
		ok, err := l.cache.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", resource, err)
		}
		if ok {
			stop := make(chan struct{})
			stopped := make(chan struct{})
			go l.renew(key, token, stop, stopped)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-stopped
					// Released with a fresh context so a cancelled caller still unlocks.
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					releaseScript.Run(ctx, l.cache.client, []string{key}, token)
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// renew keeps a held lock alive until stop is closed
func (l *Locker) renew(key, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := l.ttl / 3
	if interval <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			renewScript.Run(ctx, l.cache.client, []string{key}, token, l.ttl.Milliseconds())
			cancel()
		}
	}
}
