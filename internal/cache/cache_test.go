package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	// Create a mini Redis server for testing
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, _ := setupTestCache(t)
	assert.NoError(t, cache.Ping(context.Background()))
}

func TestNewCacheUnreachable(t *testing.T) {
	_, err := NewCache("127.0.0.1", 1, "", 0)
	assert.Error(t, err)
}

func TestProgress(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	p, err := cache.GetProgress(ctx, "vid-1", 720)
	require.NoError(t, err)
	assert.Nil(t, p, "missing snapshot is a cache miss")

	require.NoError(t, cache.PublishProgress(ctx, "vid-1", 720, "in_progress", 0.5))

	p, err = cache.GetProgress(ctx, "vid-1", 720)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "in_progress", p.State)
	assert.Equal(t, 0.5, p.Fraction)

	assert.True(t, mr.Exists("download:progress:vid-1:720"))
	assert.Equal(t, progressTTL, mr.TTL("download:progress:vid-1:720"))
}

func TestLockerExcludes(t *testing.T) {
	cache, _ := setupTestCache(t)
	locker := cache.NewLocker(time.Minute)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "enrich:vid-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "enrich:vid-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	unlock2, err := locker.Lock(ctx, "enrich:vid-1")
	require.NoError(t, err)
	unlock2()
}

func TestLockerReleaseKeepsForeignLock(t *testing.T) {
	cache, mr := setupTestCache(t)
	locker := cache.NewLocker(time.Second)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "download:vid-1:720")
	require.NoError(t, err)

	// The lock expires and another owner takes it over.
	mr.FastForward(2 * time.Second)
	unlockOther, err := locker.Lock(ctx, "download:vid-1:720")
	require.NoError(t, err)

	// Releasing the expired lock must not free the new owner's lock.
	unlock()
	assert.True(t, mr.Exists("lock:download:vid-1:720"))

	unlockOther()
	assert.False(t, mr.Exists("lock:download:vid-1:720"))
}

func TestLockerRenewsHeldLock(t *testing.T) {
	cache, mr := setupTestCache(t)
	locker := cache.NewLocker(300 * time.Millisecond)
	ctx := context.Background()
	key := "lock:download:vid-1:720"

	unlock, err := locker.Lock(ctx, "download:vid-1:720")
	require.NoError(t, err)

	mr.FastForward(200 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL(key) > 150*time.Millisecond
	}, 2*time.Second, 20*time.Millisecond, "held lock is renewed")

	// Past the original expiry the lock is still held.
	mr.FastForward(200 * time.Millisecond)
	require.True(t, mr.Exists(key))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "download:vid-1:720")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, mr.Exists(key))
	unlock()
}
