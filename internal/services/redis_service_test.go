package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	svc := NewRedisService(client)
	svc.waitFor = 200 * time.Millisecond
	svc.pollStep = 5 * time.Millisecond
	return svc, mr
}

func TestRedisLock(t *testing.T) {
	svc, mr := newTestRedis(t)
	ctx := context.Background()

	unlock, err := svc.Lock(ctx, "subscriber:254712345678")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:subscriber:254712345678"))

	_, err = svc.Lock(ctx, "subscriber:254712345678")
	assert.ErrorIs(t, err, ErrLockTimeout)

	other, err := svc.Lock(ctx, "subscriber:254700000000")
	require.NoError(t, err, "keys are independent")
	other()

	unlock()
	assert.False(t, mr.Exists("lock:subscriber:254712345678"))

	again, err := svc.Lock(ctx, "subscriber:254712345678")
	require.NoError(t, err)
	again()
}

func TestRedisLockExpires(t *testing.T) {
	svc, mr := newTestRedis(t)
	ctx := context.Background()

	_, err := svc.Lock(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(svc.lockTTL + time.Second)

	unlock, err := svc.Lock(ctx, "k")
	require.NoError(t, err, "an abandoned lock expires")
	unlock()
}

func TestRedisUnlockKeepsForeignToken(t *testing.T) {
	svc, mr := newTestRedis(t)
	ctx := context.Background()

	unlock, err := svc.Lock(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, mr.Set("lock:k", "someone-else"))

	unlock()
	got, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisMark(t *testing.T) {
	svc, mr := newTestRedis(t)
	ctx := context.Background()

	first, err := svc.Mark(ctx, "delivery:254712345678:love:2024-05-01", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := svc.Mark(ctx, "delivery:254712345678:love:2024-05-01", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	seen, err := svc.Seen(ctx, "delivery:254712345678:love:2024-05-01")
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Hour)
	seen, err = svc.Seen(ctx, "delivery:254712345678:love:2024-05-01")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisUnmark(t *testing.T) {
	svc, _ := newTestRedis(t)
	ctx := context.Background()
	key := "delivery:254712345678:bible:2024-05-01"

	_, err := svc.Mark(ctx, key, time.Hour)
	require.NoError(t, err)
	require.NoError(t, svc.Unmark(ctx, key))

	again, err := svc.Mark(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, again, "a released mark can be claimed again")
	require.NoError(t, svc.Unmark(ctx, "missing"))
}

func TestLocalLockerSerializes(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "k")
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Empty(t, locker.locks)
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
