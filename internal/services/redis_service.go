package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a lock could not be acquired before the wait deadline.
var ErrLockTimeout = errors.New("lock wait timed out")

// Locker serializes work on one entity across goroutines and processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Marker records one-shot keys with an expiry.
type Marker interface {
	// Mark stores key and reports whether it was not already present.
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Seen reports whether key is present.
	Seen(ctx context.Context, key string) (bool, error)
	// Unmark removes key so it can be marked again.
	Unmark(ctx context.Context, key string) error
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisService provides Redis backed locks and dedupe marks
type RedisService struct {
	client   *redis.Client
	lockTTL  time.Duration
	waitFor  time.Duration
	pollStep time.Duration
}

// NewRedisService creates a new Redis service instance
func NewRedisService(client *redis.Client) *RedisService {
	return &RedisService{
		client:   client,
		lockTTL:  30 * time.Second,
		waitFor:  15 * time.Second,
		pollStep: 25 * time.Millisecond,
	}
}

// Lock acquires key with SET NX PX and a random token. The lock expires on its own if the
// holder dies; unlock only deletes the key while the token still matches.
func (r *RedisService) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lockKey := "lock:" + key
	deadline := time.Now().Add(r.waitFor)

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Release must run even when the caller's context is done
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				unlockScript.Run(releaseCtx, r.client, []string{lockKey}, token)
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.pollStep):
		}
	}
}

// Mark stores key if absent
func (r *RedisService) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, "mark:"+key, time.Now().Unix(), ttl).Result()
}

// Seen checks whether key was marked
func (r *RedisService) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, "mark:"+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Unmark removes a mark
func (r *RedisService) Unmark(ctx context.Context, key string) error {
	return r.client.Del(ctx, "mark:"+key).Err()
}

// Ping checks the connection
func (r *RedisService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// LocalLocker is a keyed mutex for single-process deployments without Redis.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, lk, true) })
	}, nil
}

func (l *LocalLocker) release(key string, lk *localLock, held bool) {
	if held {
		<-lk.ch
	}
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
