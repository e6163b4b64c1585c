package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrLockNotHeld is returned when releasing a lock that expired or was taken over
var ErrLockNotHeld = errors.New("lock not held")

// Locker serializes work on a key. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// KeyedMutex is an in-process Locker with one mutex per key
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates an empty in-process locker
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until the key is free or ctx is done
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &keyedEntry{sem: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			m.release(key, entry)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, entry *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.locks, key)
	}
}

// deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extends the lease only while the key still holds our token
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker shared by every replica pointed at the same Redis.
// A held lock's lease is renewed every third of ttl until it is released, so
// ttl only bounds how long a crashed holder blocks the key.
type RedisLocker struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
}

// NewRedisLocker creates a locker whose locks expire after ttl if never released
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:     client,
		prefix:     "chunkup:lock:",
		ttl:        ttl,
		retryDelay: 25 * time.Millisecond,
	}
}

// Lock polls SET NX until it wins or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := l.unlock(context.Background(), redisKey, token); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to release upload lock")
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			renewed, err := renewScript.Run(context.Background(), l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to renew upload lock")
				continue
			}
			if renewed == 0 {
				log.Warn().Str("key", key).Msg("upload lock expired while held")
				return
			}
		}
	}
}

func (l *RedisLocker) unlock(ctx context.Context, redisKey, token string) error {
	released, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
	if err != nil {
		return err
	}
	if released == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// NewLocker picks the Redis locker when a cache is configured
func NewLocker(cache *Cache, ttl time.Duration) Locker {
	if client := cache.Client(); client != nil {
		return NewRedisLocker(client, ttl)
	}
	return NewKeyedMutex()
}
