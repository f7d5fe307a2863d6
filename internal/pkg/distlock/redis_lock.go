package distlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Scripts compare the stored token before touching the key, so a process
// can never release or extend a lock another process now holds.
var (
	// acquireScript takes a free lock or refreshes one we already own.
	acquireScript = redis.NewScript(`
		local cur = redis.call("get", KEYS[1])
		if cur == ARGV[1] then
			redis.call("pexpire", KEYS[1], ARGV[2])
			return 1
		end
		if cur then
			return 0
		end
		redis.call("set", KEYS[1], ARGV[1], "PX", ARGV[2])
		return 1
	`)
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// ErrNotOwner is returned by Extend when the lock expired or was taken by
// another process.
var ErrNotOwner = errors.New("distlock: lock not owned")

// RedisLock is a TTL lock on one Redis key holding a per-instance token.
// Acquire is re-entrant like PGAdvisoryLock: a holder that acquires again
// refreshes the TTL.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLock creates a lock on key. The key is used verbatim.
func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire tries to acquire the lock. Returns true if successful.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Release frees the lock if this instance still holds it.
func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// Extend sets a new TTL for long-running holders.
// Returns ErrNotOwner if the lock is no longer ours.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}
