// Package limiter serializes workflow executions per ownership key using
// Redis, so limiter state is shared across workers and survives a worker
// crash between acquire and release.
package limiter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLease bounds how long a crashed holder can occupy a slot.
	// It must exceed the backend request timeout so a healthy long call
	// never loses its permit mid-flight.
	DefaultLease = 15 * time.Minute

	defaultPoll = 100 * time.Millisecond
)

// admitScript promotes the head waiter into the holder set when a slot is
// free. Expired leases are reaped first so a crashed worker can never
// deadlock the key. Runs atomically, so two workers polling the same key
// cannot both be admitted into the last slot.
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[3])
if redis.call('ZCARD', KEYS[2]) < tonumber(ARGV[2]) and redis.call('LINDEX', KEYS[1], 0) == ARGV[1] then
	redis.call('LPOP', KEYS[1])
	redis.call('ZADD', KEYS[2], tonumber(ARGV[3]) + tonumber(ARGV[4]), ARGV[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[4] * 2)
	redis.call('PEXPIRE', KEYS[2], ARGV[4] * 2)
	return 1
end
return 0
`)

// Limiter is a per-key FIFO semaphore. Waiters join a Redis list in
// arrival order; holders live in a ZSET scored by lease expiry.
type Limiter struct {
	redis *redis.Client
	lease time.Duration
	poll  time.Duration
}

func New(redisClient *redis.Client) *Limiter {
	return &Limiter{
		redis: redisClient,
		lease: DefaultLease,
		poll:  defaultPoll,
	}
}

// Permit represents one acquired slot. Release is unconditional and
// idempotent; a forgotten release frees itself at lease expiry.
type Permit struct {
	key   string
	token string
	l     *Limiter
}

// Acquire blocks until the caller holds a slot for key, or ctx is done.
// Admission is FIFO: a second trigger for the same key queues behind the
// first rather than racing it.
func (l *Limiter) Acquire(ctx context.Context, key string, limit int) (*Permit, error) {
	token := uuid.New().String()

	if err := l.redis.RPush(ctx, WaitingKey(key), token).Err(); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		admitted, err := admitScript.Run(ctx, l.redis,
			[]string{WaitingKey(key), HoldersKey(key)},
			token, limit, time.Now().UnixMilli(), l.lease.Milliseconds(),
		).Int()
		if err != nil {
			l.abandon(key, token)
			return nil, err
		}
		if admitted == 1 {
			return &Permit{key: key, token: token, l: l}, nil
		}

		select {
		case <-ctx.Done():
			l.abandon(key, token)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release frees the permit's slot. Safe to call multiple times; ZREM on a
// missing member is a no-op, so a double release never corrupts the count.
func (p *Permit) Release(ctx context.Context) {
	p.l.redis.ZRem(ctx, HoldersKey(p.key), p.token)
}

// abandon removes a waiter that gave up before admission. Uses a fresh
// context because the caller's is typically already cancelled.
func (l *Limiter) abandon(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.redis.LRem(ctx, WaitingKey(key), 0, token)
}
