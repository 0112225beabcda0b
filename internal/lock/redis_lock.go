package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker serialises a key across processes with SET NX + TTL. The TTL
// bounds how long a crashed holder can block others.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: "wa:lock:",
		ttl:    ttl,
		retry:  20 * time.Millisecond,
		logger: logger.Named("lock"),
	}
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Lock polls SET NX until it wins or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	redisKey := l.prefix + key

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() { l.unlock(redisKey, token) }, nil
}

// TryLease takes key once with SET NX and keeps extending its TTL until the
// lease is released. If an extension finds the key gone or owned by someone
// else, the lease context is cancelled.
func (l *RedisLocker) TryLease(ctx context.Context, key string) (*Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	redisKey := l.prefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", redisKey, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	lease := newLease(ctx, func() { l.unlock(redisKey, token) })
	go l.renew(lease, redisKey, token)
	return lease, nil
}

func (l *RedisLocker) renew(lease *Lease, redisKey, token string) {
	every := l.ttl / 3
	if every <= 0 {
		every = time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-lease.ctx.Done():
			return
		case <-ticker.C:
		}

		rctx, cancel := context.WithTimeout(lease.ctx, every)
		n, err := extendScript.Run(rctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if lease.ctx.Err() != nil {
			return
		}
		if err != nil || n == 0 {
			l.logger.Warn("lease lost", zap.String("key", redisKey), zap.Error(err))
			lease.cancel()
			return
		}
	}
}

func (l *RedisLocker) unlock(redisKey, token string) {
	// The caller's ctx may already be cancelled; release must still run.
	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.logger.Warn("release lock", zap.String("key", redisKey), zap.Error(err))
	}
}
