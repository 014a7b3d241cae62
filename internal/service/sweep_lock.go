package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/identity-linking-service/internal/observability"
)

// SweepLock guards the deletion sweep across processes. Acquire reports
// ok=false when another holder owns the lock.
type SweepLock interface {
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

var redisReleaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func init() {
	observability.RegisterRedisScript("sweep_lock_release", redisReleaseLockScript)
}

var errLockNotHeld = errors.New("sweep lock no longer held")

type RedisSweepLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisSweepLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisSweepLock {
	if key == "" {
		key = "identity:deletion-sweep:lock"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisSweepLock{client: client, key: key, ttl: ttl}
}

func (l *RedisSweepLock) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		n, err := redisReleaseLockScript.Run(ctx, l.client, []string{l.key}, token).Int64()
		if err != nil {
			return fmt.Errorf("release sweep lock: %w", err)
		}
		if n == 0 {
			return errLockNotHeld
		}
		return nil
	}
	return release, true, nil
}
