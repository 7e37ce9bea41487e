package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another holder")

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock a held Redis lock. The zero value is a no-op lock.
type Lock struct {
	key   string
	token string
}

// AcquireLock takes key with SET NX PX. When Redis is disabled it returns a
// no-op lock so callers fall back to their own correctness guarantees.
func AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if !Enabled() {
		return &Lock{}, nil
	}
	token := uuid.NewString()
	fullKey := buildKey(key)
	ok, err := redisClient.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{key: fullKey, token: token}, nil
}

// Release drops the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.key == "" || !Enabled() {
		return nil
	}
	return releaseLockScript.Run(ctx, redisClient, []string{l.key}, l.token).Err()
}
