package jwtkeys

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when the caller still owns it, so a
// lock that expired and was re-acquired by another instance is never
// released out from under its new holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// rotationLock is a single-instance-Redis mutual-exclusion lock with an
// owner token and a TTL safety net. Not a general distributed lock.
type rotationLock struct {
	redis  redis.UniversalClient
	key    string
	owner  string
	logger interface {
		Warn(msg string, args ...any)
	}
}

// acquireRotationLock tries to take the rotation lock. acquired=false
// means another instance holds it; that is not an error.
func (r *Registry) acquireRotationLock(ctx context.Context) (*rotationLock, bool, error) {
	owner := uuid.NewString()
	ok, err := r.redis.SetNX(ctx, r.lockKey(), owner, r.cfg.LockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &rotationLock{redis: r.redis, key: r.lockKey(), owner: owner, logger: r.logger}, true, nil
}

// release frees the lock. Failure is logged, not returned: the TTL
// guarantees the lock cannot outlive a crashed holder.
func (l *rotationLock) release(ctx context.Context) {
	if err := releaseScript.Run(ctx, l.redis, []string{l.key}, l.owner).Err(); err != nil &&
		!errors.Is(err, redis.Nil) {
		l.logger.Warn("rotation lock release failed", "error", err)
	}
}
