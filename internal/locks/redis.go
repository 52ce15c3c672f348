package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"basis/pkg/errors"
)

// releaseScript deletes the lock key only when the stored token still matches
// the lease, so a lease that expired and was re-acquired by another operation
// cannot be released by the original holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisManager implements Manager on a shared Redis instance so multiple
// orchestrator replicas exclude each other. Lease expiry is enforced by the
// key TTL.
type RedisManager struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Manager = (*RedisManager)(nil)

// NewRedisManager creates a Redis-backed lock manager with the given lease TTL
func NewRedisManager(rdb *redis.Client, ttl time.Duration) *RedisManager {
	return &RedisManager{rdb: rdb, ttl: ttl}
}

// Acquire takes the lock for key or fails with ErrLockConflict
func (m *RedisManager) Acquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.New()

	ok, err := m.rdb.SetNX(ctx, "lock:"+key, token.String(), m.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire lock")
	}
	if !ok {
		return nil, errors.Wrapf(errors.ErrLockConflict, "key %s", key)
	}

	return &Lease{
		Key:       key,
		Token:     token,
		ExpiresAt: time.Now().Add(m.ttl),
	}, nil
}

// Release frees the lock if the lease still owns it
func (m *RedisManager) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	err := m.rdb.Eval(ctx, releaseScript, []string{"lock:" + lease.Key}, lease.Token.String()).Err()
	if err != nil && err != redis.Nil {
		return errors.Wrap(err, "failed to release lock")
	}
	return nil
}
