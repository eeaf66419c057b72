// Package redislock implements checkout.Locker on Redis so that several
// service instances serialize callback handling per reference.
package redislock

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/xenking/storefront-pay/internal/checkout"
)

// unlockScript deletes the key only while it still holds our token, so an
// expired lease taken over by another holder is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ checkout.Locker = (*Locker)(nil)

// Locker acquires leases with SET NX PX.
type Locker struct {
	client redis.Cmdable
	prefix string
}

// New returns a Locker whose keys are namespaced with prefix.
func New(client redis.Cmdable, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryLock implements checkout.Locker.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (checkout.UnlockFunc, error) {
	key = l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", key)
	}
	if !ok {
		return nil, checkout.ErrLocked
	}

	return func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return errors.Wrapf(err, "unlock %s", key)
		}
		return nil
	}, nil
}

// Ping checks that Redis is reachable.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
