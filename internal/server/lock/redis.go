package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes KEYS[1] only while it still carries our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisClient is the part of a go-redis client the lock uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis implements Locker with SET NX PX and a token checked on release.
type Redis struct {
	client   RedisClient
	poll     time.Duration
	newToken func() string
}

func NewRedis(client RedisClient) *Redis {
	return &Redis{client: client, poll: 100 * time.Millisecond, newToken: uuid.NewString}
}

func (r *Redis) TryAcquire(ctx context.Context, name string, wait, lease time.Duration) (Lease, bool, error) {
	token := r.newToken()
	ok, err := acquire(ctx, wait, r.poll, func(ctx context.Context) (bool, error) {
		return r.client.SetNX(ctx, name, token, lease).Result()
	})
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: r.client, name: name, token: token}, true, nil
}

type redisLease struct {
	client RedisClient
	name   string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	n, err := l.client.Eval(ctx, releaseScript, []string{l.name}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.name, err)
	}
	if n == 0 {
		return fmt.Errorf("release %s: %w", l.name, ErrNotHeld)
	}
	return nil
}
