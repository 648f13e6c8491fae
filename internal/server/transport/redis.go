package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

// pushOnce pushes ARGV[1] onto KEYS[1] unless the marker KEYS[2] exists.
const pushOnce = `
if redis.call("SET", KEYS[2], ARGV[2], "NX", "PX", ARGV[3]) then
	redis.call("LPUSH", KEYS[1], ARGV[1])
	return 1
end
return 0`

const markerPrefix = "fileflow:delivered:"

// RedisClient is the part of a go-redis client the queue uses.
type RedisClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// RedisQueue is a work queue on a Redis list. Publishing is idempotent for
// the lifetime of the delivery marker.
type RedisQueue struct {
	client RedisClient
	key    string
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisQueue(client RedisClient, key string, ttl time.Duration) *RedisQueue {
	return &RedisQueue{client: client, key: key, ttl: ttl, wait: 5 * time.Second}
}

func (q *RedisQueue) Publish(ctx context.Context, e *models.OutboxEntry) error {
	keys := []string{q.key, markerPrefix + e.IdempotencyKey}
	if _, err := q.client.Eval(ctx, pushOnce, keys, e.Payload, e.ID, q.ttl.Milliseconds()).Int(); err != nil {
		return fmt.Errorf("redis push to %s: %w", q.key, err)
	}
	return nil
}

// Consume pops one download request, waiting up to the queue's poll time.
func (q *RedisQueue) Consume(ctx context.Context) (*models.DownloadRequested, error) {
	res, err := q.client.BRPop(ctx, q.wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis pop from %s: %w", q.key, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redis pop from %s: unexpected reply %v", q.key, res)
	}

	var req models.DownloadRequested
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		return nil, fmt.Errorf("decode download request: %w", err)
	}
	return &req, nil
}
