package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// slidingWindow prunes, counts and conditionally records in one round trip.
// KEYS[1] window key
// ARGV[1] cutoff (ms), ARGV[2] now (ms), ARGV[3] max, ARGV[4] member, ARGV[5] ttl (ms)
var slidingWindow = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local n = redis.call('ZCARD', KEYS[1])
if n >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// Redis is a sliding-window limiter shared across processes through Redis.
type Redis struct {
	client *redis.Client
	prefix string
	max    int
	window time.Duration
	log    *zap.Logger
}

// NewRedis creates a Redis-backed limiter. Keys are "<prefix>:<subject>:<op>".
func NewRedis(client *redis.Client, prefix string, max int, window time.Duration, log *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "ratelimit"
	}
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, max: max, window: window, log: log}
}

func (r *Redis) key(subject, op string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, subject, op)
}

// Allow evaluates the window for (subject, op). Redis failures degrade to
// allowing the call; the failure is logged and returned alongside true.
func (r *Redis) Allow(ctx context.Context, subject, op string) (bool, error) {
	now := time.Now()
	ttl := r.window + 10*time.Second
	res, err := slidingWindow.Run(ctx, r.client, []string{r.key(subject, op)},
		strconv.FormatInt(now.Add(-r.window).UnixMilli(), 10),
		strconv.FormatInt(now.UnixMilli(), 10),
		r.max,
		uuid.NewString(),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		r.log.Warn("rate limit check failed, allowing call",
			zap.String("subject", subject), zap.String("op", op), zap.Error(err))
		return true, err
	}
	return res == 1, nil
}

// Clear deletes the window for (subject, op).
func (r *Redis) Clear(ctx context.Context, subject, op string) error {
	return r.client.Del(ctx, r.key(subject, op)).Err()
}

// Reset deletes every window under the prefix.
func (r *Redis) Reset(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
