package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window Limiter shared by every instance talking to the
// same Redis server.
type Redis struct {
	client *redis.Client
	rate   Rate
	prefix string
}

// NewRedis returns a Limiter that keeps its counters in Redis.
func NewRedis(client *redis.Client, rate Rate) *Redis {
	return &Redis{client: client, rate: rate, prefix: "newsletter:ratelimit:"}
}

// Connect initializes a Redis client from a redis:// URL or host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// incrWindow bumps the counter and sets its expiry in one round trip. A key
// left without a TTL is given one on the next hit instead of living forever.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Allow increments the counter for key, starting the window on the first hit.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	count, err := incrWindow.Run(ctx, r.client, []string{r.prefix + key}, r.rate.Period.Milliseconds()).Int64()
	if err != nil {
		return true, err
	}
	return count <= r.rate.Limit, nil
}
