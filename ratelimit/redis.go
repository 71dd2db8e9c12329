package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// checkScript increments the window counter and arms the expiry exactly
// once, atomically. A read-then-write sequence would race when multiple
// instances hit the same identifier; the script makes the
// increment-plus-window-start a single Redis operation.
//
// KEYS[1] = counter key, ARGV[1] = window in milliseconds.
// Returns {count, pttl}.
var checkScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// RedisBackend counts attempts in a shared Redis instance so the window is
// global across service instances.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an already-connected Redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func counterKey(identifier string) string {
	return "ratelimit:" + identifier
}

// Check implements Backend against Redis.
func (b *RedisBackend) Check(ctx context.Context, identifier string, cfg Config) (Result, error) {
	now := time.Now()

	raw, err := checkScript.Run(ctx, b.client, []string{counterKey(identifier)}, cfg.Window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, fmt.Errorf("rate limit script returned unexpected result: %v", raw)
	}
	count, ok1 := values[0].(int64)
	pttl, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return Result{}, fmt.Errorf("rate limit script returned non-integer values: %v", raw)
	}

	resetAt := now.Add(cfg.Window)
	if pttl > 0 {
		resetAt = now.Add(time.Duration(pttl) * time.Millisecond)
	}

	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   int(count) <= cfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// NewRedisClient connects to the shared counter store and verifies the
// connection before returning.
func NewRedisClient(ctx context.Context, addr, password string, db, poolSize int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}
