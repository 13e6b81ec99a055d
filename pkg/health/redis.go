package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChecker pings a Redis server
type RedisChecker struct {
	Client *redis.Client
}

// NewRedisChecker creates a new Redis health checker
func NewRedisChecker(c *redis.Client) *RedisChecker {
	return &RedisChecker{Client: c}
}

// Check performs the Redis health check
func (r *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("ping failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("ping to %s successful", r.Client.Options().Addr),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (r *RedisChecker) Type() CheckType {
	return CheckTypeRedis
}
