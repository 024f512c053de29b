package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "genquota:ratelimit:"

// Counter описывает подмножество команд Redis, нужное ограничителю.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

var _ Counter = (*redis.Client)(nil)

// RedisLimiter ограничивает запросы фиксированным окном, общим для всех экземпляров сервиса.
type RedisLimiter struct {
	client Counter
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter разрешает не более limit запросов на ключ за окно window.
func NewRedisLimiter(client Counter, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Allow реализует Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.now().UnixNano() / int64(l.window)
	redisKey := keyPrefix + key + ":" + strconv.FormatInt(bucket, 10)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", redisKey, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, 2*l.window).Err(); err != nil {
			return false, fmt.Errorf("expire %s: %w", redisKey, err)
		}
	}

	return count <= l.limit, nil
}
