package services

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// KV 是会话与缓存使用的 Redis 命令子集，便于测试时替换为内存实现。
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}
