package middlewares

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// Counter 是限流所需的 Redis 命令子集。
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// ByIP 以客户端 IP 作为限流键。
func ByIP(c *gin.Context) string { return c.ClientIP() }

// RateLimit 返回一个使用 Redis INCR+TTL 的固定窗口限流中间件。
// keyFn 用于构建请求者唯一键（如按 IP）；Redis 不可用时放行。
func RateLimit(rdb Counter, prefix string, limit int, window time.Duration, keyFn func(*gin.Context) string) gin.HandlerFunc {
	if window <= 0 {
		window = time.Minute
	}
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" || limit <= 0 {
			c.Next()
			return
		}
		rkey := fmt.Sprintf("rl:%s:%s", prefix, key)
		// 第一次自增时同时设置 TTL 窗口
		cnt, err := rdb.Incr(c, rkey).Result()
		if err != nil {
			log.WithError(err).WithField("limiter", prefix).Warn("rate limiter unavailable")
			c.Next()
			return
		}
		if cnt == 1 {
			_ = rdb.Expire(c, rkey, window).Err()
		}
		if cnt > int64(limit) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(429, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}
