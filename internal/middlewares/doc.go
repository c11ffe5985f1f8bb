// Package middlewares 提供 Gin 中间件：请求 ID、访问日志、安全响应头、跨域与基于 Redis 的限流。
package middlewares
