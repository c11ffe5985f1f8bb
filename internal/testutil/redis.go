package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

type memEntry struct {
	val string
	exp time.Time
}

// MemoryRedis 以 map 模拟 services/middlewares 用到的 Redis 命令子集。
type MemoryRedis struct {
	mu   sync.Mutex
	data map[string]memEntry
	Now  func() time.Time
}

func NewMemoryRedis() *MemoryRedis {
	return &MemoryRedis{data: map[string]memEntry{}, Now: time.Now}
}

func (m *MemoryRedis) lookup(key string) (memEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return e, false
	}
	if !e.exp.IsZero() && !m.Now().Before(e.exp) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, true
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func (m *MemoryRedis) expiry(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return m.Now().Add(d)
}

func (m *MemoryRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(e.val, nil)
}

func (m *MemoryRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{val: toString(value), exp: m.expiry(expiration)}
	return redis.NewStatusResult("OK", nil)
}

func (m *MemoryRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.lookup(k); ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *MemoryRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.lookup(key)
	var n int64
	if e.val != "" {
		_, _ = fmt.Sscan(e.val, &n)
	}
	n++
	e.val = fmt.Sprint(n)
	m.data[key] = e
	return redis.NewIntResult(n, nil)
}

func (m *MemoryRedis) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return redis.NewBoolResult(false, nil)
	}
	e.exp = m.expiry(expiration)
	m.data[key] = e
	return redis.NewBoolResult(true, nil)
}
