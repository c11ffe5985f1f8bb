package services

// 会话服务：在 Redis 中创建、读取与删除后台管理员会话。

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"dsolar/internal/config"
)

// Session 表示管理员浏览器会话。
// 存储在 Redis：key=session:<sid>，值为 JSON。
type Session struct {
	SID      string    `json:"sid"`
	AdminID  uint64    `json:"admin_id"`
	Username string    `json:"username"`
	AMR      []string  `json:"amr"`
	AuthTime time.Time `json:"auth_time"`
}

// SessionService 提供会话的创建/读取/删除能力。
type SessionService struct {
	kv  KV
	cfg config.Config
}

func NewSessionService(kv KV, cfg config.Config) *SessionService {
	return &SessionService{kv: kv, cfg: cfg}
}

func sessionKey(sid string) string { return fmt.Sprintf("session:%s", sid) }

func (s *SessionService) New(ctx context.Context, adminID uint64, username string, amr []string) (*Session, error) {
	sess := &Session{
		SID: uuid.NewString(), AdminID: adminID, Username: username, AMR: amr, AuthTime: time.Now(),
	}
	b, _ := json.Marshal(sess)
	if err := s.kv.Set(ctx, sessionKey(sess.SID), b, s.cfg.Session.TTL).Err(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get 读取会话；不存在或已过期返回 ErrNotFound。
func (s *SessionService) Get(ctx context.Context, sid string) (*Session, error) {
	if sid == "" {
		return nil, ErrNotFound
	}
	val, err := s.kv.Get(ctx, sessionKey(sid)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionService) Delete(ctx context.Context, sid string) error {
	return s.kv.Del(ctx, sessionKey(sid)).Err()
}
