package services

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dsolar/internal/config"
	"dsolar/internal/storage"
)

const manageAudience = "appointment-manage"

type manageClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ManageLinkService 签发与校验客户自助管理链接（HS256 JWT）。
type ManageLinkService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManageLinkService(cfg config.ManageLinkConfig) *ManageLinkService {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60 * 24 * time.Hour
	}
	return &ManageLinkService{secret: []byte(cfg.Secret), ttl: ttl, now: time.Now}
}

// SetClock 测试用：替换时间来源。
func (s *ManageLinkService) SetClock(now func() time.Time) { s.now = now }

// Issue 为预约签发管理令牌。
func (s *ManageLinkService) Issue(a *storage.Appointment) (string, error) {
	now := s.now()
	claims := manageClaims{
		Email: a.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(a.ID, 10),
			Audience:  jwt.ClaimStrings{manageAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse 校验令牌并返回预约 ID 与邮箱。
func (s *ManageLinkService) Parse(token string) (uint64, string, error) {
	var claims manageClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(manageAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, "", ErrTokenExpired
		}
		return 0, "", ErrTokenInvalid
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, "", ErrTokenInvalid
	}
	return id, claims.Email, nil
}
