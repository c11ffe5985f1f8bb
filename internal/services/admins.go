package services

// 管理员服务：账户查询、初始化、口令校验（bcrypt）与 TOTP 二次验证。

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp/totp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"dsolar/internal/config"
	"dsolar/internal/storage"
	"dsolar/internal/utils"
)

const minPasswordLen = 8

// AdminService 提供管理员 CRUD、登录校验与 MFA 绑定。
type AdminService struct {
	db  *gorm.DB
	cfg config.Config
	now func() time.Time
}

func NewAdminService(db *gorm.DB, cfg config.Config) *AdminService {
	return &AdminService{db: db, cfg: cfg, now: time.Now}
}

// SetClock 供测试注入时间。
func (s *AdminService) SetClock(now func() time.Time) { s.now = now }

// Bootstrap 在管理员表为空时按配置创建初始管理员。
func (s *AdminService) Bootstrap(ctx context.Context) error {
	ia := s.cfg.Bootstrap.InitialAdmin
	if !ia.Enable {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&storage.AdminUser{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if _, err := s.Create(ctx, ia.Username, ia.Password, ia.Email, ia.Name); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	log.WithField("username", ia.Username).Info("initial admin created")
	return nil
}

func (s *AdminService) FindByUsername(ctx context.Context, username string) (*storage.AdminUser, error) {
	var u storage.AdminUser
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *AdminService) FindByID(ctx context.Context, id uint64) (*storage.AdminUser, error) {
	var u storage.AdminUser
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *AdminService) List(ctx context.Context) ([]storage.AdminUser, error) {
	var list []storage.AdminUser
	err := s.db.WithContext(ctx).Order("id").Find(&list).Error
	return list, err
}

// Create 新建管理员；用户名重复返回 ErrConflict。
func (s *AdminService) Create(ctx context.Context, username, password, email, name string) (*storage.AdminUser, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, invalid("username", "required")
	}
	if len(password) < minPasswordLen {
		return nil, invalid("password", "too_short")
	}
	if _, err := s.FindByUsername(ctx, username); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &storage.AdminUser{Username: username, Password: string(hash), Email: email, Name: name}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AdminService) Save(ctx context.Context, u *storage.AdminUser) error {
	return s.db.WithContext(ctx).Save(u).Error
}

// CheckPassword 校验管理员口令（bcrypt）。
func (s *AdminService) CheckPassword(u *storage.AdminUser, password string) bool {
	if u == nil || u.Password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
}

// Authenticate 校验用户名口令；启用 MFA 时还需 TOTP 或恢复码。
// 返回的 amr 记录本次使用的认证方式。
func (s *AdminService) Authenticate(ctx context.Context, username, password, code string) (*storage.AdminUser, []string, error) {
	u, err := s.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrBadCredentials
		}
		return nil, nil, err
	}
	if !s.CheckPassword(u, password) {
		return nil, nil, ErrBadCredentials
	}
	amr := []string{"pwd"}
	if u.MFAEnabled {
		code = strings.TrimSpace(code)
		if code == "" {
			return nil, nil, ErrMFARequired
		}
		switch {
		case totp.Validate(code, u.MFASecret):
			amr = append(amr, "otp")
		case consumeRecoveryCode(u, code):
			amr = append(amr, "rc")
		default:
			return nil, nil, ErrMFAInvalid
		}
		now := s.now()
		u.MFALastUsedAt = &now
	}
	now := s.now()
	u.LastLoginAt = &now
	if err := s.Save(ctx, u); err != nil {
		return nil, nil, err
	}
	return u, amr, nil
}

func consumeRecoveryCode(u *storage.AdminUser, code string) bool {
	codes := splitCSV(u.MFARecoveryCodes)
	for i, c := range codes {
		if c == code {
			codes = append(codes[:i], codes[i+1:]...)
			u.MFARecoveryCodes = strings.Join(codes, ",")
			return true
		}
	}
	return false
}

// ChangePassword 变更口令（需要提供旧口令）。
func (s *AdminService) ChangePassword(ctx context.Context, id uint64, oldPwd, newPwd string) error {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.CheckPassword(u, oldPwd) {
		return ErrBadCredentials
	}
	return s.setPassword(ctx, u, newPwd)
}

// SetPassword 直接设置口令（运维命令行使用）。
func (s *AdminService) SetPassword(ctx context.Context, username, newPwd string) error {
	u, err := s.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, u, newPwd)
}

func (s *AdminService) setPassword(ctx context.Context, u *storage.AdminUser, newPwd string) error {
	if len(newPwd) < minPasswordLen {
		return invalid("password", "too_short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hash)
	return s.Save(ctx, u)
}

// MFASetup 绑定信息：秘钥、otpauth URL、二维码（data URI）与恢复码。
type MFASetup struct {
	Secret        string   `json:"secret"`
	OtpauthURL    string   `json:"otpauth_url"`
	QRCode        string   `json:"otpauth_qr,omitempty"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// SetupMFA 生成（或复用未激活的）TOTP 秘钥与恢复码。
func (s *AdminService) SetupMFA(ctx context.Context, id uint64) (*MFASetup, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	account := u.Email
	if account == "" {
		account = u.Username
	}
	secret := u.MFAPendingSecret
	codes := splitCSV(u.MFAPendingRecoveryCodes)
	if secret == "" {
		key, err := totp.Generate(totp.GenerateOpts{Issuer: s.cfg.MFA.Issuer, AccountName: account})
		if err != nil {
			return nil, fmt.Errorf("totp generate: %w", err)
		}
		secret = key.Secret()
		codes, err = utils.RecoveryCodes(5)
		if err != nil {
			return nil, err
		}
		u.MFAPendingSecret = secret
		u.MFAPendingRecoveryCodes = strings.Join(codes, ",")
		if err := s.Save(ctx, u); err != nil {
			return nil, err
		}
	}
	otpauth := buildOtpauthURL(s.cfg.MFA.Issuer, account, secret)
	return &MFASetup{Secret: secret, OtpauthURL: otpauth, QRCode: buildQRDataURI(otpauth), RecoveryCodes: codes}, nil
}

// EnableMFA 校验一次性验证码并启用 MFA。
func (s *AdminService) EnableMFA(ctx context.Context, id uint64, code string) error {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if u.MFAPendingSecret == "" {
		return invalid("mfa", "no_pending_secret")
	}
	if !totp.Validate(strings.TrimSpace(code), u.MFAPendingSecret) {
		return ErrMFAInvalid
	}
	now := s.now()
	u.MFASecret = u.MFAPendingSecret
	u.MFARecoveryCodes = u.MFAPendingRecoveryCodes
	u.MFAEnabled = true
	u.MFAEnrolledAt = &now
	u.MFAPendingSecret = ""
	u.MFAPendingRecoveryCodes = ""
	return s.Save(ctx, u)
}

// DisableMFA 需要再次输入口令。
func (s *AdminService) DisableMFA(ctx context.Context, id uint64, password string) error {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.CheckPassword(u, password) {
		return ErrBadCredentials
	}
	u.MFAEnabled = false
	u.MFASecret = ""
	u.MFARecoveryCodes = ""
	u.MFAPendingSecret = ""
	u.MFAPendingRecoveryCodes = ""
	u.MFAEnrolledAt = nil
	return s.Save(ctx, u)
}

func buildOtpauthURL(issuer, account, secret string) string {
	if issuer == "" {
		issuer = "D-Solar"
	}
	label := url.QueryEscape(fmt.Sprintf("%s:%s", issuer, account))
	params := url.Values{}
	params.Set("secret", secret)
	params.Set("issuer", issuer)
	params.Set("period", "30")
	params.Set("algorithm", "SHA1")
	params.Set("digits", "6")
	return fmt.Sprintf("otpauth://totp/%s?%s", label, params.Encode())
}

func buildQRDataURI(content string) string {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return ""
	}
	scaled, err := barcode.Scale(code, 256, 256)
	if err != nil {
		return ""
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, scaled); err != nil {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
