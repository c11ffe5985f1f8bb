package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"dsolar/internal/middlewares"
	"dsolar/internal/services"
	"dsolar/internal/utils"
)

// setNoCache 为敏感响应添加禁止缓存的标准响应头。
func setNoCache(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}

// readSessionCookie 读取指定名称的会话 Cookie。
func readSessionCookie(c *gin.Context, name string) string {
	if ck, err := c.Request.Cookie(name); err == nil {
		return ck.Value
	}
	return ""
}

// sameSite 将配置值映射为 http.SameSite。
func (h *Handler) sameSite() http.SameSite {
	switch strings.ToLower(h.cfg.Session.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// setSessionCookie 写入管理员会话 Cookie；maxAge<0 表示删除。
func (h *Handler) setSessionCookie(c *gin.Context, sid string, maxAge int) {
	ck := &http.Cookie{
		Name: h.cfg.Session.CookieName, Value: sid, Path: "/", MaxAge: maxAge,
		HttpOnly: true, Secure: h.cfg.Session.CookieSecure, SameSite: h.sameSite(),
	}
	if h.cfg.Session.CookieDomain != "" {
		ck.Domain = h.cfg.Session.CookieDomain
	}
	http.SetCookie(c.Writer, ck)
}

// --- CSRF helpers (double-submit cookie) ---
const csrfCookie = "csrf_token"

// issueCSRF 复用已有的 CSRF Cookie，没有时生成新的。
func (h *Handler) issueCSRF(c *gin.Context) string {
	if ck, err := c.Request.Cookie(csrfCookie); err == nil && len(ck.Value) >= 32 {
		return ck.Value
	}
	tok, err := utils.RandURLSafeString(43)
	if err != nil {
		log.WithError(err).Error("csrf token generation failed")
		return ""
	}
	ck := &http.Cookie{Name: csrfCookie, Value: tok, Path: "/", HttpOnly: true, Secure: h.cfg.Session.CookieSecure, SameSite: h.sameSite()}
	if h.cfg.Session.CookieDomain != "" {
		ck.Domain = h.cfg.Session.CookieDomain
	}
	http.SetCookie(c.Writer, ck)
	return tok
}

func validateCSRF(c *gin.Context) bool {
	f := c.PostForm("csrf_token")
	ck, _ := c.Request.Cookie(csrfCookie)
	if ck == nil || ck.Value == "" || f == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(ck.Value), []byte(f)) == 1
}

// errorStatus 将领域错误映射为 HTTP 状态码与错误码。
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, services.ErrValidation.Error()
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, services.ErrNotFound.Error()
	case errors.Is(err, services.ErrSlotUnavailable):
		return http.StatusConflict, services.ErrSlotUnavailable.Error()
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, services.ErrConflict.Error()
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict, services.ErrInvalidTransition.Error()
	case errors.Is(err, services.ErrTokenInvalid):
		return http.StatusBadRequest, services.ErrTokenInvalid.Error()
	case errors.Is(err, services.ErrTokenExpired):
		return http.StatusGone, services.ErrTokenExpired.Error()
	case errors.Is(err, services.ErrBadCredentials):
		return http.StatusUnauthorized, services.ErrBadCredentials.Error()
	case errors.Is(err, services.ErrMFARequired):
		return http.StatusUnauthorized, services.ErrMFARequired.Error()
	case errors.Is(err, services.ErrMFAInvalid):
		return http.StatusUnauthorized, services.ErrMFAInvalid.Error()
	case errors.Is(err, services.ErrWeatherDisabled):
		return http.StatusServiceUnavailable, services.ErrWeatherDisabled.Error()
	case errors.Is(err, services.ErrUpstream):
		return http.StatusBadGateway, services.ErrUpstream.Error()
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

// fail 以 JSON 返回错误；校验错误附带字段与原因，5xx 记录日志。
func (h *Handler) fail(c *gin.Context, err error) {
	status, code := errorStatus(err)
	body := gin.H{"error": code}
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
		body["reason"] = ve.Reason
	}
	if status >= 500 {
		_ = c.Error(err)
		log.WithError(err).WithFields(log.Fields{
			"path":       c.FullPath(),
			"request_id": middlewares.GetRequestID(c),
		}).Error("request failed")
	}
	c.JSON(status, body)
}

// audit 写入一条审计日志，自动带上 IP 与请求 ID。
func (h *Handler) audit(c *gin.Context, level, event string, adminID *uint64, subject, desc string) {
	h.logSvc.Write(c, services.AuditEntry{
		Level: level, Event: event, AdminID: adminID, Subject: subject, Description: desc,
		IP: c.ClientIP(), RequestID: middlewares.GetRequestID(c),
	})
}

// parseID 读取路径参数 :id。
func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_id"})
		return 0, false
	}
	return id, true
}

// parseDate 支持 YYYY-MM-DD（预约时区）或 Unix 秒。
func (h *Handler) parseDate(v string) (time.Time, error) {
	if len(v) == 10 && strings.Count(v, "-") == 2 {
		return time.ParseInLocation("2006-01-02", v, h.loc)
	}
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}
	return time.Time{}, errors.New("invalid time")
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

var moneyPrinter = message.NewPrinter(language.English)

func formatMoney(v float64) string { return moneyPrinter.Sprintf("PHP %.2f", v) }

// humanDuration 将令牌有效期等时长写成 "24 hours" 这样的文本。
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		n := int(d / time.Hour)
		if n == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", n)
	case d >= time.Minute:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
