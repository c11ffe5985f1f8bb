package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"dsolar/internal/services"
	"dsolar/internal/storage"
)

// 后台页面：登录、注销与首页看板。

const sessionCtxKey = "admin_session"

// currentAdmin 读取会话 Cookie 并从 Redis 取回会话。
func (h *Handler) currentAdmin(c *gin.Context) (*services.Session, error) {
	sid := readSessionCookie(c, h.cfg.Session.CookieName)
	if sid == "" {
		return nil, http.ErrNoCookie
	}
	return h.sessionSvc.Get(c, sid)
}

// session 返回 adminOnly/adminPage 放入上下文的会话。
func session(c *gin.Context) *services.Session {
	if v, ok := c.Get(sessionCtxKey); ok {
		if s, ok := v.(*services.Session); ok {
			return s
		}
	}
	return nil
}

// adminPage 包装后台页面：未登录时跳转到登录页。
func (h *Handler) adminPage(fn gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := h.currentAdmin(c)
		if err != nil {
			c.Redirect(http.StatusFound, "/admin/login")
			return
		}
		c.Set(sessionCtxKey, sess)
		setNoCache(c)
		fn(c)
	}
}

// @Summary      后台登录页
// @Tags         admin
// @Produce      html
// @Success      200 {string} string "HTML"
// @Router       /admin/login [get]
func (h *Handler) loginPage(c *gin.Context) {
	if _, err := h.currentAdmin(c); err == nil {
		c.Redirect(http.StatusFound, "/admin")
		return
	}
	setNoCache(c)
	h.render(c, http.StatusOK, "admin_login.html", gin.H{"Title": "Admin sign in", "CSRF": h.issueCSRF(c)})
}

// @Summary      提交后台登录
// @Description  用户名口令登录；启用 MFA 的账户需同时提交 otp（TOTP 或恢复码）
// @Tags         admin
// @Accept       x-www-form-urlencoded
// @Param        csrf_token formData string true  "CSRF 令牌"
// @Param        username   formData string true  "用户名"
// @Param        password   formData string true  "密码"
// @Param        otp        formData string false "动态口令或恢复码"
// @Success      302 {string} string "重定向至 /admin"
// @Failure      401 {string} string "HTML"
// @Failure      403 {string} string "HTML"
// @Failure      429 {object} map[string]string
// @Router       /admin/login [post]
func (h *Handler) loginSubmit(c *gin.Context) {
	setNoCache(c)
	username := c.PostForm("username")
	data := gin.H{"Title": "Admin sign in", "Username": username}
	if !validateCSRF(c) {
		data["CSRF"] = h.issueCSRF(c)
		data["Error"] = "Your session expired, please try again."
		h.render(c, http.StatusForbidden, "admin_login.html", data)
		return
	}
	u, amr, err := h.adminSvc.Authenticate(c, username, c.PostForm("password"), c.PostForm("otp"))
	if err != nil {
		data["CSRF"] = h.issueCSRF(c)
		switch {
		case errors.Is(err, services.ErrMFARequired):
			data["NeedOTP"] = true
			data["Error"] = "Enter the code from your authenticator app."
		case errors.Is(err, services.ErrMFAInvalid):
			data["NeedOTP"] = true
			data["Error"] = "The code is not valid."
			h.audit(c, "WARN", "ADMIN_LOGIN_FAILED", nil, "admin:"+username, "invalid second factor")
		case errors.Is(err, services.ErrBadCredentials):
			data["Error"] = "Invalid username or password."
			h.audit(c, "WARN", "ADMIN_LOGIN_FAILED", nil, "admin:"+username, "bad credentials")
		default:
			log.WithError(err).Error("admin login")
			data["Error"] = "Sign in is temporarily unavailable."
			h.render(c, http.StatusInternalServerError, "admin_login.html", data)
			return
		}
		h.render(c, http.StatusUnauthorized, "admin_login.html", data)
		return
	}
	sess, err := h.sessionSvc.New(c, u.ID, u.Username, amr)
	if err != nil {
		log.WithError(err).Error("create admin session")
		data["CSRF"] = h.issueCSRF(c)
		data["Error"] = "Sign in is temporarily unavailable."
		h.render(c, http.StatusInternalServerError, "admin_login.html", data)
		return
	}
	h.setSessionCookie(c, sess.SID, int(h.cfg.Session.TTL.Seconds()))
	h.audit(c, "INFO", "ADMIN_LOGIN", &u.ID, "admin:"+u.Username, "login success")
	c.Redirect(http.StatusFound, "/admin")
}

// @Summary      后台注销
// @Tags         admin
// @Accept       x-www-form-urlencoded
// @Param        csrf_token formData string true "CSRF 令牌"
// @Success      302 {string} string "重定向至 /admin/login"
// @Failure      403 {string} string "HTML"
// @Router       /admin/logout [post]
func (h *Handler) logout(c *gin.Context) {
	if !validateCSRF(c) {
		h.errorPage(c, http.StatusForbidden, "Invalid form token.")
		return
	}
	if sess, err := h.currentAdmin(c); err == nil {
		if err := h.sessionSvc.Delete(c, sess.SID); err != nil {
			log.WithError(err).Warn("delete admin session")
		}
		h.audit(c, "INFO", "ADMIN_LOGOUT", &sess.AdminID, "admin:"+sess.Username, "logout")
	}
	h.setSessionCookie(c, "", -1)
	c.Redirect(http.StatusFound, "/admin/login")
}

// @Summary      后台首页
// @Description  按状态统计预约并列出近期预约；appointment 参数用于高亮某条预约
// @Tags         admin
// @Produce      html
// @Param        appointment query int false "预约 ID"
// @Success      200 {string} string "HTML"
// @Success      302 {string} string "未登录时跳转登录页"
// @Router       /admin [get]
func (h *Handler) dashboard(c *gin.Context) {
	sess := session(c)
	counts, err := h.apptSvc.Counts(c)
	if err != nil {
		log.WithError(err).Error("dashboard counts")
	}
	from := time.Now().Add(-24 * time.Hour)
	list, _, err := h.apptSvc.List(c, services.AppointmentFilter{From: &from, Limit: 50})
	if err != nil {
		log.WithError(err).Error("dashboard appointments")
	}
	// 列表按时间倒序返回，看板按时间正序展示
	upcoming := make([]storage.Appointment, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		upcoming = append(upcoming, list[i])
	}
	data := gin.H{
		"Title":    "Dashboard",
		"Admin":    sess,
		"CSRF":     h.issueCSRF(c),
		"Counts":   counts,
		"Upcoming": upcoming,
	}
	if v := c.Query("appointment"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			if a, err := h.apptSvc.Get(c, id); err == nil {
				data["Selected"] = a
			}
		}
	}
	h.render(c, http.StatusOK, "admin_dashboard.html", data)
}
