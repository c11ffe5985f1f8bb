package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dsolar/internal/services"
)

// registerAPIRoutes 挂载公开 JSON 接口与需要管理员会话的 /api/admin/* 接口。
func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api")
	// 公开内容
	api.GET("/posts", h.apiPosts)
	api.GET("/posts/:slug", h.apiPost)
	api.GET("/packages", h.apiPackages)
	api.GET("/calculator/params", h.apiCalculatorParams)
	api.POST("/calculator/estimate", h.apiEstimate)
	api.GET("/weather", h.apiWeather)
	api.POST("/chat", h.limit("chat", h.cfg.Limits.ChatPerMinute), h.apiChat)
	// 预约
	api.GET("/appointments/availability", h.apiAvailability)
	api.POST("/appointments", h.limit("booking", h.cfg.Limits.BookingPerMinute), h.apiBook)
	api.POST("/appointments/resend", h.limit("resend", h.cfg.Limits.BookingPerMinute), h.apiResend)

	// 管理端：全部要求有效会话
	admin := api.Group("/admin")
	admin.GET("/me", h.adminOnly(h.apiAdminMe))
	admin.POST("/password", h.adminOnly(h.apiAdminChangePassword))
	admin.POST("/mfa/setup", h.adminOnly(h.apiAdminSetupMFA))
	admin.POST("/mfa/enable", h.adminOnly(h.apiAdminEnableMFA))
	admin.POST("/mfa/disable", h.adminOnly(h.apiAdminDisableMFA))
	admin.GET("/logs", h.adminOnly(h.apiAdminListLogs))

	admin.GET("/posts", h.adminOnly(h.apiAdminListPosts))
	admin.POST("/posts", h.adminOnly(h.apiAdminCreatePost))
	admin.GET("/posts/:id", h.adminOnly(h.apiAdminGetPost))
	admin.PUT("/posts/:id", h.adminOnly(h.apiAdminUpdatePost))
	admin.DELETE("/posts/:id", h.adminOnly(h.apiAdminDeletePost))
	admin.POST("/posts/:id/publish", h.adminOnly(h.apiAdminPublishPost(true)))
	admin.POST("/posts/:id/unpublish", h.adminOnly(h.apiAdminPublishPost(false)))

	admin.GET("/packages", h.adminOnly(h.apiAdminListPackages))
	admin.POST("/packages", h.adminOnly(h.apiAdminCreatePackage))
	admin.PUT("/packages/:id", h.adminOnly(h.apiAdminUpdatePackage))
	admin.PUT("/packages/:id/active", h.adminOnly(h.apiAdminSetPackageActive))
	admin.DELETE("/packages/:id", h.adminOnly(h.apiAdminDeletePackage))

	admin.GET("/appointments", h.adminOnly(h.apiAdminListAppointments))
	admin.GET("/appointments/counts", h.adminOnly(h.apiAdminAppointmentCounts))
	admin.GET("/appointments/:id", h.adminOnly(h.apiAdminGetAppointment))
	admin.PUT("/appointments/:id/status", h.adminOnly(h.apiAdminUpdateAppointmentStatus))
	admin.DELETE("/appointments/:id", h.adminOnly(h.apiAdminDeleteAppointment))

	admin.PUT("/calculator/params", h.adminOnly(h.apiAdminSaveCalculatorParams))
}

// adminOnly 包装管理端接口：无有效会话返回 401。
func (h *Handler) adminOnly(fn gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := h.currentAdmin(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(sessionCtxKey, sess)
		setNoCache(c)
		fn(c)
	}
}

// adminID 当前会话的管理员 ID（用于审计）。
func adminID(c *gin.Context) *uint64 {
	s := session(c)
	if s == nil {
		return nil
	}
	id := s.AdminID
	return &id
}

// @Summary      已发布文章列表
// @Tags         public-api
// @Produce      json
// @Param        page query int false "页码"
// @Success      200 {object} services.PostPage
// @Router       /api/posts [get]
func (h *Handler) apiPosts(c *gin.Context) {
	page, err := h.blogSvc.ListPublished(c, queryInt(c, "page", 1))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// @Summary      文章详情
// @Tags         public-api
// @Produce      json
// @Param        slug path string true "文章 slug"
// @Success      200 {object} services.RenderedPost
// @Failure      404 {object} map[string]string
// @Router       /api/posts/{slug} [get]
func (h *Handler) apiPost(c *gin.Context) {
	post, err := h.blogSvc.GetPublished(c, c.Param("slug"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// @Summary      在售套餐
// @Tags         public-api
// @Produce      json
// @Param        type query string false "hybrid 或 on-grid"
// @Success      200 {array} storage.Package
// @Failure      400 {object} map[string]string
// @Router       /api/packages [get]
func (h *Handler) apiPackages(c *gin.Context) {
	t := strings.ToLower(strings.TrimSpace(c.Query("type")))
	if t != "" && t != services.PackageHybrid && t != services.PackageOnGrid {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrValidation.Error(), "field": "type"})
		return
	}
	list, err := h.pkgSvc.ListActive(c, t)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary      计算器参数
// @Description  返回区域电价表与默认假设；未配置时返回内置默认值
// @Tags         public-api
// @Produce      json
// @Success      200 {object} services.CalculatorParams
// @Router       /api/calculator/params [get]
func (h *Handler) apiCalculatorParams(c *gin.Context) {
	p, err := h.calcSvc.Params(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary      节省估算
// @Tags         public-api
// @Accept       json
// @Produce      json
// @Param        body body services.EstimateRequest true "月电费、区域与系统类型"
// @Success      200 {object} services.Estimate
// @Failure      400 {object} map[string]string
// @Router       /api/calculator/estimate [post]
func (h *Handler) apiEstimate(c *gin.Context) {
	var req services.EstimateRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	est, err := h.calcSvc.Estimate(c, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, est)
}

type chatReq struct {
	Message string `json:"message" form:"message"`
}

// @Summary      聊天机器人
// @Tags         public-api
// @Accept       json
// @Produce      json
// @Param        body body chatReq true "{message}"
// @Success      200 {object} services.ChatReply
// @Failure      400 {object} map[string]string
// @Failure      429 {object} map[string]string
// @Router       /api/chat [post]
func (h *Handler) apiChat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	reply, err := h.chatSvc.Reply(c, req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// @Summary      当前天气与光照评分
// @Tags         public-api
// @Produce      json
// @Param        city query string false "城市（默认取配置）"
// @Success      200 {object} services.Weather
// @Failure      400 {object} map[string]string
// @Failure      502 {object} map[string]string
// @Failure      503 {object} map[string]string
// @Router       /api/weather [get]
func (h *Handler) apiWeather(c *gin.Context) {
	w, err := h.weatherSvc.Current(c, c.Query("city"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, w)
}

// @Summary      当前管理员信息
// @Tags         admin-api
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Failure      401 {object} map[string]string
// @Router       /api/admin/me [get]
func (h *Handler) apiAdminMe(c *gin.Context) {
	sess := session(c)
	u, err := h.adminSvc.FindByID(c, sess.AdminID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            u.ID,
		"username":      u.Username,
		"email":         u.Email,
		"name":          u.Name,
		"mfa_enabled":   u.MFAEnabled,
		"last_login_at": u.LastLoginAt,
		"amr":           sess.AMR,
		"auth_time":     sess.AuthTime.Unix(),
	})
}

type changePasswordReq struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// @Summary      修改口令
// @Description  需要提供旧口令与新口令（至少 8 位）
// @Tags         admin-api
// @Accept       json
// @Produce      json
// @Param        body body changePasswordReq true "{old_password,new_password}"
// @Success      204 {string} string "No Content"
// @Failure      400 {object} map[string]string
// @Failure      401 {object} map[string]string
// @Router       /api/admin/password [post]
func (h *Handler) apiAdminChangePassword(c *gin.Context) {
	var req changePasswordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_json"})
		return
	}
	uid := adminID(c)
	if err := h.adminSvc.ChangePassword(c, *uid, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, services.ErrBadCredentials) {
			h.audit(c, "WARN", "ADMIN_PASSWORD_CHANGE_FAILED", uid, "", "wrong current password")
		}
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "ADMIN_PASSWORD_CHANGED", uid, "", "password changed")
	c.Status(http.StatusNoContent)
}

// @Summary      审计日志
// @Tags         admin-api
// @Produce      json
// @Param        event   query string false "事件"
// @Param        subject query string false "对象（如 appointment:12）"
// @Param        since   query string false "起始时间（YYYY-MM-DD 或 Unix 秒）"
// @Param        limit   query int    false "数量(<=500)"
// @Param        offset  query int    false "偏移"
// @Success      200 {array} map[string]interface{}
// @Failure      401 {object} map[string]string
// @Router       /api/admin/logs [get]
func (h *Handler) apiAdminListLogs(c *gin.Context) {
	f := services.LogFilter{
		Event:   c.Query("event"),
		Subject: c.Query("subject"),
		Limit:   queryInt(c, "limit", 100),
		Offset:  queryInt(c, "offset", 0),
	}
	if v := c.Query("since"); v != "" {
		if t, err := h.parseDate(v); err == nil {
			f.Since = &t
		}
	}
	list, err := h.logSvc.List(c, f)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, it := range list {
		out = append(out, gin.H{
			"ts":         it.Timestamp.Unix(),
			"level":      it.Level,
			"event":      it.Event,
			"admin_id":   it.AdminID,
			"subject":    it.Subject,
			"desc":       it.Description,
			"ip":         it.IPAddress,
			"request_id": it.RequestID,
		})
	}
	c.JSON(http.StatusOK, out)
}
