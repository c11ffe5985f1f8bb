package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dsolar/internal/services"
)

// 管理端内容接口：文章、套餐、预约、计算器参数与 MFA。

func postSubject(id uint64) string    { return fmt.Sprintf("post:%d", id) }
func packageSubject(id uint64) string { return fmt.Sprintf("package:%d", id) }

// --- Posts -------------------------------------------------------------------

// @Summary      管理员 - 文章列表（含草稿）
// @Tags         admin-api
// @Produce      json
// @Success      200 {array} storage.Post
// @Failure      401 {object} map[string]string
// @Router       /api/admin/posts [get]
func (h *Handler) apiAdminListPosts(c *gin.Context) {
	list, err := h.blogSvc.ListAll(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary      管理员 - 文章详情
// @Tags         admin-api
// @Produce      json
// @Param        id path int true "文章ID"
// @Success      200 {object} storage.Post
// @Failure      404 {object} map[string]string
// @Router       /api/admin/posts/{id} [get]
func (h *Handler) apiAdminGetPost(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.blogSvc.Get(c, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary      管理员 - 新建文章
// @Description  未提供 slug 时由标题生成；published=true 时立即发布
// @Tags         admin-api
// @Accept       json
// @Produce      json
// @Param        body body services.PostInput true "文章"
// @Success      201 {object} storage.Post
// @Failure      400 {object} map[string]string
// @Router       /api/admin/posts [post]
func (h *Handler) apiAdminCreatePost(c *gin.Context) {
	var in services.PostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_json"})
		return
	}
	uid := adminID(c)
	p, err := h.blogSvc.Create(c, *uid, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "POST_CREATED", uid, postSubject(p.ID), p.Slug)
	c.JSON(http.StatusCreated, p)
}

// @Summary      管理员 - 更新文章
// @Tags         admin-api
// @Accept       json
// @Produce      json
// @Param        id   path int               true "文章ID"
// @Param        body body services.PostInput true "文章"
// @Success      200 {object} storage.Post
// @Failure      400 {object} map[string]string
// @Failure      404 {object} map[string]string
// @Router       /api/admin/posts/{id} [put]
func (h *Handler) apiAdminUpdatePost(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in services.PostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_json"})
		return
	}
	p, err := h.blogSvc.Update(c, id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "POST_UPDATED", adminID(c), postSubject(p.ID), p.Slug)
	c.JSON(http.StatusOK, p)
}

// apiAdminPublishPost 返回发布或撤回文章的处理函数。
// @Summary      管理员 - 发布/撤回文章
// @Description  首次发布时记录发布时间，撤回后保留
// @Tags         admin-api
// @Produce      json
// @Param        id path int true "文章ID"
// @Success      200 {object} storage.Post
// @Failure      404 {object} map[string]string
// @Router       /api/admin/posts/{id}/publish [post]
// @Router       /api/admin/posts/{id}/unpublish [post]
func (h *Handler) apiAdminPublishPost(published bool) gin.HandlerFunc {
	event := "POST_UNPUBLISHED"
	if published {
		event = "POST_PUBLISHED"
	}
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		p, err := h.blogSvc.SetPublished(c, id, published)
		if err != nil {
			h.fail(c, err)
			return
		}
		h.audit(c, "INFO", event, adminID(c), postSubject(p.ID), p.Slug)
		c.JSON(http.StatusOK, p)
	}
}

// @Summary      管理员 - 删除文章
// @Tags         admin-api
// @Param        id path int true "文章ID"
// @Success      204 {string} string "No Content"
// @Failure      404 {object} map[string]string
// @Router       /api/admin/posts/{id} [delete]
func (h *Handler) apiAdminDeletePost(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.blogSvc.Delete(c, id); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "POST_DELETED", adminID(c), postSubject(id), "post deleted")
	c.Status(http.StatusNoContent)
}

// --- Packages ----------------------------------------------------------------

// @Summary      管理员 - 套餐列表（含下架）
// @Tags         admin-api
// @Produce      json
// @Success      200 {array} storage.Package
// @Router       /api/admin/packages [get]
func (h *Handler) apiAdminListPackages(c *gin.Context) {
	list, err := h.pkgSvc.ListAll(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary      管理员 - 新建套餐
// @Tags         admin-api
// @Accept       json
// @Produce      json
// @Param        body body services.PackageInput true "套餐"
// @Success      201 {object} storage.Package
// @Failure      400 {object} map[string]string
// @Router       /api/admin/packages [post]
func (h *Handler) apiAdminCreatePackage(c *gin.Context) {
	var in services.PackageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_json"})
		return
	}
	p, err := h.pkgSvc.Create(c, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "PACKAGE_CREATED", adminID(c), packageSubject(p.ID), p.Name)
	c.JSON(http.StatusCreated, p)
}

// @Summary      管理员 - 更新套餐
// @Tags         admin-api
// @Accept       json
// @Produce      json
// @Param        id   path int                  true "套餐ID"
// @Param        body body services.PackageInput true "套餐"
// @Success      200 {object} storage.Package
// @Failure      400 {object} map[string]string
// @Failure      404 {object} map[string]string
// @Router       /api/admin/packages/{id} [put]
func (h *Handler) apiAdminUpdatePackage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in services.PackageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_json"})
		return
	}
	p, err := h.pkgSvc.Update(c, id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "PACKAGE_UPDATED", adminID(c), packageSubject(p.ID), p.Name)
	c.JSON(http.StatusOK, p)
}

type activeReq struct {
	Active *bool `json:"active" binding:"required"`
}

// @Summary      管理员 - 上架/下架套餐
// @Tags         admin-api
// @Accept       json
// @Param        id   path int       true "套餐ID"
// @Param        body body activeReq true "{active}"
// @Success      204 {string} string "No Content"
// @Failure      400 {object} map[string]string
// @Failure      404 {object} map[string]string
// @Router       /api/admin/packages/{id}/active [put]
func (h *Handler) apiAdminSetPackageActive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req activeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_json"})
		return
	}
	if err := h.pkgSvc.SetActive(c, id, *req.Active); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "PACKAGE_ACTIVE_CHANGED", adminID(c), packageSubject(id), fmt.Sprintf("active=%t", *req.Active))
	c.Status(http.StatusNoContent)
}

// @Summary      管理员 - 删除套餐
// @Tags         admin-api
// @Param        id path int true "套餐ID"
// @Success      204 {string} string "No Content"
// @Failure      404 {object} map[string]string
// @Router       /api/admin/packages/{id} [delete]
func (h *Handler) apiAdminDeletePackage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.pkgSvc.Delete(c, id); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "PACKAGE_DELETED", adminID(c), packageSubject(id), "package deleted")
	c.Status(http.StatusNoContent)
}

// --- Appointments ------------------------------------------------------------

// @Summary      管理员 - 预约列表
// @Tags         admin-api
// @Produce      json
// @Param        status query string false "状态"
// @Param        from   query string false "开始日期（YYYY-MM-DD 或 Unix 秒）"
// @Param        to     query string false "结束日期（不含）"
// @Param        q      query string false "按姓名/邮箱搜索"
// @Param        limit  query int    false "数量(<=200)"
// @Param        offset query int    false "偏移"
// @Success      200 {object} map[string]interface{}
// @Failure      400 {object} map[string]string
// @Router       /api/admin/appointments [get]
func (h *Handler) apiAdminListAppointments(c *gin.Context) {
	f := services.AppointmentFilter{
		Status: strings.TrimSpace(c.Query("status")),
		Query:  c.Query("q"),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if f.Status != "" && !services.ValidStatus(f.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrValidation.Error(), "field": "status"})
		return
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := h.parseDate(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrValidation.Error(), "field": key})
			return
		}
		*dst = &t
	}
	list, total, err := h.apptSvc.List(c, f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "total": total})
}

// @Summary      管理员 - 预约状态统计
// @Tags         admin-api
// @Produce      json
// @Success      200 {object} map[string]int64
// @Router       /api/admin/appointments/counts [get]
func (h *Handler) apiAdminAppointmentCounts(c *gin.Context) {
	counts, err := h.apptSvc.Counts(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// @Summary      管理员 - 预约详情
// @Tags         admin-api
// @Produce      json
// @Param        id path int true "预约ID"
// @Success      200 {object} storage.Appointment
// @Failure      404 {object} map[string]string
// @Router       /api/admin/appointments/{id} [get]
func (h *Handler) apiAdminGetAppointment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	a, err := h.apptSvc.Get(c, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

// @Summary      管理员 - 变更预约状态
// @Description  按状态机校验；确认或取消时邮件通知客户，确认邮件附带自助取消链接
// @Tags         admin-api
// @Accept       json
// @Produce      json
// @Param        id   path int       true "预约ID"
// @Param        body body statusReq true "{status,note}"
// @Success      200 {object} storage.Appointment
// @Failure      400 {object} map[string]string
// @Failure      404 {object} map[string]string
// @Failure      409 {object} map[string]string
// @Router       /api/admin/appointments/{id}/status [put]
func (h *Handler) apiAdminUpdateAppointmentStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_json"})
		return
	}
	a, err := h.apptSvc.UpdateStatus(c, id, req.Status, req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "APPOINTMENT_STATUS_CHANGED", adminID(c), appointmentSubject(a.ID), "status="+a.Status)
	c.JSON(http.StatusOK, a)
}

// @Summary      管理员 - 删除预约
// @Tags         admin-api
// @Param        id path int true "预约ID"
// @Success      204 {string} string "No Content"
// @Failure      404 {object} map[string]string
// @Router       /api/admin/appointments/{id} [delete]
func (h *Handler) apiAdminDeleteAppointment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.apptSvc.Delete(c, id); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "WARN", "APPOINTMENT_DELETED", adminID(c), appointmentSubject(id), "appointment deleted")
	c.Status(http.StatusNoContent)
}

// --- Calculator --------------------------------------------------------------

// @Summary      管理员 - 保存计算器参数
// @Description  校验后整体替换参数文档
// @Tags         admin-api
// @Accept       json
// @Produce      json
// @Param        body body services.CalculatorParams true "参数文档"
// @Success      200 {object} services.CalculatorParams
// @Failure      400 {object} map[string]string
// @Router       /api/admin/calculator/params [put]
func (h *Handler) apiAdminSaveCalculatorParams(c *gin.Context) {
	var p services.CalculatorParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_json"})
		return
	}
	if err := h.calcSvc.SaveParams(c, &p); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "CALCULATOR_PARAMS_UPDATED", adminID(c), "settings:calculator_params", fmt.Sprintf("%d regions", len(p.Regions)))
	c.JSON(http.StatusOK, p)
}

// --- MFA ---------------------------------------------------------------------

// @Summary      生成 MFA 绑定信息
// @Description  为当前管理员生成 TOTP 秘钥、二维码（PNG data URI）与恢复码；重复调用复用未激活的秘钥
// @Tags         admin-security
// @Produce      json
// @Success      200 {object} services.MFASetup
// @Failure      401 {object} map[string]string
// @Router       /api/admin/mfa/setup [post]
func (h *Handler) apiAdminSetupMFA(c *gin.Context) {
	setup, err := h.adminSvc.SetupMFA(c, *adminID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

type mfaCodeReq struct {
	Code string `json:"code" binding:"required"`
}

// @Summary      激活 MFA
// @Description  校验一次性验证码并启用当前管理员的 MFA
// @Tags         admin-security
// @Accept       json
// @Produce      json
// @Param        body body mfaCodeReq true "{code}"
// @Success      204 {string} string "No Content"
// @Failure      400 {object} map[string]string
// @Failure      401 {object} map[string]string
// @Router       /api/admin/mfa/enable [post]
func (h *Handler) apiAdminEnableMFA(c *gin.Context) {
	var req mfaCodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code_required"})
		return
	}
	uid := adminID(c)
	if err := h.adminSvc.EnableMFA(c, *uid, req.Code); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", "ADMIN_MFA_ENABLED", uid, "", "mfa enabled")
	c.Status(http.StatusNoContent)
}

type mfaDisableReq struct {
	Password string `json:"password" binding:"required"`
}

// @Summary      关闭 MFA
// @Description  需要再次输入口令
// @Tags         admin-security
// @Accept       json
// @Param        body body mfaDisableReq true "{password}"
// @Success      204 {string} string "No Content"
// @Failure      400 {object} map[string]string
// @Failure      401 {object} map[string]string
// @Router       /api/admin/mfa/disable [post]
func (h *Handler) apiAdminDisableMFA(c *gin.Context) {
	var req mfaDisableReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password_required"})
		return
	}
	uid := adminID(c)
	if err := h.adminSvc.DisableMFA(c, *uid, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "WARN", "ADMIN_MFA_DISABLED", uid, "", "mfa disabled")
	c.Status(http.StatusNoContent)
}
