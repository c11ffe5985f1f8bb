package handlers

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"dsolar/internal/config"
	"dsolar/internal/metrics"
	"dsolar/internal/middlewares"
	"dsolar/internal/services"
	"dsolar/web"
)

// Handler 聚合所有依赖（配置、领域服务、限流存储）并注册所有 HTTP 路由。
type Handler struct {
	cfg        config.Config
	blogSvc    *services.BlogService
	pkgSvc     *services.PackageService
	calcSvc    *services.CalculatorService
	apptSvc    *services.AppointmentService
	chatSvc    *services.ChatbotService
	weatherSvc *services.WeatherService
	adminSvc   *services.AdminService
	sessionSvc *services.SessionService
	logSvc     *services.LogService
	rdb        middlewares.Counter
	loc        *time.Location
}

// New 构造 Handler，将各领域服务注入，用于后续路由注册与处理。
func New(cfg config.Config, bs *services.BlogService, ps *services.PackageService, cs *services.CalculatorService, as *services.AppointmentService, chat *services.ChatbotService, ws *services.WeatherService, admins *services.AdminService, ss *services.SessionService, ls *services.LogService, rdb middlewares.Counter) *Handler {
	return &Handler{
		cfg: cfg, blogSvc: bs, pkgSvc: ps, calcSvc: cs, apptSvc: as, chatSvc: chat, weatherSvc: ws,
		adminSvc: admins, sessionSvc: ss, logSvc: ls, rdb: rdb, loc: cfg.Booking.Location(),
	}
}

// RegisterRoutes 在 Gin 路由上挂载站点页面、预约流程、后台与 JSON API。
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// 模板与静态资源均内嵌于二进制
	r.SetHTMLTemplate(template.Must(web.Templates(h.templateFuncs())))
	r.StaticFS("/static", http.FS(web.Static()))
	r.NoRoute(h.notFound)

	// 公开页面
	r.GET("/", h.home)
	r.GET("/about", h.about)
	r.GET("/calculator", h.calculatorPage)
	r.GET("/blog", h.blogList)
	r.GET("/blog/:slug", h.blogPost)

	// 预约：表单、确认链接与自助取消链接
	r.GET("/book", h.bookPage)
	r.POST("/book", h.limit("booking", h.cfg.Limits.BookingPerMinute), h.bookSubmit)
	r.GET("/appointments/confirm", h.confirmAppointment)
	r.GET("/appointments/cancel", h.cancelAppointment)

	// 后台登录与首页
	r.GET("/admin/login", h.loginPage)
	r.POST("/admin/login", h.limit("login", h.cfg.Limits.LoginPerMinute), h.loginSubmit)
	r.POST("/admin/logout", h.logout)
	r.GET("/admin", h.adminPage(h.dashboard))

	// 运维端点
	r.GET("/metrics", h.metrics)
	r.GET("/healthz", h.healthz)

	h.registerAPIRoutes(r)
}

// limit 构造按客户端 IP 的限流中间件。
func (h *Handler) limit(prefix string, perWindow int) gin.HandlerFunc {
	return middlewares.RateLimit(h.rdb, prefix, perWindow, h.cfg.Limits.Window, middlewares.ByIP)
}

func (h *Handler) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"localtime": func(t time.Time) string { return t.In(h.loc).Format("Mon, 2 Jan 2006 15:04 MST") },
		"localdate": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.In(h.loc).Format("2 January 2006")
		},
		"money": formatMoney,
	}
}

// render 渲染页面模板并补充公共字段（站点名、年份）。
func (h *Handler) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["Site"] = h.cfg.SiteName
	data["Year"] = time.Now().In(h.loc).Year()
	c.HTML(status, name, data)
}

func (h *Handler) errorPage(c *gin.Context, status int, msg string) {
	h.render(c, status, "error.html", gin.H{"Title": http.StatusText(status), "Status": status, "Message": msg})
}

func (h *Handler) notFound(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	h.errorPage(c, http.StatusNotFound, "The page you are looking for does not exist.")
}

// @Summary      首页
// @Description  展示在售套餐、最新博客文章与当日光照情况
// @Tags         pages
// @Produce      html
// @Success      200 {string} string "HTML"
// @Router       / [get]
func (h *Handler) home(c *gin.Context) {
	pkgs, err := h.pkgSvc.ListActive(c, "")
	if err != nil {
		log.WithError(err).Warn("home: list packages")
	}
	posts, err := h.blogSvc.Latest(c, 3)
	if err != nil {
		log.WithError(err).Warn("home: latest posts")
	}
	data := gin.H{"Packages": pkgs, "Posts": posts}
	// 天气只是点缀，失败时不展示
	if h.weatherSvc != nil && h.weatherSvc.Enabled() {
		if w, err := h.weatherSvc.Current(c, ""); err == nil {
			data["Weather"] = w
		}
	}
	h.render(c, http.StatusOK, "home.html", data)
}

// @Summary      关于我们
// @Tags         pages
// @Produce      html
// @Success      200 {string} string "HTML"
// @Router       /about [get]
func (h *Handler) about(c *gin.Context) {
	h.render(c, http.StatusOK, "about.html", gin.H{"Title": "About"})
}

// @Summary      节省计算器页面
// @Description  页面内嵌计算器参数（JSON），由前端或 /api/calculator/estimate 估算
// @Tags         pages
// @Produce      html
// @Success      200 {string} string "HTML"
// @Router       /calculator [get]
func (h *Handler) calculatorPage(c *gin.Context) {
	params, err := h.calcSvc.Params(c)
	if err != nil {
		log.WithError(err).Error("calculator params")
		h.errorPage(c, http.StatusInternalServerError, "The calculator is temporarily unavailable.")
		return
	}
	b, _ := json.Marshal(params)
	h.render(c, http.StatusOK, "calculator.html", gin.H{
		"Title":      "Savings calculator",
		"Params":     params,
		"ParamsJSON": template.JS(b),
	})
}

// @Summary      博客列表
// @Tags         pages
// @Produce      html
// @Param        page query int false "页码（从 1 开始）"
// @Success      200 {string} string "HTML"
// @Router       /blog [get]
func (h *Handler) blogList(c *gin.Context) {
	page, err := h.blogSvc.ListPublished(c, queryInt(c, "page", 1))
	if err != nil {
		log.WithError(err).Error("blog list")
		h.errorPage(c, http.StatusInternalServerError, "Could not load the blog.")
		return
	}
	h.render(c, http.StatusOK, "blog_list.html", gin.H{"Title": "Blog", "Page": page})
}

// @Summary      博客文章
// @Description  渲染已发布文章（Markdown 转义后的 HTML）
// @Tags         pages
// @Produce      html
// @Param        slug path string true "文章 slug"
// @Success      200 {string} string "HTML"
// @Failure      404 {string} string "HTML"
// @Router       /blog/{slug} [get]
func (h *Handler) blogPost(c *gin.Context) {
	post, err := h.blogSvc.GetPublished(c, c.Param("slug"))
	if errors.Is(err, services.ErrNotFound) {
		h.errorPage(c, http.StatusNotFound, "This article does not exist or is no longer published.")
		return
	}
	if err != nil {
		log.WithError(err).Error("blog post")
		h.errorPage(c, http.StatusInternalServerError, "Could not load the article.")
		return
	}
	h.render(c, http.StatusOK, "blog_post.html", gin.H{"Title": post.Title, "Post": post})
}

// @Summary      Prometheus 指标
// @Description  暴露 Prometheus 指标（text/plain; version=0.0.4）
// @Tags         ops
// @Produce      plain
// @Success      200 {string} string
// @Router       /metrics [get]
func (h *Handler) metrics(c *gin.Context) { metrics.Exposer()(c) }

// @Summary      健康检查
// @Tags         ops
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /healthz [get]
func (h *Handler) healthz(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "time": strconv.FormatInt(time.Now().Unix(), 10)})
}
