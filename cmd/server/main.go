package main

// @title           D-Solar Site API
// @version         0.1.0
// @description     D-Solar 太阳能官网：营销页面、节省计算器、上门咨询预约（邮件确认）、聊天机器人与后台管理接口。
// @schemes         http https
// @BasePath        /

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dsolar/internal/config"
	"dsolar/internal/handlers"
	"dsolar/internal/metrics"
	"dsolar/internal/middlewares"
	"dsolar/internal/services"
	"dsolar/internal/storage"
)

// main 为站点服务入口：加载配置、初始化日志/存储/服务、注册路由，并与过期预约清理任务一同运行。
func main() {
	// 配置结构化日志格式
	log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	log.SetOutput(os.Stdout)

	// 加载配置（以配置文件为主，配合内置默认值）
	cfg := config.Load()
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		log.Fatal("configuration error: base_url must be set (config.yaml)")
	}
	// 生产环境基线检查：禁止默认弱口令与默认签名密钥进入生产。
	if cfg.Env == "prod" {
		if cfg.MySQL.Password == "123456" || cfg.MySQL.Password == "password" || cfg.MySQL.Password == "" {
			log.Fatal("insecure mysql password in prod; configure mysql.password in config.yaml")
		}
		if strings.Contains(cfg.MySQL.User, "root") {
			log.Warn("using MySQL root in prod is discouraged")
		}
		if cfg.ManageJWT.Secret == "dev-manage-secret-change-me" || len(cfg.ManageJWT.Secret) < 32 {
			log.Fatal("insecure jwt.manage_secret in prod; set a random secret of at least 32 characters")
		}
		if cfg.Bootstrap.InitialAdmin.Enable && (cfg.Bootstrap.InitialAdmin.Password == "dsolar-admin" || cfg.Bootstrap.InitialAdmin.Password == "") {
			log.Fatal("insecure initial_admin.password in prod; disable bootstrap or set strong password")
		}
		if cfg.Mail.Host == "" {
			log.Warn("mail.host is empty; confirmation emails will only be logged")
		}
		if !cfg.Session.CookieSecure {
			log.Warn("session.cookie_secure is off in prod")
		}
	}
	log.WithFields(log.Fields{
		"env":          cfg.Env,
		"http_addr":    cfg.HTTPAddr,
		"base_url":     cfg.BaseURL,
		"mysql_dsn":    cfg.MySQL.DSNMasked(),
		"redis_addr":   cfg.Redis.Addr,
		"mail_host":    cfg.Mail.Host,
		"timezone":     cfg.Booking.Timezone,
		"weather":      cfg.Weather.APIKey != "",
		"cors_origins": cfg.CORS.AllowedOrigins,
	}).Info("configuration loaded")

	// 初始化存储（MySQL + Redis）
	db, err := storage.InitMySQL(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect mysql")
	}
	defer storage.CloseMySQL(db)

	rdb, err := storage.InitRedis(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect redis")
	}
	defer func() { _ = rdb.Close() }()

	// 初始化领域服务
	adminSvc := services.NewAdminService(db, cfg)
	if err := adminSvc.Bootstrap(context.Background()); err != nil {
		log.WithError(err).Fatal("bootstrap initial admin")
	}
	mailSvc, err := services.NewMailService(services.NewMailer(cfg.Mail), cfg)
	if err != nil {
		log.WithError(err).Fatal("parse mail templates")
	}
	pkgSvc := services.NewPackageService(db)
	calcSvc := services.NewCalculatorService(services.NewSettingService(db), pkgSvc)
	blogSvc := services.NewBlogService(db, services.NewRenderer(), cfg.Blog.PageSize)
	apptSvc := services.NewAppointmentService(db, cfg, mailSvc, services.NewManageLinkService(cfg.ManageJWT))
	chatSvc := services.NewChatbotService(pkgSvc, calcSvc, cfg.SiteName)
	weatherSvc := services.NewWeatherService(rdb, cfg.Weather)
	sessionSvc := services.NewSessionService(rdb, cfg)
	logSvc := services.NewLogService(db)

	// HTTP 路由与中间件
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middlewares.RequestID())
	router.Use(middlewares.RequestLogger())
	router.Use(middlewares.SecurityHeaders(cfg))
	router.Use(middlewares.CORS(cfg.CORS.AllowedOrigins))
	router.Use(metrics.Handler())

	// 装载 HTTP 处理器
	h := handlers.New(cfg, blogSvc, pkgSvc, calcSvc, apptSvc, chatSvc, weatherSvc, adminSvc, sessionSvc, logSvc, rdb)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return services.NewJanitor(apptSvc, cfg.Booking.SweepInterval).Run(gctx)
	})
	// 优雅退出
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("server stopped with error")
		return
	}
	log.Info("server stopped")
}
