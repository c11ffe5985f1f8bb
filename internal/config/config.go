package config

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // 容器镜像可能不带时区库

	"github.com/go-sql-driver/mysql"
	yaml "gopkg.in/yaml.v3"
)

// Config 保存进程级配置（仅使用配置文件或内置默认值）。
// 字段提供开发友好的默认值；生产环境请在 config.yaml 中覆盖。
type Config struct {
	Env       string
	HTTPAddr  string
	BaseURL   string
	LogLevel  string
	SiteName  string
	MySQL     MySQLConfig
	Redis     RedisConfig
	Session   SessionConfig
	Limits    LimitConfig
	Security  SecurityConfig
	CORS      CORSConfig
	Bootstrap BootstrapConfig
	Mail      MailConfig
	Weather   WeatherConfig
	Booking   BookingConfig
	ManageJWT ManageLinkConfig
	Blog      BlogConfig
	MFA       MFAConfig
}

type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Params   string
}

// DSN 通过 go-sql-driver 的 Config 生成连接串，Params 以 URL query 形式追加。
func (m MySQLConfig) DSN() string {
	port := m.Port
	if port == 0 {
		port = 3306
	}
	host := m.Host
	if host == "" {
		host = "127.0.0.1"
	}
	db := m.DBName
	if db == "" {
		db = "dsolar"
	}
	mc := mysql.NewConfig()
	mc.User = m.User
	mc.Passwd = m.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = db
	mc.ParseTime = true
	mc.Loc = time.Local
	dsn := mc.FormatDSN()
	if p := strings.TrimSpace(m.Params); p != "" {
		if strings.Contains(dsn, "?") {
			dsn += "&" + p
		} else {
			dsn += "?" + p
		}
	}
	return dsn
}

func (m MySQLConfig) DSNMasked() string {
	masked := m
	if masked.Password != "" {
		masked.Password = "******"
	}
	return masked.DSN()
}

type RedisConfig struct {
	Addr     string
	DB       int
	Password string
}

type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite string // 取值：lax、strict、none
	TTL            time.Duration
}

type LimitConfig struct {
	LoginPerMinute   int
	BookingPerMinute int
	ChatPerMinute    int
	// 时间窗口（默认 1m）
	Window time.Duration
}

type SecurityConfig struct {
	HSTS struct {
		Enabled           bool
		MaxAgeSeconds     int
		IncludeSubdomains bool
	}
}

type CORSConfig struct {
	// 公共 JSON API（/api/*，管理端除外）允许的来源；为空则不启用 CORS
	AllowedOrigins []string
}

// BootstrapConfig 包含一次性初始化数据（仅在管理员表为空时应用）。
type BootstrapConfig struct {
	InitialAdmin InitialAdminConfig
}

type InitialAdminConfig struct {
	Enable   bool
	Username string
	Password string
	Email    string
	Name     string
}

// MailConfig SMTP 中继配置；Host 为空时仅记录日志不真正发送。
type MailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	AdminTo    string
	TLS        string // 取值：starttls、ssl、none
	MaxRetries int
}

// WeatherConfig 第三方天气 API 配置。
type WeatherConfig struct {
	BaseURL  string
	APIKey   string
	City     string
	CacheTTL time.Duration
	Timeout  time.Duration
	// 外呼速率（每秒请求数）
	RPS float64
}

// BookingConfig 预约时段规则。
type BookingConfig struct {
	Timezone        string
	OpenHour        int
	CloseHour       int
	SlotMinutes     int
	CapacityPerSlot int
	MinLeadTime     time.Duration
	HorizonDays     int
	// 可预约的工作日（0=周日 … 6=周六）
	Weekdays      []int
	TokenTTL      time.Duration
	TokenLength   int
	SweepInterval time.Duration
}

// Location 返回预约使用的时区；解析失败时回退为 UTC。
func (b BookingConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ManageLinkConfig 客户自助取消链接（JWT）签名配置。
type ManageLinkConfig struct {
	Secret string
	TTL    time.Duration
}

type BlogConfig struct {
	PageSize int
}

type MFAConfig struct {
	Issuer string
}

// Load 生成配置：先使用内置默认值，再用同目录的配置文件（config.yaml/yml/json）覆盖。
// 默认：MySQL 127.0.0.1:3306 用户 root/123456；Redis 127.0.0.1:6379 无密码。
func Load() Config {
	cfg := Default()
	if path := FirstExisting("config.yaml", "config.yml", "config.json"); path != "" {
		_ = LoadFile(path, &cfg)
	}
	return cfg
}

// Default 返回本地开发可直接运行的默认配置。
func Default() Config {
	return Config{
		Env:      "dev",
		HTTPAddr: ":8080",
		BaseURL:  "http://localhost:8080",
		LogLevel: "info",
		SiteName: "D-Solar",
		MySQL:    MySQLConfig{Host: "127.0.0.1", Port: 3306, User: "root", Password: "123456", DBName: "dsolar", Params: "charset=utf8mb4"},
		Redis:    RedisConfig{Addr: "127.0.0.1:6379", DB: 0, Password: ""},
		Session:  SessionConfig{CookieName: "ds_admin", CookieDomain: "", CookieSecure: false, CookieSameSite: "lax", TTL: 12 * time.Hour},
		Limits:   LimitConfig{LoginPerMinute: 10, BookingPerMinute: 5, ChatPerMinute: 30, Window: time.Minute},
		Security: func() SecurityConfig {
			var s SecurityConfig
			s.HSTS.Enabled = true
			s.HSTS.MaxAgeSeconds = 31536000
			s.HSTS.IncludeSubdomains = true
			return s
		}(),
		Bootstrap: BootstrapConfig{InitialAdmin: InitialAdminConfig{Enable: true, Username: "admin", Password: "dsolar-admin", Email: "admin@example.com", Name: "Administrator"}},
		Mail:      MailConfig{Port: 587, From: "D-Solar <no-reply@example.com>", AdminTo: "admin@example.com", TLS: "starttls", MaxRetries: 3},
		Weather:   WeatherConfig{BaseURL: "https://api.openweathermap.org", City: "Manila", CacheTTL: 10 * time.Minute, Timeout: 5 * time.Second, RPS: 1},
		Booking: BookingConfig{
			Timezone: "Asia/Manila", OpenHour: 9, CloseHour: 17, SlotMinutes: 60, CapacityPerSlot: 1,
			MinLeadTime: 24 * time.Hour, HorizonDays: 60, Weekdays: []int{1, 2, 3, 4, 5, 6},
			TokenTTL: 24 * time.Hour, TokenLength: 40, SweepInterval: 15 * time.Minute,
		},
		ManageJWT: ManageLinkConfig{Secret: "dev-manage-secret-change-me", TTL: 60 * 24 * time.Hour},
		Blog:      BlogConfig{PageSize: 9},
		MFA:       MFAConfig{Issuer: "D-Solar Admin"},
	}
}

// LoadFile 读取配置文件（YAML 或 JSON），仅非零值会覆盖现有字段。
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(path))
	var fm fileModel
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(b, &fm); err != nil {
			return err
		}
	} else if ext == ".json" || ext == "" {
		if err := json.Unmarshal(b, &fm); err != nil {
			return err
		}
	} else {
		return errors.New("unsupported config file format")
	}
	fm.apply(cfg)
	return nil
}

// --- 配置文件模型与合并逻辑 ---

type fileModel struct {
	Env       string         `yaml:"env" json:"env"`
	HTTPAddr  string         `yaml:"http_addr" json:"http_addr"`
	BaseURL   string         `yaml:"base_url" json:"base_url"`
	LogLevel  string         `yaml:"log_level" json:"log_level"`
	SiteName  string         `yaml:"site_name" json:"site_name"`
	MySQL     *fileMySQL     `yaml:"mysql" json:"mysql"`
	Redis     *fileRedis     `yaml:"redis" json:"redis"`
	Session   *fileSession   `yaml:"session" json:"session"`
	Limits    *fileLimits    `yaml:"limits" json:"limits"`
	Security  *fileSecurity  `yaml:"security" json:"security"`
	CORS      *fileCORS      `yaml:"cors" json:"cors"`
	Bootstrap *fileBootstrap `yaml:"bootstrap" json:"bootstrap"`
	Mail      *fileMail      `yaml:"mail" json:"mail"`
	Weather   *fileWeather   `yaml:"weather" json:"weather"`
	Booking   *fileBooking   `yaml:"booking" json:"booking"`
	ManageJWT *fileManage    `yaml:"manage_link" json:"manage_link"`
	Blog      *fileBlog      `yaml:"blog" json:"blog"`
	MFA       *fileMFA       `yaml:"mfa" json:"mfa"`
}

type fileMySQL struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	DBName   string `yaml:"db" json:"db"`
	Params   string `yaml:"params" json:"params"`
}
type fileRedis struct {
	Addr     string `yaml:"addr" json:"addr"`
	DB       int    `yaml:"db" json:"db"`
	Password string `yaml:"password" json:"password"`
}
type fileSession struct {
	CookieName     string `yaml:"cookie_name" json:"cookie_name"`
	CookieDomain   string `yaml:"cookie_domain" json:"cookie_domain"`
	CookieSecure   *bool  `yaml:"cookie_secure" json:"cookie_secure"`
	CookieSameSite string `yaml:"cookie_samesite" json:"cookie_samesite"`
	TTL            string `yaml:"ttl" json:"ttl"`
}
type fileLimits struct {
	LoginPerMinute   int    `yaml:"login_per_minute" json:"login_per_minute"`
	BookingPerMinute int    `yaml:"booking_per_minute" json:"booking_per_minute"`
	ChatPerMinute    int    `yaml:"chat_per_minute" json:"chat_per_minute"`
	Window           string `yaml:"window" json:"window"`
}
type fileSecurity struct {
	HSTS struct {
		Enabled           *bool `yaml:"enabled" json:"enabled"`
		MaxAge            int   `yaml:"max_age" json:"max_age"`
		IncludeSubdomains *bool `yaml:"include_subdomains" json:"include_subdomains"`
	} `yaml:"hsts" json:"hsts"`
}
type fileCORS struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}
type fileBootstrap struct {
	InitialAdmin *fileAdmin `yaml:"initial_admin" json:"initial_admin"`
}
type fileAdmin struct {
	Enable   *bool  `yaml:"enable" json:"enable"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	Email    string `yaml:"email" json:"email"`
	Name     string `yaml:"name" json:"name"`
}
type fileMail struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	Username   string `yaml:"username" json:"username"`
	Password   string `yaml:"password" json:"password"`
	From       string `yaml:"from" json:"from"`
	AdminTo    string `yaml:"admin_to" json:"admin_to"`
	TLS        string `yaml:"tls" json:"tls"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}
type fileWeather struct {
	BaseURL  string  `yaml:"base_url" json:"base_url"`
	APIKey   string  `yaml:"api_key" json:"api_key"`
	City     string  `yaml:"city" json:"city"`
	CacheTTL string  `yaml:"cache_ttl" json:"cache_ttl"`
	Timeout  string  `yaml:"timeout" json:"timeout"`
	RPS      float64 `yaml:"rps" json:"rps"`
}
type fileBooking struct {
	Timezone        string `yaml:"timezone" json:"timezone"`
	OpenHour        *int   `yaml:"open_hour" json:"open_hour"`
	CloseHour       *int   `yaml:"close_hour" json:"close_hour"`
	SlotMinutes     int    `yaml:"slot_minutes" json:"slot_minutes"`
	CapacityPerSlot int    `yaml:"capacity_per_slot" json:"capacity_per_slot"`
	MinLeadTime     string `yaml:"min_lead_time" json:"min_lead_time"`
	HorizonDays     int    `yaml:"horizon_days" json:"horizon_days"`
	Weekdays        []int  `yaml:"weekdays" json:"weekdays"`
	TokenTTL        string `yaml:"token_ttl" json:"token_ttl"`
	TokenLength     int    `yaml:"token_length" json:"token_length"`
	SweepInterval   string `yaml:"sweep_interval" json:"sweep_interval"`
}
type fileManage struct {
	Secret string `yaml:"secret" json:"secret"`
	TTL    string `yaml:"ttl" json:"ttl"`
}
type fileBlog struct {
	PageSize int `yaml:"page_size" json:"page_size"`
}
type fileMFA struct {
	Issuer string `yaml:"issuer" json:"issuer"`
}

// setDuration 解析成功才覆盖；格式错误时保留原值。
func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func (fm *fileModel) apply(cfg *Config) {
	if fm.Env != "" {
		cfg.Env = fm.Env
	}
	if fm.HTTPAddr != "" {
		cfg.HTTPAddr = fm.HTTPAddr
	}
	if fm.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(fm.BaseURL, "/")
	}
	if fm.LogLevel != "" {
		cfg.LogLevel = fm.LogLevel
	}
	if fm.SiteName != "" {
		cfg.SiteName = fm.SiteName
	}
	if fm.MySQL != nil {
		if fm.MySQL.Host != "" {
			cfg.MySQL.Host = fm.MySQL.Host
		}
		if fm.MySQL.Port != 0 {
			cfg.MySQL.Port = fm.MySQL.Port
		}
		if fm.MySQL.User != "" {
			cfg.MySQL.User = fm.MySQL.User
		}
		if fm.MySQL.Password != "" {
			cfg.MySQL.Password = fm.MySQL.Password
		}
		if fm.MySQL.DBName != "" {
			cfg.MySQL.DBName = fm.MySQL.DBName
		}
		if fm.MySQL.Params != "" {
			cfg.MySQL.Params = fm.MySQL.Params
		}
	}
	if fm.Redis != nil {
		if fm.Redis.Addr != "" {
			cfg.Redis.Addr = fm.Redis.Addr
		}
		if fm.Redis.DB != 0 {
			cfg.Redis.DB = fm.Redis.DB
		}
		if fm.Redis.Password != "" {
			cfg.Redis.Password = fm.Redis.Password
		}
	}
	if fm.Session != nil {
		if fm.Session.CookieName != "" {
			cfg.Session.CookieName = fm.Session.CookieName
		}
		if fm.Session.CookieDomain != "" {
			cfg.Session.CookieDomain = fm.Session.CookieDomain
		}
		if fm.Session.CookieSecure != nil {
			cfg.Session.CookieSecure = *fm.Session.CookieSecure
		}
		if fm.Session.CookieSameSite != "" {
			cfg.Session.CookieSameSite = fm.Session.CookieSameSite
		}
		setDuration(&cfg.Session.TTL, fm.Session.TTL)
	}
	if fm.Limits != nil {
		if fm.Limits.LoginPerMinute != 0 {
			cfg.Limits.LoginPerMinute = fm.Limits.LoginPerMinute
		}
		if fm.Limits.BookingPerMinute != 0 {
			cfg.Limits.BookingPerMinute = fm.Limits.BookingPerMinute
		}
		if fm.Limits.ChatPerMinute != 0 {
			cfg.Limits.ChatPerMinute = fm.Limits.ChatPerMinute
		}
		setDuration(&cfg.Limits.Window, fm.Limits.Window)
	}
	if fm.Security != nil {
		if fm.Security.HSTS.Enabled != nil {
			cfg.Security.HSTS.Enabled = *fm.Security.HSTS.Enabled
		}
		if fm.Security.HSTS.MaxAge != 0 {
			cfg.Security.HSTS.MaxAgeSeconds = fm.Security.HSTS.MaxAge
		}
		if fm.Security.HSTS.IncludeSubdomains != nil {
			cfg.Security.HSTS.IncludeSubdomains = *fm.Security.HSTS.IncludeSubdomains
		}
	}
	if fm.CORS != nil && len(fm.CORS.AllowedOrigins) > 0 {
		cfg.CORS.AllowedOrigins = fm.CORS.AllowedOrigins
	}
	if fm.Bootstrap != nil && fm.Bootstrap.InitialAdmin != nil {
		ia := fm.Bootstrap.InitialAdmin
		if ia.Enable != nil {
			cfg.Bootstrap.InitialAdmin.Enable = *ia.Enable
		}
		if ia.Username != "" {
			cfg.Bootstrap.InitialAdmin.Username = ia.Username
		}
		if ia.Password != "" {
			cfg.Bootstrap.InitialAdmin.Password = ia.Password
		}
		if ia.Email != "" {
			cfg.Bootstrap.InitialAdmin.Email = ia.Email
		}
		if ia.Name != "" {
			cfg.Bootstrap.InitialAdmin.Name = ia.Name
		}
	}
	if fm.Mail != nil {
		if fm.Mail.Host != "" {
			cfg.Mail.Host = fm.Mail.Host
		}
		if fm.Mail.Port != 0 {
			cfg.Mail.Port = fm.Mail.Port
		}
		if fm.Mail.Username != "" {
			cfg.Mail.Username = fm.Mail.Username
		}
		if fm.Mail.Password != "" {
			cfg.Mail.Password = fm.Mail.Password
		}
		if fm.Mail.From != "" {
			cfg.Mail.From = fm.Mail.From
		}
		if fm.Mail.AdminTo != "" {
			cfg.Mail.AdminTo = fm.Mail.AdminTo
		}
		if fm.Mail.TLS != "" {
			cfg.Mail.TLS = fm.Mail.TLS
		}
		if fm.Mail.MaxRetries != 0 {
			cfg.Mail.MaxRetries = fm.Mail.MaxRetries
		}
	}
	if fm.Weather != nil {
		if fm.Weather.BaseURL != "" {
			cfg.Weather.BaseURL = strings.TrimRight(fm.Weather.BaseURL, "/")
		}
		if fm.Weather.APIKey != "" {
			cfg.Weather.APIKey = fm.Weather.APIKey
		}
		if fm.Weather.City != "" {
			cfg.Weather.City = fm.Weather.City
		}
		setDuration(&cfg.Weather.CacheTTL, fm.Weather.CacheTTL)
		setDuration(&cfg.Weather.Timeout, fm.Weather.Timeout)
		if fm.Weather.RPS > 0 {
			cfg.Weather.RPS = fm.Weather.RPS
		}
	}
	if fm.Booking != nil {
		b := fm.Booking
		if b.Timezone != "" {
			cfg.Booking.Timezone = b.Timezone
		}
		if b.OpenHour != nil {
			cfg.Booking.OpenHour = *b.OpenHour
		}
		if b.CloseHour != nil {
			cfg.Booking.CloseHour = *b.CloseHour
		}
		if b.SlotMinutes != 0 {
			cfg.Booking.SlotMinutes = b.SlotMinutes
		}
		if b.CapacityPerSlot != 0 {
			cfg.Booking.CapacityPerSlot = b.CapacityPerSlot
		}
		setDuration(&cfg.Booking.MinLeadTime, b.MinLeadTime)
		if b.HorizonDays != 0 {
			cfg.Booking.HorizonDays = b.HorizonDays
		}
		if len(b.Weekdays) > 0 {
			cfg.Booking.Weekdays = b.Weekdays
		}
		setDuration(&cfg.Booking.TokenTTL, b.TokenTTL)
		if b.TokenLength != 0 {
			cfg.Booking.TokenLength = b.TokenLength
		}
		setDuration(&cfg.Booking.SweepInterval, b.SweepInterval)
	}
	if fm.ManageJWT != nil {
		if fm.ManageJWT.Secret != "" {
			cfg.ManageJWT.Secret = fm.ManageJWT.Secret
		}
		setDuration(&cfg.ManageJWT.TTL, fm.ManageJWT.TTL)
	}
	if fm.Blog != nil && fm.Blog.PageSize > 0 {
		cfg.Blog.PageSize = fm.Blog.PageSize
	}
	if fm.MFA != nil && fm.MFA.Issuer != "" {
		cfg.MFA.Issuer = fm.MFA.Issuer
	}
}

// FirstExisting 按顺序返回第一个存在的文件路径；若都不存在则返回空字符串。
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
