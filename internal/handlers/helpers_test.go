package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"dsolar/internal/config"
	"dsolar/internal/services"
	"dsolar/internal/testutil"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []services.Message
}

func (m *recordingMailer) Send(_ context.Context, msg services.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) all() []services.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]services.Message(nil), m.sent...)
}

// testEnv 一个完整装配的站点，时间固定在 2025-03-03（周一）08:00 Asia/Manila。
type testEnv struct {
	t       *testing.T
	cfg     config.Config
	db      *gorm.DB
	router  *gin.Engine
	mailer  *recordingMailer
	appts   *services.AppointmentService
	pkgs    *services.PackageService
	logs    *services.LogService
	cookies map[string]*http.Cookie
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.BaseURL = "https://d-solar.test"
	for _, m := range mutate {
		m(&cfg)
	}
	loc, err := time.LoadLocation("Asia/Manila")
	require.NoError(t, err)
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, loc)
	clock := func() time.Time { return now }

	db := testutil.NewDB(t)
	kv := testutil.NewMemoryRedis()
	mailer := &recordingMailer{}
	mailSvc, err := services.NewMailService(mailer, cfg)
	require.NoError(t, err)
	links := services.NewManageLinkService(cfg.ManageJWT)
	links.SetClock(clock)
	appts := services.NewAppointmentService(db, cfg, mailSvc, links)
	appts.SetClock(clock)
	pkgs := services.NewPackageService(db)
	calc := services.NewCalculatorService(services.NewSettingService(db), pkgs)
	blog := services.NewBlogService(db, services.NewRenderer(), cfg.Blog.PageSize)
	chat := services.NewChatbotService(pkgs, calc, cfg.SiteName)
	weather := services.NewWeatherService(kv, cfg.Weather)
	admins := services.NewAdminService(db, cfg)
	require.NoError(t, admins.Bootstrap(context.Background()))
	logs := services.NewLogService(db)

	h := New(cfg, blog, pkgs, calc, appts, chat, weather, admins, services.NewSessionService(kv, cfg), logs, kv)
	r := gin.New()
	h.RegisterRoutes(r)
	return &testEnv{t: t, cfg: cfg, db: db, router: r, mailer: mailer, appts: appts, pkgs: pkgs, logs: logs, cookies: map[string]*http.Cookie{}}
}

// do 发送请求并维护一个简单的 Cookie 罐。
func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	for _, ck := range e.cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(e.cookies, ck.Name)
			continue
		}
		e.cookies[ck.Name] = ck
	}
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *testEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

func (e *testEnv) sendJSON(method, path string, body any) *httptest.ResponseRecorder {
	b, err := json.Marshal(body)
	require.NoError(e.t, err)
	req := httptest.NewRequest(method, path, strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

var csrfRe = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func csrfFrom(t *testing.T, body string) string {
	t.Helper()
	m := csrfRe.FindStringSubmatch(body)
	require.Len(t, m, 2, "no csrf token in page")
	return m[1]
}

var tokenRe = regexp.MustCompile(`token=([A-Za-z0-9_.-]+)`)

func linkToken(t *testing.T, body string) string {
	t.Helper()
	m := tokenRe.FindStringSubmatch(body)
	require.Len(t, m, 2, "no token link in %q", body)
	return m[1]
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// login 通过后台登录表单以初始管理员身份登录。
func (e *testEnv) login() {
	e.t.Helper()
	page := e.get("/admin/login")
	require.Equal(e.t, http.StatusOK, page.Code)
	w := e.postForm("/admin/login", url.Values{
		"csrf_token": {csrfFrom(e.t, page.Body.String())},
		"username":   {e.cfg.Bootstrap.InitialAdmin.Username},
		"password":   {e.cfg.Bootstrap.InitialAdmin.Password},
	})
	require.Equal(e.t, http.StatusFound, w.Code, w.Body.String())
	require.Equal(e.t, "/admin", w.Header().Get("Location"))
}

func bookingForm(email, date, hhmm string) url.Values {
	return url.Values{
		"name":    {"Juan dela Cruz"},
		"email":   {email},
		"phone":   {"+63 917 555 0101"},
		"address": {"12 Mabini St"},
		"city":    {"Quezon City"},
		"date":    {date},
		"time":    {hhmm},
	}
}

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }
