package services

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"dsolar/internal/config"
	"dsolar/internal/testutil"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMailer) last(t *testing.T) Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no mail sent")
	return f.sent[len(f.sent)-1]
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// clock 可手动推进的测试时钟。
type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var tokenRe = regexp.MustCompile(`token=([A-Za-z0-9_.-]+)`)

func linkToken(t *testing.T, body string) string {
	t.Helper()
	m := tokenRe.FindStringSubmatch(body)
	require.Len(t, m, 2, "no token link in %q", body)
	return m[1]
}

type bookingEnv struct {
	db     *gorm.DB
	cfg    config.Config
	mailer *fakeMailer
	clock  *clock
	links  *ManageLinkService
	appts  *AppointmentService
}

// 2025-03-03 为周一，08:00 Asia/Manila。
func newBookingEnv(t *testing.T, mutate ...func(*config.Config)) *bookingEnv {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = "https://d-solar.test"
	for _, m := range mutate {
		m(&cfg)
	}
	loc, err := time.LoadLocation("Asia/Manila")
	require.NoError(t, err)
	clk := &clock{t: time.Date(2025, 3, 3, 8, 0, 0, 0, loc)}

	db := testutil.NewDB(t)
	mailer := &fakeMailer{}
	ms, err := NewMailService(mailer, cfg)
	require.NoError(t, err)
	links := NewManageLinkService(cfg.ManageJWT)
	links.SetClock(clk.Now)
	appts := NewAppointmentService(db, cfg, ms, links)
	appts.SetClock(clk.Now)
	return &bookingEnv{db: db, cfg: cfg, mailer: mailer, clock: clk, links: links, appts: appts}
}

func sampleBooking(email, date, hhmm string) BookingInput {
	return BookingInput{
		Name:    "Juan dela Cruz",
		Email:   email,
		Phone:   "+63 917 555 0101",
		Address: "12 Mabini St",
		City:    "Quezon City",
		Date:    date,
		Time:    hhmm,
	}
}
