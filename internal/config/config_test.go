package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDSNMasksPassword(t *testing.T) {
	m := MySQLConfig{Host: "db", Port: 3307, User: "site", Password: "s3cret", DBName: "solar"}
	dsn := m.DSN()
	require.Contains(t, dsn, "site:s3cret@tcp(db:3307)/solar")
	require.Contains(t, dsn, "parseTime=true")
	masked := m.DSNMasked()
	require.NotContains(t, masked, "s3cret")
	require.Contains(t, masked, "******")
}

func TestDSNAppendsParams(t *testing.T) {
	m := MySQLConfig{User: "root", Params: "charset=utf8mb4"}
	dsn := m.DSN()
	require.True(t, strings.HasSuffix(dsn, "charset=utf8mb4"), dsn)
	require.Contains(t, dsn, "tcp(127.0.0.1:3306)/dsolar")
}

func TestLoadFileOverridesOnlyNonZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
env: prod
base_url: https://d-solar.example/
mail:
  host: smtp.example.com
  port: 465
  tls: ssl
booking:
  open_hour: 8
  close_hour: 12
  slot_minutes: 30
  token_ttl: 2h
  weekdays: [1, 3, 5]
weather:
  api_key: k
  cache_ttl: bogus
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg := Default()
	require.NoError(t, LoadFile(path, &cfg))

	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, "https://d-solar.example", cfg.BaseURL)
	require.Equal(t, "smtp.example.com", cfg.Mail.Host)
	require.Equal(t, 465, cfg.Mail.Port)
	require.Equal(t, "ssl", cfg.Mail.TLS)
	require.Equal(t, 8, cfg.Booking.OpenHour)
	require.Equal(t, 12, cfg.Booking.CloseHour)
	require.Equal(t, 30, cfg.Booking.SlotMinutes)
	require.Equal(t, 2*time.Hour, cfg.Booking.TokenTTL)
	require.Equal(t, []int{1, 3, 5}, cfg.Booking.Weekdays)
	require.Equal(t, "k", cfg.Weather.APIKey)
	// 无法解析的时长保留默认值
	require.Equal(t, 10*time.Minute, cfg.Weather.CacheTTL)
	// 未出现的字段保持默认
	require.Equal(t, "ds_admin", cfg.Session.CookieName)
	require.Equal(t, 1, cfg.Booking.CapacityPerSlot)
}

func TestLoadFileRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("env = 'x'"), 0o600))
	cfg := Default()
	require.Error(t, LoadFile(path, &cfg))
}

func TestBookingLocationFallback(t *testing.T) {
	require.Equal(t, time.UTC, BookingConfig{Timezone: "Nowhere/Invalid"}.Location())
	require.Equal(t, time.UTC, BookingConfig{}.Location())
}
