package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsolar/internal/config"
	"dsolar/internal/testutil"
)

const owmPayload = `{
  "weather": [{"main": "Clouds", "description": "scattered clouds"}],
  "main": {"temp": 31.46, "humidity": 66},
  "clouds": {"all": 40},
  "sys": {"country": "PH", "sunrise": 1741039200, "sunset": 1741082400},
  "name": "Manila"
}`

func newWeather(t *testing.T, h http.HandlerFunc) (*WeatherService, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	cfg := config.Default().Weather
	cfg.BaseURL = srv.URL
	cfg.APIKey = "k"
	cfg.RPS = 100
	return NewWeatherService(testutil.NewMemoryRedis(), cfg), &calls
}

func TestWeatherFetchAndCache(t *testing.T) {
	svc, calls := newWeather(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/2.5/weather", r.URL.Path)
		assert.Equal(t, "Cebu City", r.URL.Query().Get("q"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		_, _ = w.Write([]byte(owmPayload))
	})
	ctx := context.Background()
	w, err := svc.Current(ctx, "Cebu City")
	require.NoError(t, err)
	require.False(t, w.Cached)
	require.Equal(t, "Manila", w.City)
	require.Equal(t, 31.5, w.TempC)
	require.Equal(t, 40, w.Clouds)
	require.Equal(t, 60, w.SolarScore)
	require.Equal(t, "good", w.Condition)
	require.Equal(t, time.Unix(1741039200, 0).UTC(), w.Sunrise)

	again, err := svc.Current(ctx, "cebu city")
	require.NoError(t, err)
	require.True(t, again.Cached)
	require.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestWeatherRetriesServerErrors(t *testing.T) {
	var n int32
	svc, calls := newWeather(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(owmPayload))
	})
	w, err := svc.Current(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "Manila", w.City)
	require.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestWeatherUnknownCityNotRetried(t *testing.T) {
	svc, calls := newWeather(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"cod":"404","message":"city not found"}`))
	})
	_, err := svc.Current(context.Background(), "Nowhere")
	require.ErrorIs(t, err, ErrNotFound)
	require.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestWeatherDisabledAndInvalidCity(t *testing.T) {
	svc := NewWeatherService(testutil.NewMemoryRedis(), config.WeatherConfig{})
	_, err := svc.Current(context.Background(), "Manila")
	require.ErrorIs(t, err, ErrWeatherDisabled)

	svc, _ = newWeather(t, func(w http.ResponseWriter, _ *http.Request) {})
	_, err = svc.Current(context.Background(), "<script>")
	require.ErrorIs(t, err, ErrValidation)
}

func TestSolarScore(t *testing.T) {
	require.Equal(t, 100, solarScore(0, "Clear"))
	require.Equal(t, 0, solarScore(90, "Thunderstorm"))
	require.Equal(t, 60, solarScore(20, "Rain"))
	require.Equal(t, "poor", solarCondition(10))
	require.Equal(t, "excellent", solarCondition(80))
}
