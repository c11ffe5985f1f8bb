package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"dsolar/internal/config"
	"dsolar/internal/metrics"
)

// Weather 当前天气与光照评分。
type Weather struct {
	City        string    `json:"city"`
	Country     string    `json:"country"`
	Description string    `json:"description"`
	TempC       float64   `json:"temp_c"`
	Humidity    int       `json:"humidity"`
	Clouds      int       `json:"clouds"`
	Sunrise     time.Time `json:"sunrise"`
	Sunset      time.Time `json:"sunset"`
	SolarScore  int       `json:"solar_score"`
	Condition   string    `json:"condition"`
	FetchedAt   time.Time `json:"fetched_at"`
	Cached      bool      `json:"cached"`
}

// WeatherService 代理 OpenWeatherMap 风格接口，结果缓存在 Redis。
type WeatherService struct {
	kv      KV
	cfg     config.WeatherConfig
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewWeatherService(kv KV, cfg config.WeatherConfig) *WeatherService {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WeatherService{
		kv:      kv,
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		now:     time.Now,
	}
}

// Enabled 是否配置了 API key。
func (s *WeatherService) Enabled() bool { return s.cfg.APIKey != "" }

func weatherKey(city string) string { return "weather:" + strings.ToLower(city) }

func validCity(city string) bool {
	if city == "" || len(city) > 64 {
		return false
	}
	for _, r := range city {
		if !(r == ' ' || r == ',' || r == '-' || r == '.' || r == '\'' || (r >= '0' && r <= '9') || r >= 'A') {
			return false
		}
	}
	return true
}

// Current 返回城市当前天气；city 为空时使用默认城市。
func (s *WeatherService) Current(ctx context.Context, city string) (*Weather, error) {
	if !s.Enabled() {
		return nil, ErrWeatherDisabled
	}
	city = strings.TrimSpace(city)
	if city == "" {
		city = s.cfg.City
	}
	if !validCity(city) {
		return nil, invalid("city", "invalid_city")
	}
	if raw, err := s.kv.Get(ctx, weatherKey(city)).Result(); err == nil {
		var w Weather
		if json.Unmarshal([]byte(raw), &w) == nil {
			w.Cached = true
			metrics.WeatherFetches.WithLabelValues("hit").Inc()
			return &w, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.WithError(err).Warn("weather cache read failed")
	}

	w, err := s.fetch(ctx, city)
	if err != nil {
		metrics.WeatherFetches.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.WeatherFetches.WithLabelValues("miss").Inc()
	if b, err := json.Marshal(w); err == nil {
		if err := s.kv.Set(ctx, weatherKey(city), b, s.cfg.CacheTTL).Err(); err != nil {
			log.WithError(err).Warn("weather cache write failed")
		}
	}
	return w, nil
}

func (s *WeatherService) fetch(ctx context.Context, city string) (*Weather, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", s.cfg.APIKey)
	q.Set("units", "metric")
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/data/2.5/weather?" + q.Encode()

	var body []byte
	op := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, err := s.get(ctx, endpoint)
		if err != nil {
			return err
		}
		body = b
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return parseWeather(body, s.now())
}

func (s *WeatherService) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: unknown city", ErrNotFound))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("weather api status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("weather api status %d: %s", resp.StatusCode, gjson.GetBytes(body, "message").String()))
	}
	return body, nil
}

// parseWeather 从响应 JSON 中提取所需字段。
func parseWeather(body []byte, now time.Time) (*Weather, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed weather payload", ErrUpstream)
	}
	r := gjson.ParseBytes(body)
	if !r.Get("main.temp").Exists() {
		return nil, fmt.Errorf("%w: weather payload missing main.temp", ErrUpstream)
	}
	w := &Weather{
		City:        r.Get("name").String(),
		Country:     r.Get("sys.country").String(),
		Description: r.Get("weather.0.description").String(),
		TempC:       math.Round(r.Get("main.temp").Float()*10) / 10,
		Humidity:    int(r.Get("main.humidity").Int()),
		Clouds:      int(r.Get("clouds.all").Int()),
		Sunrise:     time.Unix(r.Get("sys.sunrise").Int(), 0).UTC(),
		Sunset:      time.Unix(r.Get("sys.sunset").Int(), 0).UTC(),
		FetchedAt:   now.UTC(),
	}
	w.SolarScore = solarScore(w.Clouds, r.Get("weather.0.main").String())
	w.Condition = solarCondition(w.SolarScore)
	return w, nil
}

// solarScore 0-100：以云量为主，降水与雷暴额外扣分。
func solarScore(clouds int, main string) int {
	score := 100 - clouds
	switch strings.ToLower(main) {
	case "rain", "drizzle":
		score -= 20
	case "thunderstorm", "snow":
		score -= 35
	case "mist", "haze", "fog", "smoke", "dust":
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func solarCondition(score int) string {
	switch {
	case score >= 75:
		return "excellent"
	case score >= 50:
		return "good"
	case score >= 25:
		return "fair"
	default:
		return "poor"
	}
}
