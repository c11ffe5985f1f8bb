package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标定义：
// - http_requests_total：按路由与方法统计请求次数（附带状态码标签）
// - http_request_duration_seconds：按路由与方法统计请求耗时分布
// - appointments_booked_total / appointments_confirmed_total：预约漏斗
// - emails_sent_total：按模板与结果统计邮件发送
// - chat_messages_total：按意图统计聊天消息
// - weather_fetch_total：天气接口调用结果（hit/miss/error）
var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP 请求计数（按路由/方法/状态）"},
		[]string{"path", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP 请求耗时（秒）", Buckets: prometheus.DefBuckets},
		[]string{"path", "method"},
	)
	AppointmentsBooked    = prometheus.NewCounter(prometheus.CounterOpts{Name: "appointments_booked_total", Help: "新建预约数"})
	AppointmentsConfirmed = prometheus.NewCounter(prometheus.CounterOpts{Name: "appointments_confirmed_total", Help: "客户确认的预约数"})
	EmailsSent            = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "emails_sent_total", Help: "邮件发送计数（按模板/结果）"},
		[]string{"template", "outcome"},
	)
	ChatMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chat_messages_total", Help: "聊天消息计数（按意图）"},
		[]string{"intent"},
	)
	WeatherFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weather_fetch_total", Help: "天气查询计数（按结果）"},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPLatency, AppointmentsBooked, AppointmentsConfirmed, EmailsSent, ChatMessages, WeatherFetches)
}

// Handler 返回记录基础 HTTP 指标的中间件（QPS/耗时）。
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		// 未匹配路由统一归为 unmatched
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPLatency.WithLabelValues(path, c.Request.Method).Observe(dur)
		HTTPRequests.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Exposer 返回标准 Prometheus 暴露处理器。
func Exposer() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }
