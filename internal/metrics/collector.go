// Package metrics exposes the gateway's prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
)

// Collector 指标收集器，所有指标注册在独立的 Registry 上。
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec

	wsActiveConnections prometheus.Gauge
	wsMessagesTotal     *prometheus.CounterVec

	sessionsExpired prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_duration_seconds",
			Help:      "Duration of each voice turn stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage", "outcome"},
	)
	c.stageErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_stage_errors_total",
			Help:      "Failed voice turn stages by error kind",
		},
		[]string{"stage", "kind"},
	)

	c.wsActiveConnections = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_active_connections",
		Help:      "Number of open websocket connections",
	})
	c.wsMessagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Inbound websocket messages by type",
		},
		[]string{"type"},
	)

	c.sessionsExpired = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_expired_total",
		Help:      "Sessions marked expired by the idle sweeper",
	})

	return c
}

// Registry 返回底层注册表。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 暴露 /metrics。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveStage 记录一个对话阶段的耗时与结果。
func (c *Collector) ObserveStage(stage string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		kind := string(apperror.KindOf(err))
		if kind == "" {
			kind = "unknown"
		}
		c.stageErrors.WithLabelValues(stage, kind).Inc()
	}
	c.stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

// ConnectionOpened / ConnectionClosed 维护活跃连接数。
func (c *Collector) ConnectionOpened() { c.wsActiveConnections.Inc() }

func (c *Collector) ConnectionClosed() { c.wsActiveConnections.Dec() }

// RecordWSMessage 记录一条入站消息。
func (c *Collector) RecordWSMessage(messageType string) {
	c.wsMessagesTotal.WithLabelValues(messageType).Inc()
}

// SessionsExpired 累加过期会话数。
func (c *Collector) SessionsExpired(n int) {
	c.sessionsExpired.Add(float64(n))
}
