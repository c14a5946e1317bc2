// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 workflow.Observer
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 工作流指标
	instancesStarted    *prometheus.CounterVec
	actionsTotal        *prometheus.CounterVec
	statusTransitions   *prometheus.CounterVec
	escalationsTotal    *prometheus.CounterVec
	timeoutsUnhandled   prometheus.Counter
	notificationsQueued *prometheus.CounterVec
	scanDuration        prometheus.Histogram
	scanInstances       prometheus.Counter
	scanEscalated       prometheus.Counter

	// 数据库指标
	dbConnectionsOpen  *prometheus.GaugeVec
	dbConnectionsIdle  *prometheus.GaugeVec
	dbConnectionsInUse *prometheus.GaugeVec

	// 缓存指标
	cacheRequests *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到 prometheus.DefaultRegisterer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
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

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 工作流指标
	c.instancesStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "instances_started_total",
			Help:      "Total number of workflow instances started",
		},
		[]string{"route"},
	)

	c.actionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "actions_total",
			Help:      "Total number of approval actions processed",
		},
		[]string{"action", "outcome"},
	)

	c.statusTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "status_transitions_total",
			Help:      "Total number of workflow instance status transitions",
		},
		[]string{"from", "to"},
	)

	c.escalationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "escalations_total",
			Help:      "Total number of escalations",
		},
		[]string{"condition"},
	)

	c.timeoutsUnhandled = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "timeouts_unhandled_total",
			Help:      "Timed out steps without an applicable timeout escalation path",
		},
	)

	c.notificationsQueued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "notifications_enqueued_total",
			Help:      "Total number of notifications enqueued",
		},
		[]string{"type"},
	)

	c.scanDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "timeout_scan_duration_seconds",
			Help:      "Timeout scan duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	c.scanInstances = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "timeout_scan_instances_total",
			Help:      "Total number of instances inspected by timeout scans",
		},
	)

	c.scanEscalated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "timeout_scan_escalated_total",
			Help:      "Total number of instances escalated by timeout scans",
		},
	)

	// 数据库指标
	c.cacheRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by cache name and result",
		},
		[]string{"cache", "result"},
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsInUse = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_in_use",
			Help:      "Number of database connections in use",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 📋 工作流指标记录
// =============================================================================

// InstanceStarted 记录实例创建
func (c *Collector) InstanceStarted(routeName string) {
	c.instancesStarted.WithLabelValues(routeName).Inc()
}

// ActionProcessed 记录审批动作及结果
func (c *Collector) ActionProcessed(action, outcome string) {
	c.actionsTotal.WithLabelValues(action, outcome).Inc()
}

// StatusChanged 记录状态迁移
func (c *Collector) StatusChanged(from, to string) {
	c.statusTransitions.WithLabelValues(from, to).Inc()
}

// Escalated 记录升级
func (c *Collector) Escalated(condition string) {
	c.escalationsTotal.WithLabelValues(condition).Inc()
}

// TimeoutUnhandled 记录没有超时升级路径的超时步骤
func (c *Collector) TimeoutUnhandled() {
	c.timeoutsUnhandled.Inc()
}

// NotificationEnqueued 记录通知入队
func (c *Collector) NotificationEnqueued(notificationType string) {
	c.notificationsQueued.WithLabelValues(notificationType).Inc()
}

// TimeoutScanCompleted 记录一次超时扫描
func (c *Collector) TimeoutScanCompleted(duration time.Duration, scanned, escalated int) {
	c.scanDuration.Observe(duration.Seconds())
	c.scanInstances.Add(float64(scanned))
	c.scanEscalated.Add(float64(escalated))
}

// =============================================================================
// 🗄️ 缓存与数据库指标记录
// =============================================================================

// RecordCacheLookup 记录一次缓存查询，可直接作为 cache.WithHitHook 的回调
func (c *Collector) RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheRequests.WithLabelValues(cache, result).Inc()
}

// RecordDBConnections 记录连接池状态
func (c *Collector) RecordDBConnections(database string, open, idle, inUse int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
	c.dbConnectionsInUse.WithLabelValues(database).Set(float64(inUse))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
