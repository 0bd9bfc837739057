package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	runBuckets  = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300}
	sizeBuckets = prometheus.ExponentialBuckets(100, 10, 8)
)

// httpMetrics 按路由模板统计请求
type httpMetrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	requestSize  *prometheus.HistogramVec
	responseSize *prometheus.HistogramVec
}

// engineMetrics 覆盖运行、节点与控制流事件
type engineMetrics struct {
	runs              *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	nodes             *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
	catches           *prometheus.CounterVec
	loopIterations    *prometheus.CounterVec
	recursionRejected *prometheus.CounterVec
}

// storeMetrics 覆盖定义缓存与 SQL 后端
type storeMetrics struct {
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	dbOpen      *prometheus.GaugeVec
	dbIdle      *prometheus.GaugeVec
	dbQuery     *prometheus.HistogramVec
}

// Collector 实现 workflow.MetricsRecorder、store 的缓存/查询记录接口以及
// database.StatsRecorder，所有指标共享一个命名空间。
type Collector struct {
	namespace string
	factory   promauto.Factory
	logger    *zap.Logger

	http   httpMetrics
	engine engineMetrics
	store  storeMetrics
}

// NewCollector 注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 注册到指定 Registerer，测试用独立 Registry 避免重复注册
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		namespace: namespace,
		factory:   promauto.With(reg),
		logger:    logger.With(zap.String("component", "metrics")),
	}

	c.http = httpMetrics{
		requests:     c.counter("http_requests_total", "Total number of HTTP requests", "method", "path", "status"),
		duration:     c.histogram("http_request_duration_seconds", "HTTP request duration in seconds", prometheus.DefBuckets, "method", "path"),
		requestSize:  c.histogram("http_request_size_bytes", "HTTP request size in bytes", sizeBuckets, "method", "path"),
		responseSize: c.histogram("http_response_size_bytes", "HTTP response size in bytes", sizeBuckets, "method", "path"),
	}

	c.engine = engineMetrics{
		runs:              c.counter("workflow_runs_total", "Workflow runs by final status", "workflow_id", "status"),
		runDuration:       c.histogram("workflow_run_duration_seconds", "Workflow run duration in seconds", runBuckets, "workflow_id"),
		nodes:             c.counter("node_executions_total", "Node executions by node type and status", "node_type", "status"),
		nodeDuration:      c.histogram("node_execution_duration_seconds", "Node execution duration in seconds", prometheus.DefBuckets, "node_type"),
		catches:           c.counter("workflow_catches_total", "Errors redirected to a catch branch", "workflow_id"),
		loopIterations:    c.counter("workflow_loop_iterations_total", "Loop iterations started", "workflow_id"),
		recursionRejected: c.counter("workflow_recursion_rejected_total", "Sub-workflow calls rejected as recursive", "workflow_id"),
	}

	c.store = storeMetrics{
		cacheHits:   c.counter("cache_hits_total", "Definition cache hits", "cache_type"),
		cacheMisses: c.counter("cache_misses_total", "Definition cache misses", "cache_type"),
		dbOpen: c.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "db_connections_open", Help: "Open database connections",
		}, []string{"database"}),
		dbIdle: c.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "db_connections_idle", Help: "Idle database connections",
		}, []string{"database"}),
		dbQuery: c.histogram("db_query_duration_seconds", "Store query duration in seconds", prometheus.DefBuckets, "database", "operation"),
	}

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

func (c *Collector) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return c.factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func (c *Collector) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return c.factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

// WatchActiveRuns 注册一个按需读取的 gauge，抓取时调用 fn 获取在途运行数。
// 每个 Collector 只能调用一次。
func (c *Collector) WatchActiveRuns(fn func() int64) {
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      "workflow_runs_in_flight",
		Help:      "Top-level workflow runs currently executing",
	}, func() float64 { return float64(fn()) })
}

// RecordHTTPRequest 记录一次 HTTP 请求，path 应为路由模板而非原始 URL
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.http.requests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.http.duration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.http.requestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.http.responseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordRun status 取值：completed、completed_with_errors、failed
func (c *Collector) RecordRun(workflowID, status string, duration time.Duration) {
	c.engine.runs.WithLabelValues(workflowID, status).Inc()
	c.engine.runDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
}

func (c *Collector) RecordNodeExecution(nodeType, status string, duration time.Duration) {
	c.engine.nodes.WithLabelValues(nodeType, status).Inc()
	c.engine.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

func (c *Collector) RecordCatch(workflowID string) {
	c.engine.catches.WithLabelValues(workflowID).Inc()
}

func (c *Collector) RecordLoopIteration(workflowID string) {
	c.engine.loopIterations.WithLabelValues(workflowID).Inc()
}

func (c *Collector) RecordRecursionRejected(workflowID string) {
	c.engine.recursionRejected.WithLabelValues(workflowID).Inc()
}

func (c *Collector) RecordCacheHit(cacheType string) {
	c.store.cacheHits.WithLabelValues(cacheType).Inc()
}

func (c *Collector) RecordCacheMiss(cacheType string) {
	c.store.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections 由连接池健康检查周期性调用
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.store.dbOpen.WithLabelValues(database).Set(float64(open))
	c.store.dbIdle.WithLabelValues(database).Set(float64(idle))
}

func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.store.dbQuery.WithLabelValues(database, operation).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
