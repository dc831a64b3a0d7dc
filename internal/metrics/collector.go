// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，实现 stream.MetricsRecorder
type Collector struct {
	// 字节流指标
	streamsOpen      prometheus.Gauge
	streamsFinished  *prometheus.CounterVec
	bytesEnqueued    prometheus.Counter
	bytesDelivered   *prometheus.CounterVec
	readsTotal       *prometheus.CounterVec
	pullsTotal       prometheus.Counter
	byobResponses    *prometheus.CounterVec
	byobRespondBytes prometheus.Histogram

	// Pipe 指标
	pipesTotal   *prometheus.CounterVec
	pipeBytes    prometheus.Counter
	pipeDuration prometheus.Histogram

	// 连接器指标
	connectorOps      *prometheus.CounterVec
	connectorDuration *prometheus.HistogramVec

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 字节流指标
	c.streamsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "streams_open",
		Help:      "Number of byte streams that are still readable",
	})

	c.streamsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_finished_total",
			Help:      "Total number of byte streams that reached a terminal state",
		},
		[]string{"outcome"},
	)

	c.bytesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_enqueued_bytes_total",
		Help:      "Total bytes handed to streams through enqueue",
	})

	c.bytesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_delivered_bytes_total",
			Help:      "Total bytes delivered to readers",
		},
		[]string{"mode"},
	)

	c.readsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reads_total",
			Help:      "Total number of settled reads",
		},
		[]string{"mode", "outcome"},
	)

	c.pullsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_pulls_total",
		Help:      "Total number of pull algorithm invocations",
	})

	c.byobResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_byob_responses_total",
			Help:      "Total number of BYOB request responses",
		},
		[]string{"kind"},
	)

	c.byobRespondBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stream_byob_respond_bytes",
		Help:      "Bytes reported per BYOB response",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
	})

	// Pipe 指标
	c.pipesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipes_total",
			Help:      "Total number of finished pipes",
		},
		[]string{"status"},
	)

	c.pipeBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipe_bytes_total",
		Help:      "Total bytes written to pipe destinations",
	})

	c.pipeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipe_duration_seconds",
		Help:      "Pipe duration in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	// 连接器指标
	c.connectorOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_operations_total",
			Help:      "Total number of connector operations",
		},
		[]string{"connector", "operation", "status"},
	)

	c.connectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connector_operation_duration_seconds",
			Help:      "Connector operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"connector", "operation"},
	)

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🌊 字节流指标
// =============================================================================

// StreamOpened 记录新建字节流
func (c *Collector) StreamOpened() {
	c.streamsOpen.Inc()
}

// StreamFinished 记录字节流进入终态（closed / errored / canceled）
func (c *Collector) StreamFinished(outcome string) {
	c.streamsOpen.Dec()
	c.streamsFinished.WithLabelValues(outcome).Inc()
}

// BytesEnqueued 记录 enqueue 字节数
func (c *Collector) BytesEnqueued(n int) {
	c.bytesEnqueued.Add(float64(n))
}

// BytesDelivered 记录交付给读者的字节数
func (c *Collector) BytesDelivered(mode string, n int) {
	c.bytesDelivered.WithLabelValues(mode).Add(float64(n))
}

// ReadCompleted 记录读取结果（value / done / error）
func (c *Collector) ReadCompleted(mode, outcome string) {
	c.readsTotal.WithLabelValues(mode, outcome).Inc()
}

// PullStarted 记录 pull 调用
func (c *Collector) PullStarted() {
	c.pullsTotal.Inc()
}

// BYOBResponded 记录 BYOB 响应
func (c *Collector) BYOBResponded(kind string, n int) {
	c.byobResponses.WithLabelValues(kind).Inc()
	c.byobRespondBytes.Observe(float64(n))
}

// PipeCompleted 记录 pipe 结束
func (c *Collector) PipeCompleted(bytes int64, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.pipesTotal.WithLabelValues(status).Inc()
	c.pipeBytes.Add(float64(bytes))
	c.pipeDuration.Observe(d.Seconds())
}

// =============================================================================
// 🔌 连接器与 HTTP 指标
// =============================================================================

// RecordConnectorOp 记录连接器操作（redis / sql / nats / websocket）
func (c *Collector) RecordConnectorOp(connector, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.connectorOps.WithLabelValues(connector, operation, status).Inc()
	c.connectorDuration.WithLabelValues(connector, operation).Observe(duration.Seconds())
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// statusCode 将状态码归类为 2xx/3xx/4xx/5xx
func statusCode(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
