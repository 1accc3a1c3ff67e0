package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有指标注册在私有 Registry 上，测试中可以重复创建。
// 方法对 nil 接收者安全，未启用监控时直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated prometheus.Counter
	InboxReads       *prometheus.CounterVec

	// 入站邮件指标
	InboundMessages    *prometheus.CounterVec
	Deliveries         prometheus.Counter
	DeliveryDrops      *prometheus.CounterVec
	InboundProcessTime prometheus.Histogram

	// 外发与持久化
	OutboundSends  *prometheus.CounterVec
	PersistResults *prometheus.CounterVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempinbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempinbox_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		InboxReads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_inbox_reads_total",
				Help: "Inbox reads by result (ok, expired, error)",
			},
			[]string{"result"},
		),

		InboundMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_inbound_messages_total",
				Help: "Inbound SMTP messages by outcome (accepted, rejected, failed)",
			},
			[]string{"outcome"},
		),

		Deliveries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempinbox_deliveries_total",
				Help: "Messages appended to a mailbox log",
			},
		),

		DeliveryDrops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_delivery_drops_total",
				Help: "Recipients silently dropped, by reason",
			},
			[]string{"reason"},
		),

		InboundProcessTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempinbox_inbound_processing_seconds",
				Help:    "Time spent parsing and routing one inbound message",
				Buckets: prometheus.DefBuckets,
			},
		),

		OutboundSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_outbound_sends_total",
				Help: "Outbound relay attempts by result",
			},
			[]string{"result"},
		),

		PersistResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_persist_results_total",
				Help: "Persistence sink writes by result (ok, error, dropped)",
			},
			[]string{"result"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempinbox_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_rate_limit_blocks_total",
				Help: "Requests or connections rejected by a rate limit",
			},
			[]string{"type"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMailboxCreated 记录邮箱创建
func (m *Metrics) RecordMailboxCreated() {
	if m == nil {
		return
	}
	m.MailboxesCreated.Inc()
}

// RecordInboxRead 记录收件箱读取
func (m *Metrics) RecordInboxRead(result string) {
	if m == nil {
		return
	}
	m.InboxReads.WithLabelValues(result).Inc()
}

// RecordInbound 记录一封入站邮件的处理结果和耗时
func (m *Metrics) RecordInbound(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(outcome).Inc()
	m.InboundProcessTime.Observe(duration.Seconds())
}

// RecordDelivery 记录一次成功追加
func (m *Metrics) RecordDelivery() {
	if m == nil {
		return
	}
	m.Deliveries.Inc()
}

// RecordDrop 记录一次静默丢弃
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.DeliveryDrops.WithLabelValues(reason).Inc()
}

// RecordSend 记录外发结果
func (m *Metrics) RecordSend(result string) {
	if m == nil {
		return
	}
	m.OutboundSends.WithLabelValues(result).Inc()
}

// RecordPersist 记录持久化结果
func (m *Metrics) RecordPersist(result string) {
	if m == nil {
		return
	}
	m.PersistResults.WithLabelValues(result).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// Registry 返回私有注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
