package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tempmail/relay/internal/domain"
)

// Metrics 监控指标
//
// 所有 Record 方法允许 nil 接收者，未启用监控的组件无需判空。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated prometheus.Counter
	MailboxesExpired prometheus.Counter

	// 邮件指标
	MessagesReceived  prometheus.Counter
	DeliveriesTotal   *prometheus.CounterVec
	SMTPRejections    *prometheus.CounterVec
	AttachmentSize    prometheus.Histogram
	MessageParseTime  prometheus.Histogram
	SMTPSessionsTotal prometheus.Counter

	// 错误指标
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，使用独立的注册表
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
				Name: "tempmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		MailboxesExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_mailboxes_expired_total",
				Help: "Total number of mailboxes removed by the expiry sweep",
			},
		),

		MessagesReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_messages_received_total",
				Help: "Total number of messages accepted for a live mailbox",
			},
		),

		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_deliveries_total",
				Help: "Push delivery attempts by outcome",
			},
			[]string{"outcome"},
		),

		SMTPRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_smtp_rejections_total",
				Help: "SMTP commands rejected by reason",
			},
			[]string{"reason"},
		),

		AttachmentSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempmail_attachment_size_bytes",
				Help:    "Attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 14),
			},
		),

		MessageParseTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempmail_message_parse_duration_seconds",
				Help:    "Time spent parsing inbound messages",
				Buckets: prometheus.DefBuckets,
			},
		),

		SMTPSessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_smtp_sessions_total",
				Help: "Total number of inbound SMTP sessions",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_rate_limit_blocks_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),
	}
}

// RegisterStats 注册基于目录统计的 Gauge
func (m *Metrics) RegisterStats(stats func() domain.Stats) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tempmail_mailboxes_active",
				Help: "Number of live mailboxes",
			},
			func() float64 { return float64(stats().ActiveEmails) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tempmail_websocket_connections_active",
				Help: "Number of bound notification channels",
			},
			func() float64 { return float64(stats().ActiveConnections) },
		),
	)
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

// RecordMailboxesExpired 记录清理掉的过期邮箱
func (m *Metrics) RecordMailboxesExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.MailboxesExpired.Add(float64(count))
}

// RecordMessageReceived 记录邮件接收
func (m *Metrics) RecordMessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

// RecordDelivery 记录推送结果：delivered / no_subscriber / send_failed
func (m *Metrics) RecordDelivery(outcome string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(outcome).Inc()
}

// RecordSMTPRejection 记录 SMTP 拒绝原因
func (m *Metrics) RecordSMTPRejection(reason string) {
	if m == nil {
		return
	}
	m.SMTPRejections.WithLabelValues(reason).Inc()
}

// RecordSMTPSession 记录新的 SMTP 会话
func (m *Metrics) RecordSMTPSession() {
	if m == nil {
		return
	}
	m.SMTPSessionsTotal.Inc()
}

// RecordAttachmentSize 记录附件大小
func (m *Metrics) RecordAttachmentSize(size int64) {
	if m == nil {
		return
	}
	m.AttachmentSize.Observe(float64(size))
}

// RecordParseTime 记录邮件解析耗时
func (m *Metrics) RecordParseTime(duration time.Duration) {
	if m == nil {
		return
	}
	m.MessageParseTime.Observe(duration.Seconds())
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(scope string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(scope).Inc()
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
