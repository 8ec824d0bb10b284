package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 收件人处理结果标签
const (
	OutcomeStored     = "stored"
	OutcomeFailed     = "failed"
	OutcomeUnresolved = "unresolved"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 入站指标
	MessagesIngested   prometheus.Counter
	MessagesDropped    prometheus.Counter
	IngestRecipients   *prometheus.CounterVec
	InboundMessageSize prometheus.Histogram

	// 出站指标
	SendsTotal    *prometheus.CounterVec
	DraftsSaved   prometheus.Counter
	SendDuration  prometheus.Histogram
	AttachmentLen prometheus.Histogram

	// 通知指标
	NotificationsPublished *prometheus.CounterVec
	NotificationsDropped   prometheus.Counter

	// 存储指标
	StoreOperationDuration *prometheus.HistogramVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，注册到独立的 registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MessagesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "vmail_messages_ingested_total",
			Help: "Inbound messages that produced at least one mailbox copy",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vmail_messages_dropped_total",
			Help: "Inbound messages with no resolvable recipient",
		}),
		IngestRecipients: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_ingest_recipients_total",
				Help: "Inbound recipients by outcome",
			},
			[]string{"outcome"},
		),
		InboundMessageSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vmail_inbound_message_size_bytes",
			Help:    "Raw inbound message size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		SendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_sends_total",
				Help: "Outbound sends by outcome",
			},
			[]string{"outcome"},
		),
		DraftsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "vmail_drafts_saved_total",
			Help: "Drafts saved",
		}),
		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vmail_send_duration_seconds",
			Help:    "Time spent handing a message to the transport agent",
			Buckets: prometheus.DefBuckets,
		}),
		AttachmentLen: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vmail_attachment_size_bytes",
			Help:    "Decoded attachment size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		NotificationsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_notifications_published_total",
				Help: "New-mail notifications by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vmail_notifications_dropped_total",
			Help: "New-mail notifications dropped because the dispatch queue was full",
		}),

		StoreOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vmail_store_operation_duration_seconds",
				Help:    "Store operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"store", "operation"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_errors_total",
				Help: "Errors by kind and component",
			},
			[]string{"kind", "component"},
		),
		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vmail_panics_total",
			Help: "Recovered panics",
		}),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_rate_limit_blocks_total",
				Help: "Sessions rejected by rate limiting",
			},
			[]string{"limit_type"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngest 记录一次入站处理的结果
func (m *Metrics) RecordIngest(size int, stored, failed, unresolved int) {
	m.InboundMessageSize.Observe(float64(size))
	m.IngestRecipients.WithLabelValues(OutcomeStored).Add(float64(stored))
	m.IngestRecipients.WithLabelValues(OutcomeFailed).Add(float64(failed))
	m.IngestRecipients.WithLabelValues(OutcomeUnresolved).Add(float64(unresolved))
	if stored > 0 {
		m.MessagesIngested.Inc()
	} else if failed == 0 {
		m.MessagesDropped.Inc()
	}
}

// RecordSend 记录发送结果
func (m *Metrics) RecordSend(outcome string, duration time.Duration) {
	m.SendsTotal.WithLabelValues(outcome).Inc()
	m.SendDuration.Observe(duration.Seconds())
}

// RecordDraft 记录保存草稿
func (m *Metrics) RecordDraft() {
	m.DraftsSaved.Inc()
}

// RecordAttachmentSize 记录附件大小
func (m *Metrics) RecordAttachmentSize(size int64) {
	m.AttachmentLen.Observe(float64(size))
}

// RecordNotification 记录通知发布结果
func (m *Metrics) RecordNotification(channel string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.NotificationsPublished.WithLabelValues(channel, outcome).Inc()
}

// RecordNotificationDropped 记录因队列满被丢弃的通知
func (m *Metrics) RecordNotificationDropped() {
	m.NotificationsDropped.Inc()
}

// ObserveStore 记录存储操作耗时
func (m *Metrics) ObserveStore(store, operation string, start time.Time) {
	m.StoreOperationDuration.WithLabelValues(store, operation).Observe(time.Since(start).Seconds())
}

// RecordError 记录错误
func (m *Metrics) RecordError(kind, component string) {
	m.ErrorsTotal.WithLabelValues(kind, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// HTTPHandler 返回 /metrics 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
