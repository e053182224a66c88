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
// 所有指标注册在独立的 Registry 上，便于测试中重复创建。
// nil *Metrics 的记录方法均为空操作。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated  prometheus.Counter
	MailboxesEvicted  *prometheus.CounterVec
	MarkDeleteRetries prometheus.Counter

	// 远程服务指标
	ProviderErrors  *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	// 存储指标
	StorageErrors *prometheus.CounterVec

	// 会话指标
	SessionsOpened   prometheus.Counter
	SessionsResolved *prometheus.CounterVec

	// 用户指标
	UsersRegistered prometheus.Counter

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
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

		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbot_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailbot_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		// 邮箱指标
		MailboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbot_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		MailboxesEvicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbot_mailboxes_evicted_total",
				Help: "Total number of mailboxes removed, by reason",
			},
			[]string{"reason"},
		),

		MarkDeleteRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbot_mark_deleted_retries_total",
				Help: "Total number of retried mark-deleted store writes",
			},
		),

		// 远程服务指标
		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbot_provider_errors_total",
				Help: "Total number of failed provider calls",
			},
			[]string{"operation"},
		),

		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailbot_provider_call_duration_seconds",
				Help:    "Provider call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		// 存储指标
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbot_storage_errors_total",
				Help: "Total number of failed store operations",
			},
			[]string{"operation"},
		),

		// 会话指标
		SessionsOpened: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbot_selection_sessions_opened_total",
				Help: "Total number of selection sessions opened",
			},
		),

		SessionsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbot_selection_sessions_closed_total",
				Help: "Total number of selection sessions closed, by outcome",
			},
			[]string{"outcome"},
		),

		// 用户指标
		UsersRegistered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbot_users_registered_total",
				Help: "Total number of users registered",
			},
		),

		// 错误指标
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbot_errors_total",
				Help: "Total number of errors",
			},
			[]string{"error_type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbot_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
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

// RecordMailboxEvicted 记录邮箱移除，reason 为 capacity 或 user
func (m *Metrics) RecordMailboxEvicted(reason string) {
	if m == nil {
		return
	}
	m.MailboxesEvicted.WithLabelValues(reason).Inc()
}

// RecordMarkDeleteRetry 记录标记删除重试
func (m *Metrics) RecordMarkDeleteRetry() {
	if m == nil {
		return
	}
	m.MarkDeleteRetries.Inc()
}

// ObserveProviderCall 记录远程调用耗时与失败
func (m *Metrics) ObserveProviderCall(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.ProviderErrors.WithLabelValues(operation).Inc()
	}
}

// RecordStorageError 记录存储失败
func (m *Metrics) RecordStorageError(operation string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(operation).Inc()
}

// RecordSessionOpened 记录会话打开
func (m *Metrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
}

// RecordSessionClosed 记录会话结束，outcome 为 resolved、cancelled 或 expired
func (m *Metrics) RecordSessionClosed(outcome string) {
	if m == nil {
		return
	}
	m.SessionsResolved.WithLabelValues(outcome).Inc()
}

// RecordUserRegistered 记录用户注册
func (m *Metrics) RecordUserRegistered() {
	if m == nil {
		return
	}
	m.UsersRegistered.Inc()
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

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
