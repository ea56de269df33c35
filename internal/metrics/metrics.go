// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// セッション解決結果のラベル値
const (
	ResolveOK      = "ok"
	ResolveAbsent  = "absent"
	ResolveInvalid = "invalid"
	ResolveError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、セッションゲート、ワーカーから利用する。
type MetricsCollector interface {
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordHistoryWriteFailure()
	RecordSessionResolve(result string)
	RecordLogout()
	RecordSessionsSwept(count int64)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess    prometheus.Counter
	loginFail       *prometheus.CounterVec
	historyWriteErr prometheus.Counter
	sessionResolve  *prometheus.CounterVec
	logout          prometheus.Counter
	sessionsSwept   prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loginlog_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loginlog_login_fail_total",
			Help: "理由別のログイン失敗数",
		}, []string{"reason"}),
		historyWriteErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loginlog_history_write_fail_total",
			Help: "ログイン履歴の書き込み失敗数",
		}),
		sessionResolve: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loginlog_session_resolve_total",
			Help: "結果別のセッション解決数",
		}, []string{"result"}),
		logout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loginlog_logout_total",
			Help: "ログアウトの合計数",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loginlog_sessions_swept_total",
			Help: "期限切れで削除されたセッション数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loginlog_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loginlog_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.historyWriteErr,
		c.sessionResolve,
		c.logout,
		c.sessionsSwept,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を理由付きで記録する。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFail.WithLabelValues(reason).Inc()
}

// RecordHistoryWriteFailure は履歴書き込み失敗を記録する。
func (c *Collector) RecordHistoryWriteFailure() {
	c.historyWriteErr.Inc()
}

// RecordSessionResolve はセッション解決結果を記録する。
func (c *Collector) RecordSessionResolve(result string) {
	c.sessionResolve.WithLabelValues(result).Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout() {
	c.logout.Inc()
}

// RecordSessionsSwept は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	if count > 0 {
		c.sessionsSwept.Add(float64(count))
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordLoginSuccess()                {}
func (NopCollector) RecordLoginFailure(string)          {}
func (NopCollector) RecordHistoryWriteFailure()         {}
func (NopCollector) RecordSessionResolve(string)        {}
func (NopCollector) RecordLogout()                      {}
func (NopCollector) RecordSessionsSwept(int64)          {}
func (NopCollector) RecordHTTPStatus(int)               {}
func (NopCollector) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
