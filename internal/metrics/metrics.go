// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(operation, outcome string)
	RecordAuthLatency(operation string, duration time.Duration)
	RecordRateLimited(endpoint string)
	RecordTokensIssued(kind string)
	RecordOAuthCallback(provider, outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts   *prometheus.CounterVec
	authLatency    *prometheus.HistogramVec
	rateLimited    *prometheus.CounterVec
	tokensIssued   *prometheus.CounterVec
	oauthCallbacks *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_auth_attempts_total",
			Help: "認証操作の試行数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		authLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authcore_auth_latency_seconds",
			Help:    "認証操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_rate_limited_total",
			Help: "アドミッションゲートで拒否されたリクエスト数",
		}, []string{"endpoint"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_tokens_issued_total",
			Help: "発行したトークン数（種別別）",
		}, []string{"kind"}),
		oauthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_oauth_callbacks_total",
			Help: "OAuthコールバックの処理数（プロバイダー・結果別）",
		}, []string{"provider", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.authLatency,
		c.rateLimited,
		c.tokensIssued,
		c.oauthCallbacks,
		c.httpStatus,
	)

	return c
}

// RecordAuthAttempt は認証操作の結果を記録する。
func (c *Collector) RecordAuthAttempt(operation, outcome string) {
	c.authAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordAuthLatency は認証操作のレイテンシを記録する。
func (c *Collector) RecordAuthLatency(operation string, duration time.Duration) {
	c.authLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRateLimited はゲートでの拒否を記録する。
func (c *Collector) RecordRateLimited(endpoint string) {
	c.rateLimited.WithLabelValues(endpoint).Inc()
}

// RecordTokensIssued はトークン発行を記録する。
func (c *Collector) RecordTokensIssued(kind string) {
	c.tokensIssued.WithLabelValues(kind).Inc()
}

// RecordOAuthCallback はOAuthコールバックの結果を記録する。
func (c *Collector) RecordOAuthCallback(provider, outcome string) {
	c.oauthCallbacks.WithLabelValues(provider, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordAuthAttempt(string, string)        {}
func (NopCollector) RecordAuthLatency(string, time.Duration) {}
func (NopCollector) RecordRateLimited(string)                {}
func (NopCollector) RecordTokensIssued(string)               {}
func (NopCollector) RecordOAuthCallback(string, string)      {}
func (NopCollector) RecordHTTPStatus(int)                    {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
