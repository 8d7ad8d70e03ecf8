package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/ratelimit"
)

// rejectLogInterval は拒否ログを出力する最小間隔。
// 攻撃中にログが溢れないよう間引く。
const rejectLogInterval = 10 * time.Second

// AdmissionGate はアドミッション判定に必要なインターフェース。
type AdmissionGate interface {
	Allow(ctx context.Context, endpoint, client string) (ratelimit.Decision, error)
}

// NewAdmissionMiddleware はクライアントIPとendpointの組ごとに試行回数を制限するミドルウェアを返す。
// リクエストボディの解析より前に配置する。
// カウンタストアが利用できない場合はリクエストを通さず500を返す。
func NewAdmissionMiddleware(gate AdmissionGate, endpoint string, mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	rejectLog := &rate.Sometimes{Interval: rejectLogInterval}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)

			decision, err := gate.Allow(r.Context(), endpoint, client)
			if err != nil {
				slog.Error("admission gate unavailable",
					slog.String("endpoint", endpoint),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			writeRateLimitHeaders(w, decision)

			if !decision.Allowed {
				mc.RecordRateLimited(endpoint)
				rejectLog.Do(func() {
					slog.Warn("rate limit exceeded",
						slog.String("endpoint", endpoint),
						slog.String("client", client),
						slog.Int64("count", decision.Count),
					)
				})
				w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(decision.RetryAfter)))
				WriteAPIError(w, model.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimitHeaders はRateLimit-*ヘッダーを設定する。
func writeRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("RateLimit-Remaining", strconv.FormatInt(d.Remaining(), 10))
	w.Header().Set("RateLimit-Reset", strconv.Itoa(ceilSeconds(d.RetryAfter)))
}

// ceilSeconds は秒単位に切り上げる。最小1秒。
func ceilSeconds(d time.Duration) int {
	sec := int(math.Ceil(d.Seconds()))
	if sec < 1 {
		sec = 1
	}
	return sec
}

// clientIP はRemoteAddrからポートを除いたアドレスを返す。
// 転送ヘッダーはNewTrustedProxyMiddlewareが信頼済みプロキシの場合にのみRemoteAddrへ反映する。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
