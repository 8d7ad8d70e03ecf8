package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout は依存先1件あたりの疎通確認の期限。
const healthCheckTimeout = 2 * time.Second

// HealthChecker は依存先の疎通確認を行う。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckerFunc は関数をHealthCheckerとして扱うためのアダプタ。
type HealthCheckerFunc func(ctx context.Context) error

// Ping はf(ctx)を呼び出す。
func (f HealthCheckerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewHealthHandler はすべての依存先が応答する場合に200、いずれかが失敗した場合に503を返すハンドラーを生成する。
// エラーの詳細はログのみに記録する。
func NewHealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checkers))}
		status := http.StatusOK

		for name, checker := range checkers {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := checker.Ping(ctx)
			cancel()

			if err != nil {
				slog.Warn("health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		writeJSON(w, status, resp)
	}
}
