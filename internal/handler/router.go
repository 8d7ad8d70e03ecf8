package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/middleware"
	"github.com/hitoshi/authcore/internal/model"
)

// gateEndpointCredentials は資格情報を送信するエンドポイント（register, login）が共有するゲートのendpoint名。
// 同じクライアントのregisterとloginは1つのカウンタで数える。
const gateEndpointCredentials = "credentials"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	TokenVerifier     middleware.TokenVerifier
	AdmissionGate     middleware.AdmissionGate

	// TrustedProxies は転送ヘッダーを信頼するピアのアドレス範囲。空なら転送ヘッダーは無視する。
	TrustedProxies []netip.Prefix

	// メトリクス
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// ヘルスチェック対象（名前 → チェッカー）
	HealthCheckers map[string]HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	TrustedProxy → Recovery → Logging → HTTPMetrics → SecurityHeaders → CORS
//
// アドミッションゲートは/api/auth/registerと/api/auth/loginにのみ適用し、
// Bearer認証は/api/users配下にのみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewTrustedProxyMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewHTTPMetricsMiddleware(mc))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthCheckers))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Route("/api/auth", func(r chi.Router) {
		// 総当たり対策のゲートはボディ解析より前に置く
		gate := middleware.NewAdmissionMiddleware(deps.AdmissionGate, gateEndpointCredentials, mc)
		r.With(gate).Post("/register", authHandler.Register)
		r.With(gate).Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)

		// OAuthフロー
		r.Get("/{provider}", authHandler.OAuthLogin)
		r.Get("/{provider}/callback", authHandler.OAuthCallback)
	})

	// --- 認証が必要なルート ---
	r.Route("/api/users", func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.TokenVerifier))

		r.Get("/me", userHandler.GetMe)
		r.Patch("/me", userHandler.UpdateMe)

		// 管理者のみ
		r.With(middleware.RequireRole(model.RoleAdmin)).Get("/", userHandler.List)
	})

	return r
}
