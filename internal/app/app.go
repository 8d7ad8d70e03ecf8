package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authcore/internal/auth"
	"github.com/hitoshi/authcore/internal/config"
	"github.com/hitoshi/authcore/internal/database"
	"github.com/hitoshi/authcore/internal/handler"
	"github.com/hitoshi/authcore/internal/logger"
	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/ratelimit"
	"github.com/hitoshi/authcore/internal/repository"
	"github.com/hitoshi/authcore/internal/security"
	"github.com/hitoshi/authcore/internal/user"
)

// startupPingTimeout は起動時の疎通確認1回あたりの期限。
const startupPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログレベルを変更
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info", slog.String("error", err.Error()))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("API_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("env", cfg.AppEnv),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// PostgreSQLとカウンタストアへの疎通を確認してから全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. カウンタストア
	store, closeStore, err := newCounterStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. ルーターの構築
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router, err := buildRouter(cfg, db, store, reg)
	if err != nil {
		return err
	}

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildRouter はリポジトリ・サービス・ゲートをワイヤリングし、HTTPハンドラーを返す。
func buildRouter(cfg *config.Config, db *sql.DB, store ratelimit.CounterStore, reg *prometheus.Registry) (http.Handler, error) {
	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)

	// セキュリティ
	hasher := security.NewPasswordHasher(cfg.BcryptCost)
	tokens, err := security.NewTokenCodec(security.TokenConfig{
		AccessSecret:  cfg.JWTSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshSecret: cfg.JWTRefreshSecret,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.JWTIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	// ドメインサービス
	collector := metrics.NewCollector(reg)
	resolver := auth.NewResolver(userRepo, identRepo, hasher)
	authService := auth.NewService(resolver, tokens, buildProviders(cfg), collector, auth.ServiceConfig{
		StoreTimeout: cfg.StoreTimeout,
	})
	userService := user.NewService(userRepo)

	slog.Info("oauth providers configured", slog.Any("providers", authService.Providers()))

	gate := ratelimit.NewGate(store, ratelimit.Config{
		Window:      cfg.RateLimitWindow,
		MaxAttempts: int64(cfg.RateLimitMax),
	})

	return handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustedProxies:    cfg.TrustedProxies,
		TokenVerifier:     tokens,
		AdmissionGate:     gate,
		Metrics:           collector,
		MetricsGatherer:   reg,
		HealthCheckers: map[string]handler.HealthChecker{
			"postgres": handler.HealthCheckerFunc(db.PingContext),
			"counter":  gate,
		},
		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendCallbackURL: cfg.FrontendCallbackURL,
			CookieSecure:        cfg.CookieSecure,
		},
		UserService: userService,
	}), nil
}

// buildProviders はクライアントIDとシークレットが設定されたプロバイダーのみを返す。
func buildProviders(cfg *config.Config) []auth.OAuthProvider {
	var providers []auth.OAuthProvider
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}))
	}
	if cfg.GitHubEnabled() {
		providers = append(providers, auth.NewGitHubOAuthProvider(auth.GitHubOAuthConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
		}))
	}
	return providers
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, startupPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newCounterStore はアドミッションゲートのカウンタストアを生成する。
// REDIS_URLが設定されていればRedisを使用し、起動時に疎通を確認する。
// 開発環境でREDIS_URLが未設定の場合のみプロセス内のMemoryStoreを使用する。
func newCounterStore(ctx context.Context, cfg *config.Config) (ratelimit.CounterStore, func(), error) {
	if cfg.RedisURL == "" {
		if !cfg.IsDevelopment() {
			return nil, nil, errors.New("REDIS_URL is required outside development")
		}
		slog.Warn("REDIS_URL is not set; using in-memory rate counters (single instance only)")
		mem := ratelimit.NewMemoryStore(cfg.RateLimitWindow)
		return mem, mem.Stop, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	store := ratelimit.NewRedisStore(client, ratelimit.DefaultKeyPrefix)

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established", slog.String("addr", opts.Addr))
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Error("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	return store, closeFn, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runSeed は管理者と一般ユーザーの初期アカウントを投入する。
// パスワードはSEED_ADMIN_PASSWORD / SEED_USER_PASSWORDから読み込む。
func runSeed(ctx context.Context, cfg *config.Config) error {
	if cfg.SeedAdminPassword == "" && cfg.SeedUserPassword == "" {
		return errors.New("SEED_ADMIN_PASSWORD or SEED_USER_PASSWORD must be set")
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	hasher := security.NewPasswordHasher(cfg.BcryptCost)
	accounts := user.DefaultSeedAccounts(cfg.SeedAdminPassword, cfg.SeedUserPassword)

	seeded, err := user.Seed(ctx, repository.NewPostgresUserRepo(db), hasher, accounts)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	slog.Info("seed completed", slog.Int("accounts", len(seeded)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
