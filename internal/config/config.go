package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 実行環境
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	AppEnv string

	// Database
	DatabaseURL string

	// Redis（アドミッションゲートのカウンタ）
	RedisURL string

	// JWT
	JWTSecret        string
	JWTRefreshSecret string
	JWTIssuer        string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	// Password
	BcryptCost int

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	// FrontendCallbackURL はOAuth完了後のリダイレクト先
	FrontendCallbackURL string

	// Rate Limit
	RateLimitWindow time.Duration
	RateLimitMax    int

	// StoreTimeout は認証操作1回あたりのストア呼び出しの期限
	StoreTimeout time.Duration

	// Seed
	SeedAdminPassword string
	SeedUserPassword  string

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string

	// TrustedProxies はX-Forwarded-For / X-Real-IPを信頼するピアのアドレス範囲
	TrustedProxies []netip.Prefix
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.JWTRefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
	if cfg.JWTRefreshSecret == "" {
		missing = append(missing, "JWT_REFRESH_SECRET")
	}

	cfg.AppEnv = getEnvString("APP_ENV", EnvProduction)
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" && !cfg.IsDevelopment() {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.JWTSecret == cfg.JWTRefreshSecret {
		return nil, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("API_PORT", "8080")
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "authcore")
	cfg.AccessTokenTTL = getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute)
	cfg.RefreshTokenTTL = getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", time.Minute)
	cfg.RateLimitMax = getEnvInt("RATE_LIMIT_MAX", 10)
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.FrontendCallbackURL = getEnvString("FRONTEND_CALLBACK_URL", "http://localhost:3000/auth/callback")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", !cfg.IsDevelopment())

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", defaultCallbackURL(cfg.ServerPort, "google"))
	cfg.GitHubClientID = os.Getenv("GITHUB_CLIENT_ID")
	cfg.GitHubClientSecret = os.Getenv("GITHUB_CLIENT_SECRET")
	cfg.GitHubRedirectURL = getEnvString("GITHUB_REDIRECT_URL", defaultCallbackURL(cfg.ServerPort, "github"))

	proxies, err := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies

	cfg.SeedAdminPassword = os.Getenv("SEED_ADMIN_PASSWORD")
	cfg.SeedUserPassword = os.Getenv("SEED_USER_PASSWORD")

	return cfg, nil
}

// IsDevelopment は開発環境かどうかを返す。
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, EnvDevelopment)
}

// GoogleEnabled はGoogle OAuthのクライアントIDとシークレットが両方設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GitHubEnabled はGitHub OAuthのクライアントIDとシークレットが両方設定されているかを返す。
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// parseTrustedProxies はカンマ区切りのCIDRまたは単一IPを解析する。
// 単一IPはそのアドレスのみを含むプレフィックスとして扱う。
func parseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func defaultCallbackURL(port, provider string) string {
	return fmt.Sprintf("http://localhost:%s/api/auth/%s/callback", port, provider)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
